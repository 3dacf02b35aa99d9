package api

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// HealthStatus is the backend /health verdict.
type HealthStatus struct {
	Status        string          `json:"status"` // OK, DEGRADED, ERROR
	Healthy       bool            `json:"healthy"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Subsystems    map[string]bool `json:"subsystems"`
}

// QuoteRequest asks for an aggregated swap quote.
type QuoteRequest struct {
	InputToken  string          `json:"input_token"`
	OutputToken string          `json:"output_token"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Chain       string          `json:"chain"`
	SlippageBps int             `json:"slippage_bps"`
}

// TradeRequest is the shared shape for preview and execute calls. The
// backend defines the full field set; the console passes it through.
type TradeRequest struct {
	InputToken  string          `json:"input_token"`
	OutputToken string          `json:"output_token"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Chain       string          `json:"chain"`
	SlippageBps int             `json:"slippage_bps"`
	Wallet      string          `json:"wallet_address"`
	CanaryTrade bool            `json:"canary_trade,omitempty"`
}

// TradePreview is the backend's dry-run verdict on a trade.
type TradePreview struct {
	Valid            bool            `json:"valid"`
	ExpectedOutput   decimal.Decimal `json:"expected_output"`
	PriceImpact      decimal.Decimal `json:"price_impact"`
	GasEstimate      decimal.Decimal `json:"gas_estimate"`
	TotalCostNative  decimal.Decimal `json:"total_cost_native"`
	ValidationErrors []string        `json:"validation_errors"`
	Warnings         []string        `json:"warnings"`
	TraceID          string          `json:"trace_id"`
}

// TradeExecuteResult acknowledges a submitted trade.
type TradeExecuteResult struct {
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

// TradeStatus reports execution progress for a trace id.
type TradeStatus struct {
	Status             string  `json:"status"` // pending, confirmed, failed
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentStep        string  `json:"current_step"`
	TxHash             string  `json:"tx_hash,omitempty"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// AutotradeStatus is the projection seed read over REST.
type AutotradeStatus struct {
	Mode                  string          `json:"mode"`
	IsRunning             bool            `json:"is_running"`
	UptimeSeconds         float64         `json:"uptime_seconds"`
	QueueSize             int             `json:"queue_size"`
	ActiveTrades          int             `json:"active_trades"`
	NextOpportunityAt     string          `json:"next_opportunity_at,omitempty"`
	OpportunitiesFound    int64           `json:"opportunities_found"`
	OpportunitiesExecuted int64           `json:"opportunities_executed"`
	TotalProfitUSD        decimal.Decimal `json:"total_profit_usd"`
	ErrorRate             float64         `json:"error_rate"`
}

// QueueItem is one queued opportunity, held as received.
type QueueItem = json.RawMessage

// Activity is one autotrade activity row, held as received.
type Activity = json.RawMessage

// OrderKind names an advanced order endpoint.
type OrderKind string

const (
	OrderStopLoss     OrderKind = "stop-loss"
	OrderTakeProfit   OrderKind = "take-profit"
	OrderBracket      OrderKind = "bracket"
	OrderDCA          OrderKind = "dca"
	OrderTrailingStop OrderKind = "trailing-stop"
)

// RiskRequest asks for a token risk assessment.
type RiskRequest struct {
	TokenAddress string          `json:"token_address"`
	Chain        string          `json:"chain"`
	TradeAmount  decimal.Decimal `json:"trade_amount,omitempty"`
}

// BalanceRequest asks for one wallet balance.
type BalanceRequest struct {
	Address      string `json:"address"`
	Chain        string `json:"chain"`
	TokenAddress string `json:"token_address,omitempty"`
}

// Balance normalizes the backend's two balance shapes: a bare scalar or
// an object carrying a `balance` field.
type Balance struct {
	Amount decimal.Decimal
	Symbol string
}

// UnmarshalJSON accepts `1.5`, `"1.5"`, and `{"balance": 1.5, ...}`.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var scalar decimal.Decimal
	if err := json.Unmarshal(data, &scalar); err == nil {
		b.Amount = scalar
		return nil
	}

	var obj struct {
		Balance decimal.Decimal `json:"balance"`
		Symbol  string          `json:"symbol"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unrecognized balance shape: %w", err)
	}
	b.Amount = obj.Balance
	b.Symbol = obj.Symbol
	return nil
}

// TokenInfo is one tradable token row, held as received.
type TokenInfo = json.RawMessage
