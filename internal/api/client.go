// Package api is the REST client for the DEX Sniper Pro backend. All
// calls carry a client-generated trace id and a per-operation timeout,
// and every failure comes back classified.
package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/endpoint"
)

const apiPrefix = "/api/v1"

// Per-operation timeout bounds.
const (
	timeoutDefault   = 10 * time.Second
	timeoutStatus    = 10 * time.Second
	timeoutStartStop = 15 * time.Second
	timeoutEmergency = 10 * time.Second
	timeoutHealth    = 5 * time.Second
)

// Client talks to the backend REST surface.
type Client struct {
	resolver *endpoint.Resolver
	http     *http.Client
}

// New creates a REST client over resolver.
func New(resolver *endpoint.Resolver) *Client {
	return &Client{
		resolver: resolver,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewTraceID returns a short correlation token echoed in logs and
// request headers.
func NewTraceID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// do runs one JSON request. Non-2xx responses become *apperr.HTTPError
// with the backend `detail` field when present.
func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	fullURL := c.resolver.HTTP(apiPrefix + path)
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	traceID := NewTraceID()
	req.Header.Set("X-Trace-Id", traceID)

	resp, err := c.http.Do(req)
	if err != nil {
		// Surface the deadline rather than the wrapped transport error.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := resp.Status
		var parsed struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &parsed) == nil && parsed.Detail != "" {
			detail = parsed.Detail
		}
		log.Debug().
			Str("trace_id", traceID).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Backend rejected request")
		return &apperr.HTTPError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ─── Health ───

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health/", nil, &out, timeoutHealth); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Quotes and trades ───

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/quotes/", req, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PreviewTrade(ctx context.Context, req TradeRequest) (*TradePreview, error) {
	var out TradePreview
	if err := c.do(ctx, http.MethodPost, "/trades/preview", req, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeExecuteResult, error) {
	var out TradeExecuteResult
	if err := c.do(ctx, http.MethodPost, "/trades/execute", req, &out, timeoutStartStop); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TradeStatus(ctx context.Context, traceID string) (*TradeStatus, error) {
	var out TradeStatus
	path := "/trades/status/" + url.PathEscape(traceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutStatus); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Autotrade engine ───

func (c *Client) AutotradeStatus(ctx context.Context) (*AutotradeStatus, error) {
	var out AutotradeStatus
	if err := c.do(ctx, http.MethodGet, "/autotrade/status", nil, &out, timeoutStatus); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartAutotrade starts the engine in mode. The mode rides the query
// string; the request has no body.
func (c *Client) StartAutotrade(ctx context.Context, mode string) error {
	path := "/autotrade/start?mode=" + url.QueryEscape(mode)
	return c.do(ctx, http.MethodPost, path, nil, nil, timeoutStartStop)
}

func (c *Client) StopAutotrade(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/autotrade/stop", nil, nil, timeoutStartStop)
}

// EmergencyStop halts the engine through the single dedicated endpoint.
func (c *Client) EmergencyStop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/autotrade/emergency-stop", nil, nil, timeoutEmergency)
}

func (c *Client) SetAutotradeMode(ctx context.Context, mode string) error {
	body := map[string]string{"mode": mode}
	return c.do(ctx, http.MethodPost, "/autotrade/mode", body, nil, timeoutDefault)
}

func (c *Client) ConfigureQueue(ctx context.Context, cfg json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/autotrade/queue/config", cfg, nil, timeoutDefault)
}

func (c *Client) ClearQueue(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/autotrade/queue/clear", nil, nil, timeoutDefault)
}

func (c *Client) Queue(ctx context.Context) ([]QueueItem, error) {
	var out []QueueItem
	if err := c.do(ctx, http.MethodGet, "/autotrade/queue", nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Activities(ctx context.Context, limit int) ([]Activity, error) {
	var out []Activity
	path := fmt.Sprintf("/autotrade/activities?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportActivities downloads the CSV activity export.
func (c *Client) ExportActivities(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutStartStop)
	defer cancel()

	fullURL := c.resolver.HTTP(apiPrefix + "/autotrade/activities/export")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.HTTPError{StatusCode: resp.StatusCode, Detail: resp.Status}
	}
	return io.ReadAll(resp.Body)
}

// ─── Advanced orders ───

func (c *Client) ActiveOrders(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders/active", nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context, userID string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	path := "/orders/positions/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OrderTypes(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/orders/types", nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder submits an advanced order draft as received from the form
// layer; the draft shape is owned by the backend.
func (c *Client) CreateOrder(ctx context.Context, kind OrderKind, draft json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/orders/"+string(kind), draft, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/orders/cancel/" + url.PathEscape(orderID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, timeoutDefault)
}

// ─── Analytics and ledger ───

// Analytics fetches one analytics report: summary, performance,
// realtime, kpi, or alerts. Period is optional.
func (c *Client) Analytics(ctx context.Context, report, period string) (json.RawMessage, error) {
	path := "/analytics/" + url.PathEscape(report)
	if period != "" {
		path += "?period=" + url.QueryEscape(period)
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

// Ledger fetches positions, transactions, or portfolio-summary for a
// wallet on a chain.
func (c *Client) Ledger(ctx context.Context, view, walletAddress, chain string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("wallet_address", walletAddress)
	q.Set("chain", chain)
	path := "/ledger/" + url.PathEscape(view) + "?" + q.Encode()
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

// ─── Wallets, risk, pairs ───

// WalletBalance fetches one balance, normalizing the backend's two
// response shapes (scalar vs object) at this boundary.
func (c *Client) WalletBalance(ctx context.Context, req BalanceRequest) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodPost, "/wallets/balance", req, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssessRisk(ctx context.Context, req RiskRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/risk/assess", req, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) QuickRisk(ctx context.Context, chain, token string, tradeAmount string) (json.RawMessage, error) {
	path := "/risk/quick/" + url.PathEscape(chain) + "/" + url.PathEscape(token)
	if tradeAmount != "" {
		path += "?trade_amount=" + url.QueryEscape(tradeAmount)
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Tokens(ctx context.Context, chain string, limit int) ([]TokenInfo, error) {
	q := url.Values{}
	q.Set("chain", chain)
	q.Set("limit", fmt.Sprintf("%d", limit))
	var out []TokenInfo
	if err := c.do(ctx, http.MethodGet, "/pairs/tokens?"+q.Encode(), nil, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TokenInfo(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/pairs/token-info", body, &out, timeoutDefault); err != nil {
		return nil, err
	}
	return out, nil
}
