package autotrade

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dexsniper/snipectl/internal/wsclient"
)

type engineStatusEvent struct {
	Mode              string  `json:"mode"`
	IsRunning         bool    `json:"is_running"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	QueueSize         int     `json:"queue_size"`
	ActiveTrades      int     `json:"active_trades"`
	NextOpportunityAt string  `json:"next_opportunity_at"`
}

type tradeExecutedEvent struct {
	TradeID   string          `json:"trade_id"`
	ProfitUSD decimal.Decimal `json:"profit_usd"`
}

type riskAlertEvent struct {
	Severity      string `json:"severity"`
	AlertType     string `json:"alert_type"`
	Message       string `json:"message"`
	DisableEngine bool   `json:"disable_engine"`
}

type metricsUpdateEvent struct {
	OpportunitiesFound    *int64           `json:"opportunities_found"`
	OpportunitiesExecuted *int64           `json:"opportunities_executed"`
	TotalProfitUSD        *decimal.Decimal `json:"total_profit_usd"`
	ErrorRate             *float64         `json:"error_rate"`
}

type errorEvent struct {
	Message string `json:"message"`
}

// apply folds one stream event into the projection. Returns true when
// the projection changed and subscribers should be notified.
func (a *Aggregator) apply(msg wsclient.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.proj.FreshnessAt = msg.ReceivedAt

	switch msg.Type {
	case "engine_status":
		var ev engineStatusEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("Malformed engine_status event")
			return true
		}
		a.proj.Engine.Mode = ev.Mode
		a.proj.Engine.Running = ev.IsRunning
		a.proj.Engine.UptimeSeconds = ev.UptimeSeconds
		a.proj.Engine.QueueSize = ev.QueueSize
		a.proj.Engine.ActiveTrades = ev.ActiveTrades
		a.proj.Engine.NextOpportunityAt = parseTime(ev.NextOpportunityAt)
		return true

	case "trade_executed":
		var ev tradeExecutedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("Malformed trade_executed event")
			return true
		}
		a.proj.Metrics.OpportunitiesExecuted++
		a.proj.Metrics.TotalProfitUSD = a.proj.Metrics.TotalProfitUSD.Add(ev.ProfitUSD)
		a.proj.Metrics.LastTradeAt = msg.ReceivedAt
		a.proj.Metrics.LastUpdated = msg.ReceivedAt
		a.recomputeSuccessRateLocked()
		return true

	case "opportunity_found":
		a.proj.Metrics.OpportunitiesFound++
		a.proj.Metrics.LastOpportunityAt = msg.ReceivedAt
		a.proj.Metrics.LastUpdated = msg.ReceivedAt
		a.recomputeSuccessRateLocked()
		return true

	case "risk_alert":
		var ev riskAlertEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("Malformed risk_alert event")
			return true
		}
		a.proj.LastAlert = &Alert{
			Severity: ev.Severity,
			Type:     ev.AlertType,
			Message:  ev.Message,
			At:       msg.ReceivedAt,
		}
		if ev.Severity == "critical" {
			log.Warn().Str("type", ev.AlertType).Msgf("🚨 Critical risk alert: %s", ev.Message)
			if ev.DisableEngine {
				a.proj.Engine.Running = false
				a.proj.Engine.Mode = "disabled"
			}
			if a.onAlert != nil {
				go a.onAlert(ev.Severity, ev.Message)
			}
		}
		return true

	case "metrics_update":
		var ev metricsUpdateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("Malformed metrics_update event")
			return true
		}
		// Counters only move forward; a lower value is a stale or
		// reordered frame, not a reset.
		if ev.OpportunitiesFound != nil && *ev.OpportunitiesFound > a.proj.Metrics.OpportunitiesFound {
			a.proj.Metrics.OpportunitiesFound = *ev.OpportunitiesFound
		}
		if ev.OpportunitiesExecuted != nil && *ev.OpportunitiesExecuted > a.proj.Metrics.OpportunitiesExecuted {
			a.proj.Metrics.OpportunitiesExecuted = *ev.OpportunitiesExecuted
		}
		if ev.TotalProfitUSD != nil {
			a.proj.Metrics.TotalProfitUSD = *ev.TotalProfitUSD
		}
		if ev.ErrorRate != nil {
			a.proj.Metrics.ErrorRate = *ev.ErrorRate
		}
		a.proj.Metrics.LastUpdated = msg.ReceivedAt
		a.recomputeSuccessRateLocked()
		return true

	case "engine_reset":
		a.proj.Metrics = EngineMetrics{LastUpdated: msg.ReceivedAt}
		a.proj.LastAlert = nil
		return true

	case "emergency_stop":
		a.proj.Engine.Running = false
		a.proj.Engine.Mode = "disabled"
		a.proj.EmergencyStopLatchedAt = msg.ReceivedAt
		log.Warn().Msg("🛑 Emergency stop received from engine")
		if a.onAlert != nil {
			go a.onAlert("critical", "Emergency stop triggered")
		}
		return true

	case "connection_ack", "subscription_ack":
		a.proj.TransportError = nil
		a.proj.ServerError = ""
		return true

	case "heartbeat":
		// Freshness only; nothing user-visible changes.
		return false

	case "error":
		var ev errorEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Message == "" {
			a.proj.ServerError = "engine reported an error"
		} else {
			a.proj.ServerError = ev.Message
		}
		return true

	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring unknown stream event")
		return false
	}
}

func (a *Aggregator) recomputeSuccessRateLocked() {
	m := &a.proj.Metrics
	if m.OpportunitiesFound <= 0 {
		m.SuccessRate = 0
		return
	}
	rate := float64(m.OpportunitiesExecuted) / float64(m.OpportunitiesFound)
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	m.SuccessRate = rate
}
