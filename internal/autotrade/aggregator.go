// Package autotrade fuses the engine's WebSocket telemetry and REST
// status reads into one consistent local projection, and exposes the
// engine commands.
package autotrade

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dexsniper/snipectl/internal/api"
	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/wsclient"
)

// subscribeChannels is the full event set requested on every open.
var subscribeChannels = []string{
	"engine_status",
	"trade_executed",
	"opportunity_found",
	"risk_alert",
	"metrics_update",
	"emergency_stop",
}

// EngineState mirrors the engine's own view of itself.
type EngineState struct {
	Mode              string
	Running           bool
	UptimeSeconds     float64
	QueueSize         int
	ActiveTrades      int
	NextOpportunityAt time.Time
}

// EngineMetrics carries the fused counters. SuccessRate is always
// recomputed locally, never trusted from the wire.
type EngineMetrics struct {
	OpportunitiesFound    int64
	OpportunitiesExecuted int64
	TotalProfitUSD        decimal.Decimal
	SuccessRate           float64
	ErrorRate             float64
	LastTradeAt           time.Time
	LastOpportunityAt     time.Time
	LastUpdated           time.Time
}

// Alert is the most recent risk alert.
type Alert struct {
	Severity string
	Type     string
	Message  string
	At       time.Time
}

// Projection is the console's snapshot of engine state.
type Projection struct {
	Engine                 EngineState
	Metrics                EngineMetrics
	LastAlert              *Alert
	EmergencyStopLatchedAt time.Time
	FreshnessAt            time.Time
	ServerError            string
	TransportError         *apperr.Classified
}

// EngineClient is the slice of the backend REST API the aggregator uses.
type EngineClient interface {
	AutotradeStatus(ctx context.Context) (*api.AutotradeStatus, error)
	StartAutotrade(ctx context.Context, mode string) error
	StopAutotrade(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
}

// AlertFunc is called for critical alerts and emergency stops.
type AlertFunc func(severity, message string)

// Aggregator consumes the autotrade channel and maintains the
// projection. Events are applied in arrival order.
type Aggregator struct {
	channel   *wsclient.Client
	engine    EngineClient
	heartbeat time.Duration
	onAlert   AlertFunc
	dryRun    bool

	mu          sync.RWMutex
	proj        Projection
	subscribers []chan Projection

	stopCh  chan struct{}
	running bool
	runMu   sync.Mutex
}

// New builds the aggregator over an autotrade channel client.
func New(channel *wsclient.Client, engine EngineClient, heartbeat time.Duration) *Aggregator {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Aggregator{
		channel:   channel,
		engine:    engine,
		heartbeat: heartbeat,
	}
}

// SetDryRun makes the engine commands simulate locally instead of
// hitting the backend.
func (a *Aggregator) SetDryRun(v bool) {
	a.mu.Lock()
	a.dryRun = v
	a.mu.Unlock()
}

// OnCriticalAlert registers the push hook for critical alerts.
func (a *Aggregator) OnCriticalAlert(fn AlertFunc) {
	a.mu.Lock()
	a.onAlert = fn
	a.mu.Unlock()
}

// Start seeds the projection over REST, opens the channel, and runs the
// staleness watchdog until Stop.
func (a *Aggregator) Start(ctx context.Context) {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	stopCh := a.stopCh
	a.runMu.Unlock()

	a.hydrate(ctx)

	a.channel.Subscribe(wsclient.Handlers{
		OnOpen:    a.onOpen,
		OnMessage: a.onMessage,
		OnError:   a.onTransportError,
	})
	a.channel.Connect()

	go a.watchdog(stopCh)
	log.Info().Msg("📡 Autotrade telemetry started")
}

// Stop tears the aggregator down: channel closed, watchdog stopped.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.runMu.Unlock()

	a.channel.Disconnect()
	log.Info().Msg("Autotrade telemetry stopped")
}

// Projection returns the current snapshot.
func (a *Aggregator) Projection() Projection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.proj
}

// Subscribe returns a channel carrying projection snapshots after each
// change. Slow subscribers miss snapshots rather than blocking the feed.
func (a *Aggregator) Subscribe() chan Projection {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan Projection, 16)
	a.subscribers = append(a.subscribers, ch)
	return ch
}

// ─── engine commands ───

// StartEngine starts the engine in mode and refreshes the projection.
func (a *Aggregator) StartEngine(ctx context.Context, mode string) error {
	if a.isDryRun() {
		log.Info().Str("mode", mode).Msg("🧪 DRY RUN - engine start simulated")
		a.mu.Lock()
		a.proj.Engine.Mode = mode
		a.proj.Engine.Running = true
		a.mu.Unlock()
		a.broadcast()
		return nil
	}
	if err := a.engine.StartAutotrade(ctx, mode); err != nil {
		return apperr.Classify("autotrade.start", err)
	}
	a.hydrate(ctx)
	return nil
}

// StopEngine stops the engine.
func (a *Aggregator) StopEngine(ctx context.Context) error {
	if a.isDryRun() {
		log.Info().Msg("🧪 DRY RUN - engine stop simulated")
		a.mu.Lock()
		a.proj.Engine.Running = false
		a.mu.Unlock()
		a.broadcast()
		return nil
	}
	if err := a.engine.StopAutotrade(ctx); err != nil {
		return apperr.Classify("autotrade.stop", err)
	}
	a.hydrate(ctx)
	return nil
}

// EmergencyStopEngine halts the engine immediately.
func (a *Aggregator) EmergencyStopEngine(ctx context.Context) error {
	if a.isDryRun() {
		log.Info().Msg("🧪 DRY RUN - emergency stop simulated")
		a.mu.Lock()
		a.proj.Engine.Running = false
		a.proj.Engine.Mode = "disabled"
		a.proj.EmergencyStopLatchedAt = time.Now()
		a.mu.Unlock()
		a.broadcast()
		return nil
	}
	if err := a.engine.EmergencyStop(ctx); err != nil {
		return apperr.Classify("autotrade.emergency_stop", err)
	}
	a.mu.Lock()
	a.proj.Engine.Running = false
	a.proj.Engine.Mode = "disabled"
	a.proj.EmergencyStopLatchedAt = time.Now()
	a.mu.Unlock()
	a.broadcast()
	return nil
}

// Refresh re-reads status over REST and nudges the stream.
func (a *Aggregator) Refresh(ctx context.Context) error {
	if a.channel.State() == wsclient.StateOpen {
		a.channel.Send(map[string]string{"type": "refresh_status"})
	}
	if err := a.hydrate(ctx); err != nil {
		return err
	}
	return nil
}

func (a *Aggregator) isDryRun() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dryRun
}

// ─── stream plumbing ───

func (a *Aggregator) onOpen() {
	// Subscriptions do not survive a reconnect; re-send every time.
	a.channel.Send(map[string]any{
		"type":     "subscribe",
		"channels": subscribeChannels,
	})
	a.mu.Lock()
	a.proj.TransportError = nil
	a.mu.Unlock()
	a.broadcast()
}

func (a *Aggregator) onTransportError(c *apperr.Classified) {
	a.mu.Lock()
	a.proj.TransportError = c
	a.mu.Unlock()
	a.broadcast()
}

func (a *Aggregator) onMessage(msg wsclient.Message) {
	if a.apply(msg) {
		a.broadcast()
	}
}

// hydrate replaces the projection's engine and counter fields from the
// REST status read. Fresh stream events override it afterwards.
func (a *Aggregator) hydrate(ctx context.Context) error {
	status, err := a.engine.AutotradeStatus(ctx)
	if err != nil {
		classified := apperr.Classify("autotrade.status", err)
		a.mu.Lock()
		a.proj.TransportError = classified
		a.mu.Unlock()
		a.broadcast()
		return classified
	}

	a.mu.Lock()
	a.proj.Engine.Mode = status.Mode
	a.proj.Engine.Running = status.IsRunning
	a.proj.Engine.UptimeSeconds = status.UptimeSeconds
	a.proj.Engine.QueueSize = status.QueueSize
	a.proj.Engine.ActiveTrades = status.ActiveTrades
	a.proj.Engine.NextOpportunityAt = parseTime(status.NextOpportunityAt)
	a.proj.Metrics.OpportunitiesFound = status.OpportunitiesFound
	a.proj.Metrics.OpportunitiesExecuted = status.OpportunitiesExecuted
	a.proj.Metrics.TotalProfitUSD = status.TotalProfitUSD
	a.proj.Metrics.ErrorRate = status.ErrorRate
	a.recomputeSuccessRateLocked()
	a.proj.FreshnessAt = time.Now()
	a.proj.TransportError = nil
	a.mu.Unlock()
	a.broadcast()
	return nil
}

// watchdog re-hydrates from REST whenever the stream goes stale for
// longer than two heartbeat intervals.
func (a *Aggregator) watchdog(stopCh chan struct{}) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.mu.RLock()
			stale := time.Since(a.proj.FreshnessAt) > 2*a.heartbeat
			a.mu.RUnlock()
			if !stale {
				continue
			}
			log.Debug().Msg("Telemetry stale, re-hydrating over REST")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.hydrate(ctx)
			cancel()
		}
	}
}

func (a *Aggregator) broadcast() {
	a.mu.RLock()
	snap := a.proj
	subs := a.subscribers
	a.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Subscriber is behind; it will catch the next snapshot.
		}
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
