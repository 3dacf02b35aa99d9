// Package health keeps a live view of backend availability by polling
// the health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/api"
	"github.com/dexsniper/snipectl/internal/apperr"
)

// knownSubsystems is rendered even when the backend is unreachable, so
// the dashboard always shows the same rows.
var knownSubsystems = []string{"database", "rpc_providers", "dex_aggregator", "autotrade_engine"}

// Checker is the probe the poller runs.
type Checker interface {
	Health(ctx context.Context) (*api.HealthStatus, error)
}

// Snapshot is the latest poll outcome.
type Snapshot struct {
	Healthy       bool
	Status        string
	UptimeSeconds float64
	Subsystems    map[string]bool
	LastChecked   time.Time
	LastError     *apperr.Classified
}

// Poller probes the backend on a fixed interval, starting with an
// immediate check.
type Poller struct {
	checker  Checker
	interval time.Duration

	mu          sync.RWMutex
	snap        Snapshot
	subscribers []chan Snapshot

	stopCh  chan struct{}
	running bool
	runMu   sync.Mutex
}

// NewPoller builds a poller over checker. Interval defaults to 30s.
func NewPoller(checker Checker, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{checker: checker, interval: interval}
}

// Start begins polling. The first probe fires before the first tick.
func (p *Poller) Start() {
	p.runMu.Lock()
	if p.running {
		p.runMu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.runMu.Unlock()

	go p.loop(stopCh)
}

// Stop halts polling. The last snapshot remains readable.
func (p *Poller) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

// Snapshot returns the latest poll outcome.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Subscribe returns a channel receiving each new snapshot. Slow readers
// miss snapshots rather than stalling the poll loop.
func (p *Poller) Subscribe() chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Snapshot, 8)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// CheckNow runs one probe immediately, outside the tick schedule.
func (p *Poller) CheckNow(ctx context.Context) Snapshot {
	p.probe(ctx)
	return p.Snapshot()
}

func (p *Poller) loop(stopCh chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	p.probe(ctx)
	cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.interval)
			p.probe(ctx)
			cancel()
		}
	}
}

func (p *Poller) probe(ctx context.Context) {
	status, err := p.checker.Health(ctx)

	p.mu.Lock()
	wasHealthy := p.snap.Healthy
	if err != nil {
		classified := apperr.Classify("health.check", err)
		down := make(map[string]bool, len(knownSubsystems))
		for _, name := range knownSubsystems {
			down[name] = false
		}
		p.snap = Snapshot{
			Healthy:     false,
			Status:      "ERROR",
			Subsystems:  down,
			LastChecked: time.Now(),
			LastError:   classified,
		}
	} else {
		p.snap = Snapshot{
			Healthy:       status.Healthy,
			Status:        status.Status,
			UptimeSeconds: status.UptimeSeconds,
			Subsystems:    status.Subsystems,
			LastChecked:   time.Now(),
		}
	}
	nowHealthy := p.snap.Healthy
	snap := p.snap
	subs := p.subscribers
	p.mu.Unlock()

	if wasHealthy && !nowHealthy {
		log.Warn().Msg("⚠️ Backend health check failing")
	} else if !wasHealthy && nowHealthy {
		log.Info().Msg("✅ Backend healthy")
	}

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
