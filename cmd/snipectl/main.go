// Snipectl - terminal control console for the DEX Sniper Pro backend
//
// The console keeps three live surfaces in sync with the backend:
// 1. Autotrade telemetry over WebSocket, seeded and backstopped by REST
// 2. A multi-chain wallet session (MetaMask/Coinbase/Phantom/Solflare)
// 3. Periodic backend health probes
//
// Everything renders into a single-screen terminal dashboard; critical
// risk alerts and emergency stops are pushed to Telegram.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/api"
	"github.com/dexsniper/snipectl/internal/autotrade"
	"github.com/dexsniper/snipectl/internal/chains"
	"github.com/dexsniper/snipectl/internal/config"
	"github.com/dexsniper/snipectl/internal/dashboard"
	"github.com/dexsniper/snipectl/internal/endpoint"
	"github.com/dexsniper/snipectl/internal/health"
	"github.com/dexsniper/snipectl/internal/notify"
	"github.com/dexsniper/snipectl/internal/store"
	"github.com/dexsniper/snipectl/internal/wallet"
	"github.com/dexsniper/snipectl/internal/wsclient"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("origin", cfg.APIOrigin).
		Bool("production", cfg.Production).
		Msg("🎯 Snipectl console starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local hint store
	hints, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open hint store")
	}

	// The WS debug toggle survives restarts; the env var sets or clears
	// the stored copy.
	debugWS := cfg.DebugWS
	if debugWS {
		hints.Set(store.KeyDebugWebsocket, "true")
	} else if os.Getenv("SNIPER_WS_DEBUG") != "" {
		hints.Delete(store.KeyDebugWebsocket)
	} else if v, ok := hints.Get(store.KeyDebugWebsocket); ok {
		debugWS = v == "true"
	}

	// ====== CORE COMPONENTS ======

	// 1. Endpoint resolver + REST client
	resolver := endpoint.NewResolver(cfg.APIOrigin)
	apiClient := api.New(resolver)

	wsOpts := wsclient.Options{
		MaxReconnectAttempts:   cfg.WSMaxReconnectAttempts,
		BaseReconnectDelay:     cfg.WSBaseReconnectDelay,
		ReconnectGrowth:        cfg.WSReconnectGrowth,
		ShouldReconnect:        true,
		SuppressTransportNoise: !cfg.Production && !debugWS,
		PingInterval:           cfg.HeartbeatInterval,
		Development:            !cfg.Production,
	}

	// 2. Wallet session with one provider bridge per chain family
	providers := map[chains.Family]wallet.Provider{
		chains.FamilyEVM: wallet.NewEVMBridge(
			chains.WalletMetaMask, cfg.WalletBridgeURL,
			resolver.WS("/ws/wallet-events"), wsOpts),
		chains.FamilySolana: wallet.NewSolanaBridge(
			chains.WalletPhantom, cfg.SolanaBridgeURL,
			resolver.WS("/ws/wallet-events"), wsOpts),
	}
	session := wallet.NewSession(providers, apiClient, hints, wallet.Options{
		Persist:     true,
		AutoConnect: cfg.AutoConnect,
	})

	// 3. Autotrade telemetry
	stream := wsclient.New(resolver.WS("/ws/autotrade"), wsOpts)
	aggregator := autotrade.New(stream, apiClient, cfg.HeartbeatInterval)
	aggregator.SetDryRun(cfg.DryRun)
	if cfg.DryRun {
		log.Warn().Msg("🧪 DRY RUN mode - engine commands are simulated")
	}

	// 3b. Opportunity discovery pass-through feed
	discovery := autotrade.NewFeed(wsclient.New(resolver.WS("/ws/discovery"), wsOpts))

	// 4. Backend health poller
	poller := health.NewPoller(apiClient, cfg.HealthInterval)

	// 5. Telegram alerts
	notifier, err := notify.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram notifier")
	}
	if notifier.Enabled() {
		aggregator.OnCriticalAlert(notifier.CriticalAlert)
	}

	// 6. Dashboard
	ui := dashboard.New()

	session.OnChange(func(s wallet.Snapshot) {
		ui.SetSession(s)
		if s.Connected {
			ui.Log("wallet %s on %s", s.WalletKind, s.Chain)
		} else {
			ui.Log("wallet disconnected")
		}
	})

	// ====== START ======

	aggregator.Start(ctx)
	poller.Start()
	discovery.Start()

	if restored := session.Restore(ctx); restored {
		log.Info().Msg("🔑 Wallet session restored from hint")
	}

	ui.Start()
	ui.SetSession(session.Snapshot())
	ui.SetEngine(aggregator.Projection())
	ui.SetBackend(poller.Snapshot())

	go pump(ctx, aggregator, poller, ui)
	go watchDiscovery(ctx, discovery, resolver, wsOpts, ui)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()

	ui.Stop()
	discovery.Stop()
	poller.Stop()
	aggregator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	session.Disconnect(shutdownCtx)
	shutdownCancel()

	log.Info().Msg("👋 Snipectl stopped")
}

// watchDiscovery logs discovered opportunities and follows the most
// recent one's token on its intelligence stream.
func watchDiscovery(ctx context.Context, discovery *autotrade.Feed, resolver *endpoint.Resolver, wsOpts wsclient.Options, ui *dashboard.Dashboard) {
	events := discovery.Subscribe()

	var intel *autotrade.Feed
	var intelCh chan autotrade.IntelligenceEvent
	defer func() {
		if intel != nil {
			intel.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			ui.Log("🔎 %s", ev.Type)
			addr := opportunityToken(ev)
			if addr == "" {
				continue
			}
			// Retarget the intelligence stream at the newest token.
			if intel != nil {
				intel.Stop()
			}
			intel = autotrade.NewFeed(wsclient.New(resolver.WS("/ws/intelligence/"+addr), wsOpts))
			intelCh = intel.Subscribe()
			intel.Start()
			ui.Log("🧠 analyzing %s", addr)
		case ev := <-intelCh:
			ui.Log("🧠 %s", ev.Type)
		}
	}
}

func opportunityToken(ev autotrade.IntelligenceEvent) string {
	if ev.Type != "new_opportunity" {
		return ""
	}
	var payload struct {
		TokenAddress string `json:"token_address"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return ""
	}
	return payload.TokenAddress
}

// pump fans subscriber snapshots into the dashboard.
func pump(ctx context.Context, aggregator *autotrade.Aggregator, poller *health.Poller, ui *dashboard.Dashboard) {
	engineCh := aggregator.Subscribe()
	healthCh := poller.Subscribe()

	var lastEmergency time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-engineCh:
			ui.SetEngine(p)
			if !p.EmergencyStopLatchedAt.IsZero() && p.EmergencyStopLatchedAt.After(lastEmergency) {
				lastEmergency = p.EmergencyStopLatchedAt
				ui.Log("🛑 emergency stop")
			}
		case h := <-healthCh:
			ui.SetBackend(h)
		}
	}
}
