package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dexsniper/snipectl/internal/api"
	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/chains"
	"github.com/dexsniper/snipectl/internal/store"
)

// ErrAlreadyInProgress rejects a second connect or chain switch while
// one is still in flight.
var ErrAlreadyInProgress = errors.New("wallet operation already in progress")

// defaultLatchWindow bounds how long a programmatic chain switch can
// absorb its own external echo.
const defaultLatchWindow = 5 * time.Second

// Hint is the persisted connection hint that survives reloads.
type Hint struct {
	Family     string `json:"family"`
	WalletKind string `json:"wallet_kind"`
	Chain      string `json:"chain"`
}

// BalanceClient is the slice of the backend API the session needs.
type BalanceClient interface {
	WalletBalance(ctx context.Context, req api.BalanceRequest) (*api.Balance, error)
}

// Snapshot is the read-only view the console renders.
type Snapshot struct {
	Connected  bool
	Address    string
	Family     chains.Family
	WalletKind chains.WalletKind
	Chain      string
	Balances   map[string]decimal.Decimal
	LastError  *apperr.Classified
}

// Options tunes session behavior.
type Options struct {
	// Persist opts in to writing the connection hint.
	Persist bool
	// AutoConnect re-establishes a hinted session on startup using the
	// trusted (never prompting) account probe.
	AutoConnect bool
	// LatchWindow overrides the programmatic-switch latch timeout.
	LatchWindow time.Duration
}

// Session is the process-wide wallet state owner. Only the session
// mutates its fields; everyone else reads snapshots.
type Session struct {
	providers map[chains.Family]Provider
	balances  BalanceClient
	hints     *store.Store
	opts      Options

	mu         sync.Mutex
	connected  bool
	address    string
	kind       chains.WalletKind
	chain      string
	balanceMap map[string]decimal.Decimal
	lastError  *apperr.Classified

	connecting bool
	switching  bool
	progLatch  bool
	latchTimer *time.Timer

	unsubs   []func()
	onChange func(Snapshot)
}

// NewSession builds the session over the injected providers.
func NewSession(providers map[chains.Family]Provider, balances BalanceClient, hints *store.Store, opts Options) *Session {
	if opts.LatchWindow <= 0 {
		opts.LatchWindow = defaultLatchWindow
	}
	return &Session{
		providers:  providers,
		balances:   balances,
		hints:      hints,
		opts:       opts,
		balanceMap: make(map[string]decimal.Decimal),
	}
}

// OnChange registers the parent notification for externally-driven
// session changes. Programmatic operations do not fire it.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	balances := make(map[string]decimal.Decimal, len(s.balanceMap))
	for k, v := range s.balanceMap {
		balances[k] = v
	}
	return Snapshot{
		Connected:  s.connected,
		Address:    s.address,
		Family:     chains.FamilyOf(s.chain),
		WalletKind: s.kind,
		Chain:      s.chain,
		Balances:   balances,
		LastError:  s.lastError,
	}
}

// Connect selects the adapter for the chain's family, prompts the
// wallet, and populates the session. A second call while one is in
// flight, or while a session is already live, returns
// ErrAlreadyInProgress; Disconnect first to switch wallets.
func (s *Session) Connect(ctx context.Context, kind chains.WalletKind, chainID string) error {
	s.mu.Lock()
	if s.connecting || s.connected {
		s.mu.Unlock()
		return ErrAlreadyInProgress
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	desc, ok := chains.Get(chainID)
	if !ok {
		return s.fail("connect", fmt.Errorf("unknown chain %q", chainID))
	}
	if !chains.Supports(chainID, kind) {
		return s.fail("connect", fmt.Errorf("%w: %s cannot serve %s", apperr.ErrWrongNetwork, kind, chainID))
	}

	provider, ok := s.providers[chains.FamilyOf(chainID)]
	if !ok {
		return s.fail("connect", apperr.ErrProviderMissing)
	}

	accounts, err := provider.Connect(ctx)
	if err != nil {
		return s.fail("connect", err)
	}
	if len(accounts) == 0 {
		return s.fail("connect", apperr.ErrProviderMissing)
	}

	// Walk the wallet onto the requested chain when it sits elsewhere.
	if wireID, err := provider.ChainID(ctx); err == nil && wireID != desc.WireID {
		if err := provider.SwitchChain(ctx, desc); err != nil {
			return s.fail("connect", err)
		}
	}

	s.mu.Lock()
	s.connected = true
	s.address = accounts[0]
	s.kind = kind
	s.chain = chainID
	s.lastError = nil
	s.mu.Unlock()

	s.attachProvider(provider)
	s.persistHint()

	log.Info().
		Str("wallet", string(kind)).
		Str("chain", chainID).
		Str("address", shortAddr(accounts[0])).
		Msg("🔗 Wallet connected")

	if err := s.RefreshBalances(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial balance refresh failed")
	}
	return nil
}

// Disconnect clears the session and the persisted hint. Idempotent.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	provider := s.providers[chains.FamilyOf(s.chain)]
	wasConnected := s.connected
	unsubs := s.unsubs
	s.unsubs = nil
	s.connected = false
	s.address = ""
	s.kind = ""
	s.balanceMap = make(map[string]decimal.Decimal)
	s.clearLatchLocked()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	if wasConnected && provider != nil {
		if err := provider.Disconnect(ctx); err != nil {
			log.Debug().Err(err).Msg("Provider disconnect failed")
		}
	}
	if s.hints != nil {
		s.hints.Delete(store.KeyWalletSessionHint)
	}
	if wasConnected {
		log.Info().Msg("Wallet disconnected")
	}
}

// SwitchChain moves the session to chainID. No-op when already there.
// The programmatic latch absorbs the wallet's own chain-changed echo so
// the parent is not notified twice.
func (s *Session) SwitchChain(ctx context.Context, chainID string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return s.fail("switch_chain", apperr.ErrNoWalletSession)
	}
	if s.chain == chainID {
		s.mu.Unlock()
		return nil
	}
	if s.switching {
		s.mu.Unlock()
		return ErrAlreadyInProgress
	}

	desc, ok := chains.Get(chainID)
	if !ok {
		s.mu.Unlock()
		return s.fail("switch_chain", fmt.Errorf("unknown chain %q", chainID))
	}
	if chains.FamilyOf(chainID) != chains.FamilyOf(s.chain) {
		s.mu.Unlock()
		return s.fail("switch_chain", fmt.Errorf("%w: cannot switch families without reconnecting", apperr.ErrWrongNetwork))
	}
	provider := s.providers[chains.FamilyOf(s.chain)]

	s.switching = true
	s.armLatchLocked()
	s.mu.Unlock()

	err := provider.SwitchChain(ctx, desc)

	s.mu.Lock()
	s.switching = false
	if err != nil {
		s.clearLatchLocked()
		s.mu.Unlock()
		return s.fail("switch_chain", err)
	}
	s.chain = chainID
	// The latch stays armed briefly: the wallet echoes the switch as an
	// external chain-changed event and that echo must not re-notify.
	s.mu.Unlock()

	s.persistHint()
	log.Info().Str("chain", chainID).Msg("⛓  Chain switched")
	return nil
}

// RefreshBalances pulls native and known-token balances from the
// backend, tolerating partial failure.
func (s *Session) RefreshBalances(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	address, chainID := s.address, s.chain
	s.mu.Unlock()

	desc, ok := chains.Get(chainID)
	if !ok {
		return fmt.Errorf("unknown chain %q", chainID)
	}

	type target struct {
		symbol string
		token  string
	}
	targets := []target{{symbol: desc.NativeSymbol}}
	for symbol, token := range knownTokens[chainID] {
		targets = append(targets, target{symbol: symbol, token: token})
	}

	var firstErr error
	fetched := make(map[string]decimal.Decimal, len(targets))
	for _, tg := range targets {
		b, err := s.balances.WalletBalance(ctx, api.BalanceRequest{
			Address:      address,
			Chain:        chainID,
			TokenAddress: tg.token,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Debug().Err(err).Str("symbol", tg.symbol).Msg("Balance fetch failed")
			continue
		}
		fetched[tg.symbol] = b.Amount
	}

	s.mu.Lock()
	for symbol, amount := range fetched {
		s.balanceMap[symbol] = amount
	}
	s.mu.Unlock()

	if len(fetched) == 0 && firstErr != nil {
		return apperr.Classify("refresh_balances", firstErr)
	}
	return nil
}

// ClearError resets the last classified error.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()
}

// SignMessage delegates signing to the connected wallet.
func (s *Session) SignMessage(ctx context.Context, message []byte) (string, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return "", s.fail("sign_message", apperr.ErrNoWalletSession)
	}
	provider := s.providers[chains.FamilyOf(s.chain)]
	address := s.address
	s.mu.Unlock()

	sig, err := provider.SignMessage(ctx, address, message)
	if err != nil {
		return "", s.fail("sign_message", err)
	}
	return sig, nil
}

// Restore re-establishes a previously hinted session without prompting.
// It does nothing unless auto-connect is enabled and a hint exists.
func (s *Session) Restore(ctx context.Context) bool {
	if !s.opts.AutoConnect || s.hints == nil {
		return false
	}
	var hint Hint
	if !s.hints.GetJSON(store.KeyWalletSessionHint, &hint) {
		return false
	}

	provider, ok := s.providers[chains.Family(hint.Family)]
	if !ok {
		return false
	}
	accounts, err := provider.Accounts(ctx, true)
	if err != nil || len(accounts) == 0 {
		log.Debug().Err(err).Msg("Silent session restore declined")
		return false
	}

	s.mu.Lock()
	s.connected = true
	s.address = accounts[0]
	s.kind = chains.WalletKind(hint.WalletKind)
	s.chain = hint.Chain
	s.lastError = nil
	s.mu.Unlock()

	s.attachProvider(provider)
	log.Info().
		Str("wallet", hint.WalletKind).
		Str("chain", hint.Chain).
		Str("address", shortAddr(accounts[0])).
		Msg("🔗 Wallet session restored")

	if err := s.RefreshBalances(ctx); err != nil {
		log.Warn().Err(err).Msg("Balance refresh after restore failed")
	}
	return true
}

// ─── internals ───

// fail classifies err, records it as the session's last error, and
// returns the classified form.
func (s *Session) fail(operation string, err error) error {
	classified := apperr.Classify(operation, err)
	s.mu.Lock()
	s.lastError = classified
	s.mu.Unlock()
	log.Warn().
		Str("op", operation).
		Str("category", string(classified.Category)).
		Msg(classified.UserMessage)
	return classified
}

func (s *Session) attachProvider(provider Provider) {
	unsubAccounts := provider.OnAccountsChanged(s.handleAccountsChanged)
	unsubChain := provider.OnChainChanged(s.handleChainChanged)
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubAccounts, unsubChain)
	s.mu.Unlock()
}

func (s *Session) persistHint() {
	if !s.opts.Persist || s.hints == nil {
		return
	}
	s.mu.Lock()
	hint := Hint{
		Family:     string(chains.FamilyOf(s.chain)),
		WalletKind: string(s.kind),
		Chain:      s.chain,
	}
	s.mu.Unlock()
	s.hints.SetJSON(store.KeyWalletSessionHint, hint)
}

// handleAccountsChanged reacts to wallet-side account switches. An empty
// account list means the wallet revoked access.
func (s *Session) handleAccountsChanged(accounts []string) {
	if len(accounts) == 0 {
		log.Info().Msg("Wallet revoked access")
		s.Disconnect(context.Background())
		s.notifyChange()
		return
	}

	s.mu.Lock()
	changed := s.address != accounts[0]
	s.address = accounts[0]
	if changed {
		s.balanceMap = make(map[string]decimal.Decimal)
	}
	s.mu.Unlock()

	if changed {
		log.Info().Str("address", shortAddr(accounts[0])).Msg("Wallet account changed")
		s.notifyChange()
	}
}

// handleChainChanged reacts to wallet-side chain switches. While the
// programmatic latch is armed, exactly one event is absorbed silently.
func (s *Session) handleChainChanged(wireID string) {
	desc, known := chains.ByWireID(wireID)

	s.mu.Lock()
	if s.progLatch {
		s.clearLatchLocked()
		if known {
			s.chain = desc.ID
		}
		s.mu.Unlock()
		log.Debug().Str("wire_id", wireID).Msg("Absorbed programmatic chain-change echo")
		return
	}
	if known {
		s.chain = desc.ID
		s.balanceMap = make(map[string]decimal.Decimal)
	}
	s.mu.Unlock()

	if known {
		log.Info().Str("chain", desc.ID).Msg("Wallet switched chains externally")
	} else {
		log.Warn().Str("wire_id", wireID).Msg("Wallet switched to an unsupported chain")
	}
	s.notifyChange()
}

func (s *Session) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Session) armLatchLocked() {
	s.progLatch = true
	if s.latchTimer != nil {
		s.latchTimer.Stop()
	}
	s.latchTimer = time.AfterFunc(s.opts.LatchWindow, func() {
		s.mu.Lock()
		s.progLatch = false
		s.latchTimer = nil
		s.mu.Unlock()
	})
}

func (s *Session) clearLatchLocked() {
	s.progLatch = false
	if s.latchTimer != nil {
		s.latchTimer.Stop()
		s.latchTimer = nil
	}
}

func shortAddr(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "…" + a[len(a)-4:]
}

// knownTokens lists the stablecoin balance shown next to the native
// balance, per chain.
var knownTokens = map[string]map[string]string{
	"ethereum": {"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	"polygon":  {"USDC": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
	"bsc":      {"USDC": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"},
	"base":     {"USDC": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	"arbitrum": {"USDC": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
	"solana":   {"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
}
