package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexsniper/snipectl/internal/api"
	"github.com/dexsniper/snipectl/internal/apperr"
	"github.com/dexsniper/snipectl/internal/chains"
	"github.com/dexsniper/snipectl/internal/store"
)

const (
	addr1 = "0x1111111111111111111111111111111111111111"
	addr2 = "0x2222222222222222222222222222222222222222"
)

// fakeProvider satisfies Provider entirely in memory.
type fakeProvider struct {
	kind        chains.WalletKind
	family      chains.Family
	accounts    []string
	connectErr  error
	chainID     string
	switchErr   error
	switched    []string
	reg         handlerRegistry
	connectGate chan struct{}
	entered     chan struct{}
}

func newFakeEVM() *fakeProvider {
	return &fakeProvider{
		kind:     chains.WalletMetaMask,
		family:   chains.FamilyEVM,
		accounts: []string{addr1},
		chainID:  "0x1",
	}
}

func (f *fakeProvider) Kind() chains.WalletKind { return f.kind }
func (f *fakeProvider) Family() chains.Family   { return f.family }

func (f *fakeProvider) Connect(ctx context.Context) ([]string, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.accounts, nil
}

func (f *fakeProvider) Accounts(ctx context.Context, trusted bool) ([]string, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.accounts, nil
}

func (f *fakeProvider) Disconnect(ctx context.Context) error { return nil }

func (f *fakeProvider) ChainID(ctx context.Context) (string, error) { return f.chainID, nil }

func (f *fakeProvider) SwitchChain(ctx context.Context, target chains.Descriptor) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chainID = target.WireID
	f.switched = append(f.switched, target.ID)
	return nil
}

func (f *fakeProvider) SignMessage(ctx context.Context, address string, message []byte) (string, error) {
	return "0xsigned", nil
}

func (f *fakeProvider) OnAccountsChanged(h AccountsHandler) func() { return f.reg.addAccounts(h) }
func (f *fakeProvider) OnChainChanged(h ChainHandler) func()       { return f.reg.addChain(h) }

// fakeBalances serves canned balances, optionally failing per token.
type fakeBalances struct {
	amounts map[string]decimal.Decimal // token address ("" = native) -> amount
	failFor map[string]bool
	calls   atomic.Int32
}

func (f *fakeBalances) WalletBalance(ctx context.Context, req api.BalanceRequest) (*api.Balance, error) {
	f.calls.Add(1)
	if f.failFor[req.TokenAddress] {
		return nil, errors.New("balance backend down")
	}
	return &api.Balance{Amount: f.amounts[req.TokenAddress]}, nil
}

func newSession(t *testing.T, provider Provider, opts Options) (*Session, *fakeBalances) {
	t.Helper()
	balances := &fakeBalances{amounts: map[string]decimal.Decimal{
		"": decimal.RequireFromString("1.5"),
	}}
	hints, err := store.Open(filepath.Join(t.TempDir(), "hints.db"))
	require.NoError(t, err)
	providers := map[chains.Family]Provider{provider.Family(): provider}
	return NewSession(providers, balances, hints, opts), balances
}

func TestSession_ConnectPopulates(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{Persist: true})

	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, addr1, snap.Address)
	assert.Equal(t, chains.FamilyEVM, snap.Family)
	assert.Equal(t, "ethereum", snap.Chain)
	assert.Nil(t, snap.LastError)
	assert.True(t, snap.Balances["ETH"].Equal(decimal.RequireFromString("1.5")))
}

// User rejection leaves the session untouched apart from the error.
func TestSession_ConnectUserRejected(t *testing.T) {
	provider := newFakeEVM()
	provider.connectErr = &apperr.ProviderError{Code: 4001, Message: "User denied"}
	s, _ := newSession(t, provider, Options{})

	err := s.Connect(context.Background(), chains.WalletMetaMask, "ethereum")
	require.Error(t, err)

	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.Address)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, apperr.UserRejected, snap.LastError.Category)
	assert.Equal(t, apperr.RecoveryNone, snap.LastError.Recovery)
}

func TestSession_ConnectWhileConnecting(t *testing.T) {
	provider := newFakeEVM()
	provider.connectGate = make(chan struct{})
	provider.entered = make(chan struct{}, 1)
	s, _ := newSession(t, provider, Options{})

	first := make(chan error, 1)
	go func() {
		first <- s.Connect(context.Background(), chains.WalletMetaMask, "ethereum")
	}()

	// Wait until the first connect is inside the provider, then collide.
	select {
	case <-provider.entered:
	case <-time.After(time.Second):
		t.Fatal("first connect never reached the provider")
	}
	err := s.Connect(context.Background(), chains.WalletMetaMask, "ethereum")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	close(provider.connectGate)
	require.NoError(t, <-first)
	assert.True(t, s.Snapshot().Connected)
}

// Connecting on top of a live session is rejected rather than stacking
// a second set of provider event registrations.
func TestSession_ConnectWhileConnectedRejected(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{})

	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	err := s.Connect(context.Background(), chains.WalletMetaMask, "ethereum")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Len(t, provider.reg.accounts, 1)
	assert.Len(t, provider.reg.chain, 1)

	// Disconnect releases the session for a fresh connect.
	s.Disconnect(context.Background())
	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))
	assert.Len(t, provider.reg.accounts, 1)
}

func TestSession_ConnectMovesWalletOntoChain(t *testing.T) {
	provider := newFakeEVM()
	provider.chainID = "0x89" // wallet sits on polygon
	s, _ := newSession(t, provider, Options{})

	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))
	assert.Equal(t, []string{"ethereum"}, provider.switched)
}

func TestSession_WrongWalletForChain(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{})

	err := s.Connect(context.Background(), chains.WalletPhantom, "ethereum")
	require.Error(t, err)
	assert.Equal(t, apperr.WrongNetwork, s.Snapshot().LastError.Category)
}

// Scenario: programmatic switch; the wallet's echo arrives shortly after
// completion and must be absorbed without a parent notification.
func TestSession_ProgrammaticSwitchLatch(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{})
	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	var notifications atomic.Int32
	s.OnChange(func(Snapshot) { notifications.Add(1) })

	require.NoError(t, s.SwitchChain(context.Background(), "polygon"))
	assert.Equal(t, "polygon", s.Snapshot().Chain)

	// Echo within the latch window: absorbed.
	provider.reg.emitChain("0x89")
	assert.Equal(t, int32(0), notifications.Load())
	assert.Equal(t, "polygon", s.Snapshot().Chain)

	// The latch is consumed; a genuine external switch notifies.
	provider.reg.emitChain("0x1")
	assert.Equal(t, int32(1), notifications.Load())
	assert.Equal(t, "ethereum", s.Snapshot().Chain)
}

func TestSession_SwitchChainNoOpAndDuplicates(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{})
	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	require.NoError(t, s.SwitchChain(context.Background(), "ethereum"))
	assert.Empty(t, provider.switched, "same-chain switch must not touch the wallet")

	err := s.SwitchChain(context.Background(), "solana")
	require.Error(t, err, "family change requires reconnect")
}

func TestSession_ExternalAccountEvents(t *testing.T) {
	provider := newFakeEVM()
	s, _ := newSession(t, provider, Options{})
	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	var notifications atomic.Int32
	s.OnChange(func(Snapshot) { notifications.Add(1) })

	provider.reg.emitAccounts([]string{addr2})
	assert.Equal(t, addr2, s.Snapshot().Address)
	assert.Equal(t, int32(1), notifications.Load())

	// Empty account list means the wallet revoked access.
	provider.reg.emitAccounts(nil)
	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.Address)
}

func TestSession_HintPersistAndRestore(t *testing.T) {
	provider := newFakeEVM()
	balances := &fakeBalances{amounts: map[string]decimal.Decimal{}}
	hints, err := store.Open(filepath.Join(t.TempDir(), "hints.db"))
	require.NoError(t, err)
	providers := map[chains.Family]Provider{chains.FamilyEVM: provider}

	s := NewSession(providers, balances, hints, Options{Persist: true})
	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "polygon"))

	var hint Hint
	require.True(t, hints.GetJSON(store.KeyWalletSessionHint, &hint))
	assert.Equal(t, "evm", hint.Family)
	assert.Equal(t, "polygon", hint.Chain)

	// A fresh session over the same store restores silently.
	restored := NewSession(providers, balances, hints, Options{Persist: true, AutoConnect: true})
	require.True(t, restored.Restore(context.Background()))
	snap := restored.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "polygon", snap.Chain)
	assert.Equal(t, chains.WalletMetaMask, snap.WalletKind)

	// Disconnect clears the hint; restore then declines.
	restored.Disconnect(context.Background())
	third := NewSession(providers, balances, hints, Options{AutoConnect: true})
	assert.False(t, third.Restore(context.Background()))
}

func TestSession_RefreshBalancesPartialFailure(t *testing.T) {
	provider := newFakeEVM()
	s, balances := newSession(t, provider, Options{})
	balances.failFor = map[string]bool{knownTokens["ethereum"]["USDC"]: true}

	require.NoError(t, s.Connect(context.Background(), chains.WalletMetaMask, "ethereum"))

	snap := s.Snapshot()
	assert.True(t, snap.Balances["ETH"].Equal(decimal.RequireFromString("1.5")))
	_, hasUSDC := snap.Balances["USDC"]
	assert.False(t, hasUSDC, "failed token fetch is skipped, not fatal")
	assert.True(t, snap.Connected)
}

func TestSession_SolanaSwitchIsNoOp(t *testing.T) {
	provider := &fakeProvider{
		kind:     chains.WalletPhantom,
		family:   chains.FamilySolana,
		accounts: []string{"4Nd1mYbJcVrcVYtPmYLdFzrdQqyBVDC2XbsMdPZQx6uW"},
		chainID:  chains.SolanaWireID,
	}
	s, _ := newSession(t, provider, Options{})
	require.NoError(t, s.Connect(context.Background(), chains.WalletPhantom, "solana"))

	require.NoError(t, s.SwitchChain(context.Background(), "solana"))
	assert.Equal(t, "solana", s.Snapshot().Chain)
}
