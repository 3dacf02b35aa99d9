// Package wallet coordinates wallet connectivity for the console: two
// provider families behind one capability set, and a session singleton
// that tracks the connected wallet, its chain, and its balances.
package wallet

import (
	"context"

	"github.com/dexsniper/snipectl/internal/chains"
)

// AccountsHandler receives external account-change notifications.
type AccountsHandler func(accounts []string)

// ChainHandler receives external chain-change notifications carrying
// the provider's wire id.
type ChainHandler func(wireID string)

// Provider is the uniform capability set over a wallet extension bridge.
// Providers are injected at session construction, never discovered from
// globals, so tests can substitute fakes.
type Provider interface {
	Kind() chains.WalletKind
	Family() chains.Family

	// Connect prompts the wallet for access and returns the accounts.
	Connect(ctx context.Context) ([]string, error)
	// Accounts lists accounts. In trusted mode it must never prompt,
	// returning an empty slice when access was not previously granted.
	Accounts(ctx context.Context, trusted bool) ([]string, error)
	// Disconnect revokes the connection where the wallet supports it.
	Disconnect(ctx context.Context) error

	// ChainID reports the wallet's current chain wire id.
	ChainID(ctx context.Context) (string, error)
	// SwitchChain moves the wallet to the target chain, adding it first
	// when the wallet does not know it.
	SwitchChain(ctx context.Context, target chains.Descriptor) error

	// SignMessage asks the wallet to sign message for address.
	SignMessage(ctx context.Context, address string, message []byte) (string, error)

	// OnAccountsChanged and OnChainChanged register external-event
	// handlers and return their unsubscribe functions.
	OnAccountsChanged(h AccountsHandler) (unsubscribe func())
	OnChainChanged(h ChainHandler) (unsubscribe func())
}
