// Package apperr maps raw transport, backend, and wallet-provider errors
// to a closed taxonomy with user-facing messages and recovery hints.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Category identifies what went wrong, independent of where.
type Category string

const (
	UserRejected       Category = "user_rejected"
	WalletNotInstalled Category = "wallet_not_installed"
	WalletLocked       Category = "wallet_locked"
	WrongNetwork       Category = "wrong_network"
	NetworkUnavailable Category = "network_unavailable"
	BackendUnavailable Category = "backend_unavailable"
	Timeout            Category = "timeout"
	InsufficientFunds  Category = "insufficient_funds"
	RateLimited        Category = "rate_limited"
	Internal           Category = "internal"
	Unknown            Category = "unknown"
)

// Recovery is the action the operator can take to get unstuck.
type Recovery string

const (
	RecoveryRetry          Recovery = "retry"
	RecoveryConnectWallet  Recovery = "connect_wallet"
	RecoverySwitchNetwork  Recovery = "switch_network"
	RecoveryInstallWallet  Recovery = "install_wallet"
	RecoveryUnlockWallet   Recovery = "unlock_wallet"
	RecoveryContactSupport Recovery = "contact_support"
	RecoveryNone           Recovery = "none"
)

// Classified is the only error shape surfaced to console state.
type Classified struct {
	Category    Category
	UserMessage string
	Recovery    Recovery
	Operation   string
	At          time.Time
	Cause       error
}

func (c *Classified) Error() string {
	if c.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", c.Operation, c.Category, c.Cause)
	}
	return fmt.Sprintf("%s: %s", c.Operation, c.Category)
}

func (c *Classified) Unwrap() error { return c.Cause }

// ProviderError is a wallet-provider rejection carrying the EIP-1193 /
// EIP-1474 numeric code.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx backend response. Detail carries the parsed
// `detail` field when the body had one, otherwise the status text.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Detail)
}

// ErrProviderMissing is returned by wallet adapters when the expected
// provider bridge is not reachable at all.
var ErrProviderMissing = errors.New("wallet provider not available")

// ErrWrongNetwork is returned when the provider reports a chain the
// session did not ask for and cannot switch away from.
var ErrWrongNetwork = errors.New("wallet is on the wrong network")

// ErrConnectionLost is wrapped by transport code when a connection could
// not be re-established within its reconnect budget.
var ErrConnectionLost = errors.New("connection lost")

// ErrNoWalletSession marks operations that need a connected wallet.
var ErrNoWalletSession = errors.New("no wallet connected")

// Classify maps any error to a Classified. It is total: every input,
// including nil, yields a non-nil result and nothing ever panics.
func Classify(operation string, err error) *Classified {
	c := &Classified{
		Category:    Unknown,
		UserMessage: "Something went wrong. Please try again.",
		Recovery:    RecoveryRetry,
		Operation:   operation,
		At:          time.Now(),
		Cause:       err,
	}

	if err == nil {
		c.Category = Internal
		c.UserMessage = "An internal error occurred."
		c.Recovery = RecoveryContactSupport
		return c
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return classifyProvider(c, provErr)
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(c, httpErr)
	}

	if errors.Is(err, ErrProviderMissing) {
		c.Category = WalletNotInstalled
		c.UserMessage = "No wallet was found. Install MetaMask or Phantom to continue."
		c.Recovery = RecoveryInstallWallet
		return c
	}

	if errors.Is(err, ErrWrongNetwork) {
		c.Category = WrongNetwork
		c.UserMessage = "Your wallet is on a different network. Switch to continue."
		c.Recovery = RecoverySwitchNetwork
		return c
	}

	if errors.Is(err, ErrNoWalletSession) {
		c.Category = Internal
		c.UserMessage = "Connect a wallet first."
		c.Recovery = RecoveryConnectWallet
		return c
	}

	if errors.Is(err, ErrConnectionLost) {
		c.Category = BackendUnavailable
		c.UserMessage = "Lost the connection to the trading backend. Reconnect to resume."
		c.Recovery = RecoveryRetry
		return c
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.Category = Timeout
		c.UserMessage = "The request timed out. Please try again."
		c.Recovery = RecoveryRetry
		return c
	}

	if errors.Is(err, context.Canceled) {
		c.Category = Internal
		c.UserMessage = "The operation was cancelled."
		c.Recovery = RecoveryNone
		return c
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			c.Category = Timeout
			c.UserMessage = "The request timed out. Please try again."
		} else {
			c.Category = BackendUnavailable
			c.UserMessage = "Could not reach the trading backend. Check that it is running."
		}
		c.Recovery = RecoveryRetry
		return c
	}

	return classifyByText(c, err)
}

func classifyProvider(c *Classified, err *ProviderError) *Classified {
	switch err.Code {
	case 4001:
		c.Category = UserRejected
		c.UserMessage = "Request was rejected in the wallet."
		c.Recovery = RecoveryNone
	case 4100:
		c.Category = WalletLocked
		c.UserMessage = "The wallet has not authorized this request. Unlock it and reconnect."
		c.Recovery = RecoveryUnlockWallet
	case 4900, 4901:
		c.Category = NetworkUnavailable
		c.UserMessage = "The wallet lost its network connection."
		c.Recovery = RecoveryRetry
	case 4902:
		c.Category = WrongNetwork
		c.UserMessage = "This network is not configured in your wallet."
		c.Recovery = RecoverySwitchNetwork
	case -32002:
		c.Category = WalletLocked
		c.UserMessage = "A wallet request is already pending. Open the wallet to continue."
		c.Recovery = RecoveryUnlockWallet
	case -32603:
		c.Category = Internal
		c.UserMessage = "The wallet reported an internal error."
		c.Recovery = RecoveryRetry
	default:
		lower := strings.ToLower(err.Message)
		switch {
		case strings.Contains(lower, "insufficient funds"):
			c.Category = InsufficientFunds
			c.UserMessage = "Insufficient funds for this transaction."
			c.Recovery = RecoveryNone
		case strings.Contains(lower, "reject"), strings.Contains(lower, "denied"):
			c.Category = UserRejected
			c.UserMessage = "Request was rejected in the wallet."
			c.Recovery = RecoveryNone
		default:
			c.Category = Unknown
			c.UserMessage = "The wallet returned an unexpected error."
			c.Recovery = RecoveryRetry
		}
	}
	return c
}

func classifyHTTP(c *Classified, err *HTTPError) *Classified {
	switch {
	case err.StatusCode == 429:
		c.Category = RateLimited
		c.UserMessage = "Too many requests. Wait a moment and retry."
		c.Recovery = RecoveryRetry
	case err.StatusCode >= 500:
		c.Category = BackendUnavailable
		c.UserMessage = "The trading backend reported an error. Try again shortly."
		c.Recovery = RecoveryRetry
	case err.StatusCode >= 400:
		c.Category = Internal
		c.UserMessage = err.Detail
		if c.UserMessage == "" {
			c.UserMessage = "The request was rejected by the backend."
		}
		c.Recovery = RecoveryNone
	default:
		c.Category = Unknown
		c.UserMessage = "Unexpected backend response."
		c.Recovery = RecoveryRetry
	}
	return c
}

// classifyByText is the last resort: match well-known substrings the way
// browsers and wallet extensions word their failures.
func classifyByText(c *Classified, err error) *Classified {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "failed to fetch"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "econnrefused"):
		c.Category = BackendUnavailable
		c.UserMessage = "Could not reach the trading backend. Check that it is running."
		c.Recovery = RecoveryRetry
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient balance"):
		c.Category = InsufficientFunds
		c.UserMessage = "Insufficient funds for this transaction."
		c.Recovery = RecoveryNone
	case strings.Contains(lower, "user rejected"),
		strings.Contains(lower, "user denied"):
		c.Category = UserRejected
		c.UserMessage = "Request was rejected in the wallet."
		c.Recovery = RecoveryNone
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		c.Category = Timeout
		c.UserMessage = "The request timed out. Please try again."
		c.Recovery = RecoveryRetry
	case strings.Contains(lower, "locked"):
		c.Category = WalletLocked
		c.UserMessage = "The wallet is locked. Unlock it and retry."
		c.Recovery = RecoveryUnlockWallet
	}
	return c
}
