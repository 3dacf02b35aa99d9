package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ProviderCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		message  string
		category Category
		recovery Recovery
	}{
		{"user rejection", 4001, "User denied", UserRejected, RecoveryNone},
		{"unauthorized", 4100, "not authorized", WalletLocked, RecoveryUnlockWallet},
		{"disconnected", 4900, "disconnected", NetworkUnavailable, RecoveryRetry},
		{"unknown chain", 4902, "Unrecognized chain ID", WrongNetwork, RecoverySwitchNetwork},
		{"pending request", -32002, "Request already pending", WalletLocked, RecoveryUnlockWallet},
		{"internal", -32603, "Internal JSON-RPC error", Internal, RecoveryRetry},
		{"funds by message", -32000, "insufficient funds for gas", InsufficientFunds, RecoveryNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify("connect", &ProviderError{Code: tt.code, Message: tt.message})
			require.NotNil(t, c)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.recovery, c.Recovery)
			assert.Equal(t, "connect", c.Operation)
			assert.NotEmpty(t, c.UserMessage)
		})
	}
}

func TestClassify_HTTP(t *testing.T) {
	c := Classify("start", &HTTPError{StatusCode: 429, Detail: "slow down"})
	assert.Equal(t, RateLimited, c.Category)

	c = Classify("start", &HTTPError{StatusCode: 503, Detail: ""})
	assert.Equal(t, BackendUnavailable, c.Category)
	assert.Equal(t, RecoveryRetry, c.Recovery)

	c = Classify("start", &HTTPError{StatusCode: 422, Detail: "mode must be one of: standard, conservative"})
	assert.Equal(t, Internal, c.Category)
	assert.Equal(t, "mode must be one of: standard, conservative", c.UserMessage)
	assert.Equal(t, RecoveryNone, c.Recovery)
}

func TestClassify_Transport(t *testing.T) {
	c := Classify("health", fmt.Errorf("Get \"http://localhost:8001/api/v1/health/\": dial tcp 127.0.0.1:8001: connect: connection refused"))
	assert.Equal(t, BackendUnavailable, c.Category)
	assert.Equal(t, RecoveryRetry, c.Recovery)

	c = Classify("status", context.DeadlineExceeded)
	assert.Equal(t, Timeout, c.Category)

	c = Classify("status", context.Canceled)
	assert.Equal(t, Internal, c.Category)
	assert.Equal(t, RecoveryNone, c.Recovery)
}

func TestClassify_WalletSentinels(t *testing.T) {
	c := Classify("connect", ErrProviderMissing)
	assert.Equal(t, WalletNotInstalled, c.Category)
	assert.Equal(t, RecoveryInstallWallet, c.Recovery)

	c = Classify("switch", fmt.Errorf("switching: %w", ErrWrongNetwork))
	assert.Equal(t, WrongNetwork, c.Category)
	assert.Equal(t, RecoverySwitchNetwork, c.Recovery)
}

// Classification must be total: any input gives a result, nothing panics.
func TestClassify_Total(t *testing.T) {
	inputs := []error{
		nil,
		errors.New(""),
		errors.New("???"),
		&ProviderError{Code: 99999, Message: ""},
		&HTTPError{StatusCode: 302},
		fmt.Errorf("wrapped: %w", errors.New("inner")),
	}
	for _, err := range inputs {
		c := Classify("op", err)
		require.NotNil(t, c)
		assert.NotEmpty(t, c.Category)
		assert.NotEmpty(t, c.UserMessage)
		assert.NotEmpty(t, c.Recovery)
		assert.False(t, c.At.IsZero())
	}
}

func TestClassified_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	c := Classify("refresh", inner)
	assert.ErrorIs(t, c, inner)
	assert.Contains(t, c.Error(), "refresh")
}
