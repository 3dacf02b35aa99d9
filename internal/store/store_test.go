package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "hints.db"))
	require.NoError(t, err)

	s.Set(KeySessionID, "abc123")
	got, ok := s.Get(KeySessionID)
	require.True(t, ok)
	assert.Equal(t, "abc123", got)

	s.Set(KeySessionID, "def456")
	got, _ = s.Get(KeySessionID)
	assert.Equal(t, "def456", got)

	s.Delete(KeySessionID)
	_, ok = s.Get(KeySessionID)
	assert.False(t, ok)
}

func TestStore_JSONHint(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "hints.db"))
	require.NoError(t, err)

	type hint struct {
		Family     string `json:"family"`
		WalletKind string `json:"wallet_kind"`
		Chain      string `json:"chain"`
	}
	s.SetJSON(KeyWalletSessionHint, hint{Family: "evm", WalletKind: "metamask", Chain: "polygon"})

	var loaded hint
	require.True(t, s.GetJSON(KeyWalletSessionHint, &loaded))
	assert.Equal(t, "polygon", loaded.Chain)
	assert.Equal(t, "metamask", loaded.WalletKind)
}

func TestStore_DisabledIsSilent(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	s.Set(KeySessionID, "ignored")
	_, ok := s.Get(KeySessionID)
	assert.False(t, ok)

	var v map[string]string
	assert.False(t, s.GetJSON(KeyWalletSessionHint, &v))
}
