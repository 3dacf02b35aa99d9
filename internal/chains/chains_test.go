package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireIDs(t *testing.T) {
	eth, ok := Get("ethereum")
	require.True(t, ok)
	assert.Equal(t, "0x1", eth.WireID)

	poly, ok := Get("polygon")
	require.True(t, ok)
	assert.Equal(t, "0x89", poly.WireID)

	sol, ok := Get("solana")
	require.True(t, ok)
	assert.Equal(t, SolanaWireID, sol.WireID)
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilySolana, FamilyOf("solana"))
	for _, id := range []string{"ethereum", "bsc", "polygon", "base", "arbitrum"} {
		assert.Equal(t, FamilyEVM, FamilyOf(id), id)
	}
}

func TestByWireID(t *testing.T) {
	d, ok := ByWireID("0x38")
	require.True(t, ok)
	assert.Equal(t, "bsc", d.ID)

	_, ok = ByWireID("0xdeadbeef")
	assert.False(t, ok)
}

func TestSupports(t *testing.T) {
	assert.True(t, Supports("ethereum", WalletMetaMask))
	assert.False(t, Supports("ethereum", WalletPhantom))
	assert.True(t, Supports("solana", WalletPhantom))
	assert.False(t, Supports("nope", WalletMetaMask))
}
