// Package chains holds the static table of networks the console trades on.
package chains

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Family groups chains by wallet capability set.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// WalletKind identifies a wallet extension flavor.
type WalletKind string

const (
	WalletMetaMask WalletKind = "metamask"
	WalletCoinbase WalletKind = "coinbase"
	WalletPhantom  WalletKind = "phantom"
	WalletSolflare WalletKind = "solflare"
)

// SolanaWireID is the chain id Solana providers report; Solana has no
// numeric chain id on the wire.
const SolanaWireID = "solana"

// Descriptor describes one supported network. Static; never mutated.
type Descriptor struct {
	ID            string
	DisplayName   string
	NativeSymbol  string
	WireID        string // hex chain id for EVM, "solana" otherwise
	RPCURL        string
	ExplorerBase  string
	WalletKinds   []WalletKind
}

var table = map[string]Descriptor{
	"ethereum": {
		ID:           "ethereum",
		DisplayName:  "Ethereum",
		NativeSymbol: "ETH",
		WireID:       evmWireID(1),
		RPCURL:       "https://eth.llamarpc.com",
		ExplorerBase: "https://etherscan.io",
		WalletKinds:  []WalletKind{WalletMetaMask, WalletCoinbase},
	},
	"bsc": {
		ID:           "bsc",
		DisplayName:  "BNB Smart Chain",
		NativeSymbol: "BNB",
		WireID:       evmWireID(56),
		RPCURL:       "https://bsc-dataseed.binance.org",
		ExplorerBase: "https://bscscan.com",
		WalletKinds:  []WalletKind{WalletMetaMask, WalletCoinbase},
	},
	"polygon": {
		ID:           "polygon",
		DisplayName:  "Polygon",
		NativeSymbol: "MATIC",
		WireID:       evmWireID(137),
		RPCURL:       "https://polygon-rpc.com",
		ExplorerBase: "https://polygonscan.com",
		WalletKinds:  []WalletKind{WalletMetaMask, WalletCoinbase},
	},
	"base": {
		ID:           "base",
		DisplayName:  "Base",
		NativeSymbol: "ETH",
		WireID:       evmWireID(8453),
		RPCURL:       "https://mainnet.base.org",
		ExplorerBase: "https://basescan.org",
		WalletKinds:  []WalletKind{WalletMetaMask, WalletCoinbase},
	},
	"arbitrum": {
		ID:           "arbitrum",
		DisplayName:  "Arbitrum One",
		NativeSymbol: "ETH",
		WireID:       evmWireID(42161),
		RPCURL:       "https://arb1.arbitrum.io/rpc",
		ExplorerBase: "https://arbiscan.io",
		WalletKinds:  []WalletKind{WalletMetaMask, WalletCoinbase},
	},
	"solana": {
		ID:           "solana",
		DisplayName:  "Solana",
		NativeSymbol: "SOL",
		WireID:       SolanaWireID,
		RPCURL:       "https://api.mainnet-beta.solana.com",
		ExplorerBase: "https://solscan.io",
		WalletKinds:  []WalletKind{WalletPhantom, WalletSolflare},
	},
}

func evmWireID(id int64) string {
	return hexutil.EncodeBig(big.NewInt(id))
}

// Get returns the descriptor for a chain id.
func Get(id string) (Descriptor, bool) {
	d, ok := table[id]
	return d, ok
}

// FamilyOf returns the wallet family a chain belongs to.
func FamilyOf(id string) Family {
	if id == "solana" {
		return FamilySolana
	}
	return FamilyEVM
}

// ByWireID finds the chain with the given wire id (hex for EVM).
func ByWireID(wireID string) (Descriptor, bool) {
	for _, d := range table {
		if d.WireID == wireID {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Supports reports whether kind can serve chain id.
func Supports(id string, kind WalletKind) bool {
	d, ok := table[id]
	if !ok {
		return false
	}
	for _, k := range d.WalletKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// All returns every descriptor. Order is unspecified.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(table))
	for _, d := range table {
		out = append(out, d)
	}
	return out
}
