package dex

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo is the static metadata for a tracked token.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
}

// TokenTable resolves token addresses to symbols and decimals from a static
// table instead of on-chain calls. Unknown addresses get a truncated-address
// pseudo symbol and the 18-decimal default.
type TokenTable struct {
	tokens map[common.Address]TokenInfo
}

// Well-known HyperEVM token addresses.
var (
	WrappedHYPE = common.HexToAddress("0x5555555555555555555555555555555555555555")
	USDT0       = common.HexToAddress("0xb8ce59fc3717ada4c02eadf9682a9e934f625ebb")
)

// NativeSymbol is the gas token symbol used for wallet balances.
const NativeSymbol = "HYPE"

// StableSymbol is the tracked stablecoin, pinned to 1.0 in pricing.
const StableSymbol = "USDT0"

// NewTokenTable builds the default table: the native/wrapped gas token forms
// and the tracked stablecoin.
func NewTokenTable() *TokenTable {
	return &TokenTable{tokens: map[common.Address]TokenInfo{
		WrappedHYPE: {Symbol: "WHYPE", Decimals: 18},
		USDT0:       {Symbol: StableSymbol, Decimals: 6},
	}}
}

// Add registers extra tokens, overriding existing entries.
func (t *TokenTable) Add(address common.Address, info TokenInfo) {
	t.tokens[address] = info
}

// Lookup returns the token info for an address, falling back to a truncated
// pseudo symbol for unknown tokens.
func (t *TokenTable) Lookup(address common.Address) TokenInfo {
	if info, ok := t.tokens[address]; ok {
		return info
	}
	return TokenInfo{Symbol: pseudoSymbol(address), Decimals: 18}
}

func pseudoSymbol(address common.Address) string {
	hex := address.Hex()
	return strings.ToUpper(hex[2:6]) + ".." + strings.ToUpper(hex[len(hex)-4:])
}
