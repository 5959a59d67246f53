package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LPPosition is one NFT liquidity position, fully reconstructed on every
// discovery pass. Fields above the valuation block come straight from the
// position manager; the valuation block is derived and zero when the pool
// state was unavailable.
type LPPosition struct {
	TokenID         *big.Int
	DEX             string
	PositionManager common.Address
	Pool            common.Address

	Token0  common.Address
	Token1  common.Address
	Symbol0 string
	Symbol1 string
	Fee     uint32

	TickLower int32
	TickUpper int32
	Liquidity *big.Int

	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int

	// Derived valuation. Amounts are human units (raw / 10^decimals).
	InRange     bool
	Amount0     float64
	Amount1     float64
	ValueUSD    float64
	FeesUSD     float64
	FeeAPR      float64
	HoldVsLPPct float64
}

// Closed reports whether the position holds no liquidity. Closed positions
// stay discoverable but are excluded from valuation.
func (p LPPosition) Closed() bool {
	return p.Liquidity == nil || p.Liquidity.Sign() == 0
}
