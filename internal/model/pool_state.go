package model

import "math/big"

// PoolState is a per-fetch snapshot of one concentrated-liquidity pool.
// The fee growth accumulators are optional: pools on forks that expose no
// feeGrowthGlobal view leave them nil, which disables unclaimed-fee math
// for their positions.
type PoolState struct {
	SqrtPriceX96         *big.Int
	Tick                 int32
	Liquidity            *big.Int
	FeeGrowthGlobal0X128 *big.Int
	FeeGrowthGlobal1X128 *big.Int
}

// HasFeeGrowth reports whether both global accumulators were fetched.
func (p PoolState) HasFeeGrowth() bool {
	return p.FeeGrowthGlobal0X128 != nil && p.FeeGrowthGlobal1X128 != nil
}
