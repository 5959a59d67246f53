// Package amm implements the fixed-point math of a Uniswap-V3-style
// concentrated-liquidity pool on 256-bit integers, with truncating division
// throughout so results match the contract's own accounting bit for bit.
package amm

import (
	"math"
	"math/big"
)

const (
	// MinTick and MaxTick bound the usable tick range.
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	q32  = new(big.Int).Lsh(big.NewInt(1), 32)
	q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
	q256 = new(big.Int).Lsh(big.NewInt(1), 256)

	maxUint256 = new(big.Int).Sub(q256, big.NewInt(1))

	// Per-bit multipliers for the sqrt ratio ladder, Q128.128.
	sqrtRatioMagic = []string{
		"fffcb933bd6fad37aa2d162d1a594001",
		"fff97272373d413259a46990580e213a",
		"fff2e50f5f656932ef12357cf3c7fdcc",
		"ffe5caca7e10e4e61c3624eaa0941cd0",
		"ffcb9843d60f6159c9db58835c926644",
		"ff973b41fa98c081472e6896dfb254c0",
		"ff2ea16466c96a3843ec78b326b52861",
		"fe5dee046a99a2a811c461f1969c3053",
		"fcbe86c7900a88aedcffc83b479aa3a4",
		"f987a7253ac413176f2b074cf7815e54",
		"f3392b0822b70005940c7a398e4b70f3",
		"e7159475a2c29b7443b29c7fa6e889d9",
		"d097f3bdfd2022b8845ad8f792aa5825",
		"a9f746462d870fdf8a65dc1f90e061e5",
		"70d869a156d2a1b890bb3df62baf32f7",
		"31be135f97d08fd981231505542fcfa6",
		"9aa508b5b7a84e1c677de54f3e99bc9",
		"5d6af8dedb81196699c329225ee604",
		"2216e584f5fa1ea926041bedfe98",
		"48a170391f7dc42444e8fa2",
	}

	sqrtRatioMultipliers = parseMagic()
)

func parseMagic() []*big.Int {
	out := make([]*big.Int, len(sqrtRatioMagic))
	for i, hex := range sqrtRatioMagic {
		v, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			panic("amm: bad sqrt ratio constant " + hex)
		}
		out[i] = v
	}
	return out
}

// SqrtRatioAtTick returns floor(sqrt(1.0001^tick) * 2^96) computed with the
// contract's Q128.128 multiplier ladder. Ticks outside [MinTick, MaxTick]
// are clamped.
func SqrtRatioAtTick(tick int32) *big.Int {
	if tick < MinTick {
		tick = MinTick
	}
	if tick > MaxTick {
		tick = MaxTick
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(big.Int).Lsh(big.NewInt(1), 128)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioMultipliers[0])
	}
	for bit := 1; bit < len(sqrtRatioMultipliers); bit++ {
		if absTick&(1<<uint(bit)) != 0 {
			ratio.Mul(ratio, sqrtRatioMultipliers[bit])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up like the contract does.
	rem := new(big.Int).Mod(ratio, q32)
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio
}

// PriceFromTick returns 1.0001^tick as a float.
func PriceFromTick(tick int32) float64 {
	return math.Pow(1.0001, float64(tick))
}

// PriceFromSqrtX96 returns (sqrtPriceX96 / 2^96)^2 as a float.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(sqrtPriceX96)
	f.Quo(f, new(big.Float).SetInt(q96))
	root, _ := f.Float64()
	return root * root
}

// TokenAmounts converts a position's liquidity and range into raw token
// amounts at the current pool price. Below range the position is entirely
// token0, above range entirely token1, in range a mix priced at
// sqrtPriceCurrentX96.
func TokenAmounts(liquidity *big.Int, sqrtPriceCurrentX96 *big.Int, tickLower, tickUpper, tickCurrent int32) (amount0, amount1 *big.Int) {
	amount0 = new(big.Int)
	amount1 = new(big.Int)
	if liquidity == nil || liquidity.Sign() == 0 {
		return amount0, amount1
	}

	sqrtA := SqrtRatioAtTick(tickLower)
	sqrtB := SqrtRatioAtTick(tickUpper)

	switch {
	case tickCurrent < tickLower:
		amount0 = amount0Delta(liquidity, sqrtA, sqrtB)
	case tickCurrent >= tickUpper:
		amount1 = amount1Delta(liquidity, sqrtA, sqrtB)
	default:
		sqrtCurrent := sqrtPriceCurrentX96
		if sqrtCurrent == nil || sqrtCurrent.Sign() == 0 {
			sqrtCurrent = SqrtRatioAtTick(tickCurrent)
		}
		amount0 = amount0Delta(liquidity, sqrtCurrent, sqrtB)
		amount1 = amount1Delta(liquidity, sqrtA, sqrtCurrent)
	}
	return amount0, amount1
}

// amount0Delta = liquidity * 2^96 * (sqrtB - sqrtA) / (sqrtB * sqrtA),
// floored at each division like the contract.
func amount0Delta(liquidity, sqrtA, sqrtB *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, diff)
	num.Div(num, sqrtB)
	num.Div(num, sqrtA)
	return num
}

// amount1Delta = liquidity * (sqrtB - sqrtA) / 2^96.
func amount1Delta(liquidity, sqrtA, sqrtB *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(liquidity, diff)
	out.Rsh(out, 96)
	return out
}

// subMod256 returns (a - b) mod 2^256. The accumulators wrap on chain, so a
// smaller minuend means one wraparound, never a negative delta.
func subMod256(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		out.Add(out, q256)
	}
	return out
}

// FeeGrowthInside reconstructs the fee growth accrued inside a tick range
// from the global accumulator and the two boundary outside values. All
// subtractions are mod 2^256.
func FeeGrowthInside(feeGrowthGlobal, feeGrowthOutsideLower, feeGrowthOutsideUpper *big.Int, tickLower, tickUpper, tickCurrent int32) *big.Int {
	below := subMod256(feeGrowthGlobal, feeGrowthOutsideLower)
	if tickCurrent >= tickLower {
		below = new(big.Int).Set(feeGrowthOutsideLower)
	}

	above := subMod256(feeGrowthGlobal, feeGrowthOutsideUpper)
	if tickCurrent < tickUpper {
		above = new(big.Int).Set(feeGrowthOutsideUpper)
	}

	return subMod256(subMod256(feeGrowthGlobal, below), above)
}

// UnclaimedFees returns the fees owed to a position since its accumulator
// snapshot: (inside - insideLast) * liquidity / 2^128, wraparound safe.
func UnclaimedFees(liquidity, feeGrowthInside, feeGrowthInsideLast *big.Int) *big.Int {
	if liquidity == nil || liquidity.Sign() == 0 {
		return new(big.Int)
	}
	delta := subMod256(feeGrowthInside, feeGrowthInsideLast)
	delta.Mul(delta, liquidity)
	delta.Rsh(delta, 128)
	return delta
}

// HoldVsLP returns the impermanent-loss fraction of an LP position versus
// holding, given the ratio of current price to entry price. Always <= 0.
func HoldVsLP(priceRatio float64) float64 {
	if priceRatio <= 0 {
		return 0
	}
	return 2*math.Sqrt(priceRatio)/(1+priceRatio) - 1
}
