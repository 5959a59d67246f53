package amm

import (
	"math"
	"math/big"
	"testing"
)

func TestSqrtRatioAtTickZero(t *testing.T) {
	got := SqrtRatioAtTick(0)
	want, _ := new(big.Int).SetString("79228162514264337593543950336", 10) // 2^96
	if got.Cmp(want) != 0 {
		t.Fatalf("sqrt ratio at tick 0: got %s want %s", got, want)
	}
}

func TestSqrtRatioAtTickMonotonic(t *testing.T) {
	ticks := []int32{-100000, -1000, -10, -1, 0, 1, 10, 1000, 100000}
	prev := SqrtRatioAtTick(ticks[0])
	for _, tick := range ticks[1:] {
		cur := SqrtRatioAtTick(tick)
		if cur.Cmp(prev) <= 0 {
			t.Fatalf("sqrt ratio not increasing at tick %d", tick)
		}
		prev = cur
	}
}

func TestSqrtRatioMatchesFloatPrice(t *testing.T) {
	for _, tick := range []int32{-5000, -60, 0, 60, 5000, 20000} {
		sqrt := SqrtRatioAtTick(tick)
		got := PriceFromSqrtX96(sqrt)
		want := PriceFromTick(tick)
		if math.Abs(got-want)/want > 1e-9 {
			t.Fatalf("tick %d: price from sqrt %g, from tick %g", tick, got, want)
		}
	}
}

func TestTokenAmountsRangeCases(t *testing.T) {
	liquidity := big.NewInt(1_000_000_000)

	// Below range: entirely token0.
	amount0, amount1 := TokenAmounts(liquidity, SqrtRatioAtTick(-2000), -1000, 1000, -2000)
	if amount0.Sign() <= 0 {
		t.Fatalf("below range amount0 = %s, want > 0", amount0)
	}
	if amount1.Sign() != 0 {
		t.Fatalf("below range amount1 = %s, want 0", amount1)
	}

	// At or above upper: entirely token1.
	amount0, amount1 = TokenAmounts(liquidity, SqrtRatioAtTick(1000), -1000, 1000, 1000)
	if amount0.Sign() != 0 {
		t.Fatalf("above range amount0 = %s, want 0", amount0)
	}
	if amount1.Sign() <= 0 {
		t.Fatalf("above range amount1 = %s, want > 0", amount1)
	}

	// In range: both strictly positive.
	amount0, amount1 = TokenAmounts(liquidity, SqrtRatioAtTick(0), -1000, 1000, 0)
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		t.Fatalf("in range amounts = %s, %s, want both > 0", amount0, amount1)
	}
}

func TestTokenAmountsSymmetricRange(t *testing.T) {
	liquidity := big.NewInt(1_000_000_000)
	sqrtPrice := new(big.Int).Lsh(big.NewInt(1), 96) // tick 0

	amount0, amount1 := TokenAmounts(liquidity, sqrtPrice, -1000, 1000, 0)
	if amount0.Sign() == 0 || amount1.Sign() == 0 {
		t.Fatalf("symmetric range produced a zero amount: %s, %s", amount0, amount1)
	}

	a0, _ := new(big.Float).SetInt(amount0).Float64()
	a1, _ := new(big.Float).SetInt(amount1).Float64()
	if ratio := a0 / a1; ratio < 0.9 || ratio > 1.1 {
		t.Fatalf("symmetric range amounts not roughly equal: %g vs %g", a0, a1)
	}
}

func TestTokenAmountsZeroLiquidity(t *testing.T) {
	amount0, amount1 := TokenAmounts(big.NewInt(0), SqrtRatioAtTick(0), -1000, 1000, 0)
	if amount0.Sign() != 0 || amount1.Sign() != 0 {
		t.Fatalf("zero liquidity amounts = %s, %s", amount0, amount1)
	}
}

func TestUnclaimedFees(t *testing.T) {
	liquidity := big.NewInt(1_000_000)
	inside := new(big.Int).Lsh(big.NewInt(5), 128) // 5 tokens per unit liquidity
	last := new(big.Int).Lsh(big.NewInt(2), 128)

	fees := UnclaimedFees(liquidity, inside, last)
	want := big.NewInt(3_000_000)
	if fees.Cmp(want) != 0 {
		t.Fatalf("fees = %s, want %s", fees, want)
	}
}

func TestUnclaimedFeesWraparound(t *testing.T) {
	liquidity := big.NewInt(1000)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// Accumulator snapshot near 2^256, current value wrapped past zero. The
	// modular delta is (max - last) + inside + 1.
	last := new(big.Int).Sub(max, new(big.Int).Lsh(big.NewInt(1), 128))
	inside := new(big.Int).Lsh(big.NewInt(3), 128)

	fees := UnclaimedFees(liquidity, inside, last)
	if fees.Sign() < 0 {
		t.Fatalf("wraparound fees negative: %s", fees)
	}
	// delta = 2^128 + 3*2^128 + 1, fees = delta * 1000 >> 128 = 4000.
	if fees.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("wraparound fees = %s, want 4000", fees)
	}
}

func TestFeeGrowthInside(t *testing.T) {
	global := big.NewInt(1000)
	lower := big.NewInt(100)
	upper := big.NewInt(200)

	// Current tick inside the range: inside = global - lower - upper.
	inside := FeeGrowthInside(global, lower, upper, -10, 10, 0)
	if inside.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("inside = %s, want 700", inside)
	}

	// Current tick below the range: below = global - lower, so
	// inside = global - (global - lower) - upper = lower - upper mod 2^256.
	inside = FeeGrowthInside(global, lower, upper, -10, 10, -20)
	want := new(big.Int).Add(
		new(big.Int).Sub(big.NewInt(100), big.NewInt(200)),
		new(big.Int).Lsh(big.NewInt(1), 256),
	)
	if inside.Cmp(want) != 0 {
		t.Fatalf("below-range inside = %s, want %s", inside, want)
	}
}

func TestHoldVsLP(t *testing.T) {
	if il := HoldVsLP(1); il != 0 {
		t.Fatalf("no price move should have zero IL, got %g", il)
	}
	il := HoldVsLP(4)
	if math.Abs(il-(-0.2)) > 1e-12 {
		t.Fatalf("4x price move IL = %g, want -0.2", il)
	}
	if HoldVsLP(0.25) >= 0 {
		t.Fatalf("IL must be non-positive")
	}
}
