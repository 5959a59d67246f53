package dex

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"deltaScope/internal/amm"
	"deltaScope/internal/model"
)

// valuePosition fills the derived valuation block of one position. A
// missing pool state leaves the position with InRange=false and zero
// valuation instead of dropping it.
func (e *Engine) valuePosition(ctx context.Context, position *discovered, states map[common.Address]model.PoolState, tickGrowth map[tickKey]tickFeeGrowth) {
	if position.Closed() {
		return
	}

	state, ok := states[position.Pool]
	if !ok {
		e.logger.Warn("pool state unavailable, position not valued",
			zap.String("exchange", position.DEX),
			zap.String("pool", position.Pool.Hex()),
		)
		return
	}

	position.InRange = position.TickLower <= state.Tick && state.Tick < position.TickUpper

	raw0, raw1 := amm.TokenAmounts(position.Liquidity, state.SqrtPriceX96, position.TickLower, position.TickUpper, state.Tick)

	info0 := e.tokens.Lookup(position.Token0)
	info1 := e.tokens.Lookup(position.Token1)
	position.Amount0 = humanAmount(raw0, info0.Decimals)
	position.Amount1 = humanAmount(raw1, info1.Decimals)

	price0 := e.price(ctx, info0.Symbol)
	price1 := e.price(ctx, info1.Symbol)
	position.ValueUSD = position.Amount0*price0 + position.Amount1*price1

	fees0, fees1 := e.unclaimedFees(position, state, tickGrowth)
	position.FeesUSD = humanAmount(fees0, info0.Decimals)*price0 + humanAmount(fees1, info1.Decimals)*price1

	// Daily fee run-rate annualized as a percentage; zero value means zero
	// APR, guarding the division rather than claiming a true yield.
	if position.ValueUSD > 0 {
		position.FeeAPR = position.FeesUSD * 365 * 100 / position.ValueUSD
	}

	// Divergence loss versus holding, measured from the range midpoint as
	// the entry price proxy. Zero at the midpoint, negative either side.
	midTick := (position.TickLower + position.TickUpper) / 2
	ratio := amm.PriceFromTick(state.Tick) / amm.PriceFromTick(midTick)
	position.HoldVsLPPct = amm.HoldVsLP(ratio) * 100
}

// unclaimedFees combines the already-accounted tokensOwed with the fee
// growth accrued since the position's last accumulator snapshot.
func (e *Engine) unclaimedFees(position *discovered, state model.PoolState, tickGrowth map[tickKey]tickFeeGrowth) (*big.Int, *big.Int) {
	fees0 := new(big.Int)
	fees1 := new(big.Int)
	if position.TokensOwed0 != nil {
		fees0.Set(position.TokensOwed0)
	}
	if position.TokensOwed1 != nil {
		fees1.Set(position.TokensOwed1)
	}

	if !state.HasFeeGrowth() {
		return fees0, fees1
	}
	lower, okLower := tickGrowth[tickKey{position.Pool, position.TickLower}]
	upper, okUpper := tickGrowth[tickKey{position.Pool, position.TickUpper}]
	if !okLower || !okUpper {
		return fees0, fees1
	}
	if position.FeeGrowthInside0LastX128 == nil || position.FeeGrowthInside1LastX128 == nil {
		return fees0, fees1
	}

	inside0 := amm.FeeGrowthInside(state.FeeGrowthGlobal0X128, lower.outside0, upper.outside0, position.TickLower, position.TickUpper, state.Tick)
	inside1 := amm.FeeGrowthInside(state.FeeGrowthGlobal1X128, lower.outside1, upper.outside1, position.TickLower, position.TickUpper, state.Tick)

	fees0.Add(fees0, amm.UnclaimedFees(position.Liquidity, inside0, position.FeeGrowthInside0LastX128))
	fees1.Add(fees1, amm.UnclaimedFees(position.Liquidity, inside1, position.FeeGrowthInside1LastX128))
	return fees0, fees1
}

func (e *Engine) price(ctx context.Context, symbol string) float64 {
	if e.cache == nil {
		return 0
	}
	price, ok := e.cache.Price(ctx, symbol)
	if !ok {
		e.logger.Warn("no price for symbol", zap.String("symbol", symbol))
		return 0
	}
	return price
}

func humanAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil || raw.Sign() == 0 {
		return 0
	}
	value, _ := new(big.Float).SetInt(raw).Float64()
	return value / math.Pow10(int(decimals))
}
