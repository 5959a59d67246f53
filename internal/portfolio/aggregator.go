// Package portfolio folds heterogeneous position legs into portfolio-level
// delta and yield metrics.
package portfolio

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"deltaScope/internal/model"
)

// leg is one value/APR pair entering the weighted mean. A nil APR means the
// leg carries value but no yield data for the period.
type leg struct {
	valueUSD float64
	apr      *float64
}

// Aggregator combines LP, perp, spot, and wallet legs into PortfolioMetrics.
// The volatile set names the symbols whose unit amounts count toward delta;
// everything else is treated as stable-side value.
type Aggregator struct {
	volatile map[string]struct{}
	logger   *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithVolatileSymbols replaces the volatile asset symbol set.
func WithVolatileSymbols(symbols ...string) Option {
	return func(a *Aggregator) {
		a.volatile = make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			a.volatile[strings.ToUpper(symbol)] = struct{}{}
		}
	}
}

// NewAggregator builds an aggregator tracking the native token and its
// wrapped form as the volatile assets.
func NewAggregator(logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	aggregator := &Aggregator{
		volatile: map[string]struct{}{"HYPE": {}, "WHYPE": {}},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(aggregator)
	}
	return aggregator
}

func (a *Aggregator) isVolatile(symbol string) bool {
	_, ok := a.volatile[strings.ToUpper(symbol)]
	return ok
}

// Aggregate derives portfolio metrics from the four position legs and the
// current annualized funding rates keyed by perp asset.
func (a *Aggregator) Aggregate(
	lpPositions []model.LPPosition,
	perpAccount model.PerpAccount,
	spotBalances []model.SpotBalance,
	walletBalances []model.WalletBalance,
	fundingRates map[string]float64,
) model.PortfolioMetrics {
	var metrics model.PortfolioMetrics
	var legs []leg

	// LP legs: long exposure in the volatile token's unit amount, fee APR
	// applied to every period since unclaimed fees carry no history.
	for _, position := range lpPositions {
		if a.isVolatile(position.Symbol0) {
			metrics.LongDeltaHYPE += position.Amount0
		}
		if a.isVolatile(position.Symbol1) {
			metrics.LongDeltaHYPE += position.Amount1
		}
		metrics.DeployedValueUSD += position.ValueUSD

		entry := leg{valueUSD: position.ValueUSD}
		if position.ValueUSD > 0 {
			apr := position.FeeAPR
			entry.apr = &apr
		}
		legs = append(legs, entry)
	}

	// Perp legs: signed notional, so shorts subtract. Funding accrues to the
	// side opposite the rate's sign.
	for _, position := range perpAccount.Positions {
		delta := position.DeltaContribution()
		if delta >= 0 {
			metrics.LongDeltaHYPE += delta
		} else {
			metrics.ShortDeltaHYPE += delta
		}
		metrics.DeployedValueUSD += position.MarginUsed

		entry := leg{valueUSD: position.NotionalValue()}
		if rate, ok := fundingRates[strings.ToUpper(position.Asset)]; ok {
			apr := rate
			if position.Size > 0 {
				apr = -rate
			}
			entry.apr = &apr
		} else {
			a.logger.Debug("no funding rate for perp asset", zap.String("asset", position.Asset))
		}
		legs = append(legs, entry)
	}

	// Withdrawable venue margin is idle stable-side value: no delta, no
	// yield, but it still weighs into the unmeasured-yield zero.
	if perpAccount.WithdrawableUSD > 0 {
		metrics.IdleValueUSD += perpAccount.WithdrawableUSD
		legs = append(legs, leg{valueUSD: perpAccount.WithdrawableUSD})
	}

	// Spot and wallet legs: idle value, volatile unit amounts, no yield.
	for _, balance := range spotBalances {
		if a.isVolatile(balance.Asset) {
			metrics.IdleDeltaHYPE += balance.Balance
		}
		metrics.IdleValueUSD += balance.ValueUSD
		legs = append(legs, leg{valueUSD: balance.ValueUSD})
	}
	for _, balance := range walletBalances {
		if a.isVolatile(balance.Symbol) {
			metrics.IdleDeltaHYPE += balance.Balance
		}
		metrics.IdleValueUSD += balance.ValueUSD
		legs = append(legs, leg{valueUSD: balance.ValueUSD})
	}

	metrics.TotalValueUSD = metrics.DeployedValueUSD + metrics.IdleValueUSD
	metrics.NetDeltaHYPE = metrics.LongDeltaHYPE + metrics.ShortDeltaHYPE + metrics.IdleDeltaHYPE

	if metrics.LongDeltaHYPE != 0 {
		metrics.HedgeEfficiencyRatio = math.Abs(metrics.LongDeltaHYPE+metrics.ShortDeltaHYPE) / math.Abs(metrics.LongDeltaHYPE)
	}

	// One current-rate sample serves every period: neither unclaimed fees
	// nor the funding snapshot carry per-period history.
	metrics.CombinedAPR24h = weightedAPR(legs)
	metrics.CombinedAPR7d = weightedAPR(legs)
	metrics.CombinedAPR30d = weightedAPR(legs)
	return metrics
}

// weightedAPR is the value-weighted mean APR across legs. Legs without APR
// data contribute no weight. Zero total weight yields nil, except when legs
// with positive value exist: then the result is a non-nil 0, marking
// yield-bearing positions whose APR sources returned nothing.
func weightedAPR(legs []leg) *float64 {
	var weight, weighted, totalValue float64
	for _, entry := range legs {
		totalValue += entry.valueUSD
		if entry.apr == nil || entry.valueUSD <= 0 {
			continue
		}
		weight += entry.valueUSD
		weighted += entry.valueUSD * *entry.apr
	}

	if weight > 0 {
		result := weighted / weight
		return &result
	}
	if totalValue > 0 {
		zero := 0.0
		return &zero
	}
	return nil
}
