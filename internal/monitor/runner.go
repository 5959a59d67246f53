// Package monitor orchestrates one refresh cycle per monitored account:
// discover LP positions, fetch the off-chain venue legs and wallet balances
// concurrently, aggregate, persist, and evaluate the rebalance band.
package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deltaScope/internal/model"
	"deltaScope/internal/portfolio"
	"deltaScope/internal/pricing"
	"deltaScope/internal/storage"
)

// LPSource discovers LP positions, satisfied by *dex.Engine.
type LPSource interface {
	Discover(ctx context.Context, account string) ([]model.LPPosition, error)
}

// VenueSource fetches the off-chain venue legs, satisfied by *venue.Client.
type VenueSource interface {
	PerpState(ctx context.Context, user string) (model.PerpAccount, error)
	SpotBalances(ctx context.Context, user string) ([]model.SpotBalance, error)
	FundingRates(ctx context.Context) (map[string]float64, error)
}

// WalletSource fetches on-chain wallet balances.
type WalletSource interface {
	WalletBalances(ctx context.Context, account string) ([]model.WalletBalance, error)
}

// WalletFunc adapts a closure to WalletSource, so the engine and chain
// client can be bound together at wiring time.
type WalletFunc func(ctx context.Context, account string) ([]model.WalletBalance, error)

func (f WalletFunc) WalletBalances(ctx context.Context, account string) ([]model.WalletBalance, error) {
	return f(ctx, account)
}

// Deps carries the runner's collaborators. LPs and Aggregator are required;
// everything else degrades to an empty leg or a no-op when nil.
type Deps struct {
	LPs        LPSource
	Venue      VenueSource
	Wallet     WalletSource
	Aggregator *portfolio.Aggregator
	Cache      *pricing.Cache
	Store      storage.Store
	Logger     *zap.Logger
}

// Runner drives refresh cycles over the monitored accounts.
type Runner struct {
	deps     Deps
	accounts []model.MonitoredAccount
	bandUSD  float64
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a runner over the monitored accounts. bandUSD is the
// absolute net-delta notional above which a snapshot is flagged as needing a
// rebalance; zero disables the check. interval drives Run's ticker.
func NewRunner(deps Deps, accounts []model.MonitoredAccount, bandUSD float64, interval time.Duration, opts ...Option) *Runner {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = portfolio.NewAggregator(deps.Logger)
	}
	if interval <= 0 {
		interval = model.SnapshotInterval
	}
	runner := &Runner{
		deps:     deps,
		accounts: accounts,
		bandUSD:  bandUSD,
		interval: interval,
		now:      time.Now,
		logger:   deps.Logger,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// RunOnce refreshes every active account sequentially. A failing account is
// logged and skipped; the remaining accounts still run. The returned
// snapshots cover only the accounts that completed.
func (r *Runner) RunOnce(ctx context.Context) ([]model.AccountSnapshot, error) {
	if len(r.accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	snapshots := make([]model.AccountSnapshot, 0, len(r.accounts))
	for _, account := range r.accounts {
		if !account.IsActive {
			r.logger.Debug("skipping inactive account", zap.String("account", account.Address))
			continue
		}
		snapshot, err := r.refreshAccount(ctx, account)
		if err != nil {
			r.logger.Error("account refresh failed",
				zap.String("account", account.Address),
				zap.Error(err),
			)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// Run loops RunOnce on the configured interval until the context is
// cancelled. The next cycle is the only retry mechanism.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.RunOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// refreshAccount runs one full cycle for a single account. LP discovery is
// the hard dependency; venue legs and wallet balances fail soft to empty.
func (r *Runner) refreshAccount(ctx context.Context, account model.MonitoredAccount) (model.AccountSnapshot, error) {
	var (
		lpPositions []model.LPPosition
		perpAccount model.PerpAccount
		spots       []model.SpotBalance
		wallets     []model.WalletBalance
		funding     map[string]float64
	)

	venueUser := account.VenueAddressOrDefault()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		positions, err := r.deps.LPs.Discover(groupCtx, account.Address)
		if err != nil {
			return fmt.Errorf("discover positions: %w", err)
		}
		lpPositions = positions
		return nil
	})
	if r.deps.Venue != nil {
		group.Go(func() error {
			state, err := r.deps.Venue.PerpState(groupCtx, venueUser)
			if err != nil {
				r.logger.Warn("perp leg failed", zap.String("account", account.Address), zap.Error(err))
				return nil
			}
			perpAccount = state
			return nil
		})
		group.Go(func() error {
			balances, err := r.deps.Venue.SpotBalances(groupCtx, venueUser)
			if err != nil {
				r.logger.Warn("spot leg failed", zap.String("account", account.Address), zap.Error(err))
				return nil
			}
			spots = balances
			return nil
		})
		group.Go(func() error {
			rates, err := r.deps.Venue.FundingRates(groupCtx)
			if err != nil {
				r.logger.Warn("funding leg failed", zap.Error(err))
				return nil
			}
			funding = rates
			return nil
		})
	}
	if r.deps.Wallet != nil {
		group.Go(func() error {
			balances, err := r.deps.Wallet.WalletBalances(groupCtx, account.Address)
			if err != nil {
				r.logger.Warn("wallet leg failed", zap.String("account", account.Address), zap.Error(err))
				return nil
			}
			wallets = balances
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return model.AccountSnapshot{}, err
	}

	if r.deps.Cache != nil && len(funding) > 0 {
		r.deps.Cache.SetFundingRates(funding)
	}

	// A failed funding fetch falls back to the last cached rates so open
	// perp legs keep an APR instead of silently reading as yield-free.
	if len(funding) == 0 && r.deps.Cache != nil {
		for _, position := range perpAccount.Positions {
			asset := strings.ToUpper(position.Asset)
			rate, ok := r.deps.Cache.FundingRate(asset)
			if !ok {
				continue
			}
			if funding == nil {
				funding = make(map[string]float64)
			}
			funding[asset] = rate
		}
		if len(funding) > 0 {
			r.logger.Warn("using cached funding rates", zap.Int("assets", len(funding)))
		}
	}

	metrics := r.deps.Aggregator.Aggregate(lpPositions, perpAccount, spots, wallets, funding)
	snapshot := r.buildSnapshot(ctx, account, lpPositions, perpAccount, spots, wallets, funding, metrics)

	r.persist(ctx, account, lpPositions, snapshot)

	r.logger.Info("account refreshed",
		zap.String("account", account.Address),
		zap.Int("lp_positions", len(lpPositions)),
		zap.Int("perp_positions", len(perpAccount.Positions)),
		zap.Float64("total_value_usd", metrics.TotalValueUSD),
		zap.Float64("net_delta_hype", metrics.NetDeltaHYPE),
		zap.Float64("hedge_ratio", metrics.HedgeEfficiencyRatio),
		zap.Bool("rebalance_needed", snapshot.RebalanceNeeded),
	)
	return snapshot, nil
}

func (r *Runner) buildSnapshot(
	ctx context.Context,
	account model.MonitoredAccount,
	lpPositions []model.LPPosition,
	perpAccount model.PerpAccount,
	spots []model.SpotBalance,
	wallets []model.WalletBalance,
	funding map[string]float64,
	metrics model.PortfolioMetrics,
) model.AccountSnapshot {
	snapshot := model.AccountSnapshot{
		Account:      account.Address,
		Timestamp:    r.now(),
		NetDeltaHYPE: metrics.NetDeltaHYPE,
	}

	var lpWeight, lpWeighted float64
	for _, position := range lpPositions {
		snapshot.LPValueUSD += position.ValueUSD
		lpWeight += position.ValueUSD
		lpWeighted += position.ValueUSD * position.FeeAPR
	}
	if lpWeight > 0 {
		snapshot.LPFeeAPR = lpWeighted / lpWeight
	}

	var fundingWeight, fundingWeighted float64
	for _, position := range perpAccount.Positions {
		snapshot.PerpValueUSD += position.MarginUsed
		rate, ok := funding[strings.ToUpper(position.Asset)]
		if !ok {
			continue
		}
		if position.Size > 0 {
			rate = -rate
		}
		notional := position.NotionalValue()
		fundingWeight += notional
		fundingWeighted += notional * rate
	}
	if fundingWeight > 0 {
		snapshot.FundingAPR = fundingWeighted / fundingWeight
	}

	for _, balance := range spots {
		snapshot.SpotValueUSD += balance.ValueUSD
	}
	for _, balance := range wallets {
		snapshot.SpotValueUSD += balance.ValueUSD
	}
	// Withdrawable venue margin is idle stable value held venue-side.
	snapshot.SpotValueUSD += perpAccount.WithdrawableUSD

	if metrics.CombinedAPR24h != nil {
		snapshot.NetAPR = *metrics.CombinedAPR24h
	}

	snapshot.RebalanceNeeded = r.needsRebalance(ctx, metrics.NetDeltaHYPE)
	return snapshot
}

// needsRebalance checks the net-delta notional against the configured band.
func (r *Runner) needsRebalance(ctx context.Context, netDeltaHYPE float64) bool {
	if r.bandUSD <= 0 || r.deps.Cache == nil {
		return false
	}
	price, ok := r.deps.Cache.Price(ctx, "HYPE")
	if !ok {
		r.logger.Warn("no gas token price for rebalance check")
		return false
	}
	return math.Abs(netDeltaHYPE*price) > r.bandUSD
}

func (r *Runner) persist(ctx context.Context, account model.MonitoredAccount, positions []model.LPPosition, snapshot model.AccountSnapshot) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.UpsertLPPositions(ctx, account.Address, positions); err != nil {
		r.logger.Error("persist positions failed", zap.String("account", account.Address), zap.Error(err))
	}
	if err := r.deps.Store.UpsertAccountSnapshot(ctx, snapshot); err != nil {
		r.logger.Error("persist snapshot failed", zap.String("account", account.Address), zap.Error(err))
	}
}
