// Package pricing holds the shared short-TTL cache of token USD prices,
// funding rates, and pool states. Invalidation is wholesale: one clock for
// the whole snapshot, so a stale read clears everything before the next
// fetch. The cache is handed to its consumers explicitly so tests can
// inject a deterministic clock and pre-seeded state.
package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"deltaScope/internal/model"
)

// DefaultTTL is the snapshot lifetime.
const DefaultTTL = 60 * time.Second

// Source provides token USD prices keyed by symbol.
type Source interface {
	Prices(ctx context.Context) (map[string]float64, error)
}

// Cache is the shared price/funding/pool-state snapshot.
type Cache struct {
	ttl       time.Duration
	now       func() time.Time
	primary   Source
	secondary Source
	logger    *zap.Logger

	mu        sync.Mutex
	fetchedAt time.Time
	prices    map[string]float64
	funding   map[string]float64
	pools     map[common.Address]model.PoolState
	stables   map[string]struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects a deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSecondarySource sets the fallback price source consulted after a
// refresh still misses.
func WithSecondarySource(source Source) Option {
	return func(c *Cache) { c.secondary = source }
}

// WithStableSymbols pins extra symbols to 1.0.
func WithStableSymbols(symbols ...string) Option {
	return func(c *Cache) {
		for _, symbol := range symbols {
			c.stables[strings.ToUpper(symbol)] = struct{}{}
		}
	}
}

// New builds a cache around the primary price source.
func New(ttl time.Duration, primary Source, logger *zap.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := &Cache{
		ttl:     ttl,
		now:     time.Now,
		primary: primary,
		logger:  logger,
		prices:  make(map[string]float64),
		funding: make(map[string]float64),
		pools:   make(map[common.Address]model.PoolState),
		stables: map[string]struct{}{"USDT0": {}, "USDC": {}, "USDT": {}},
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

// expireLocked clears the whole snapshot once it is older than the TTL.
// Granularity is deliberately the full snapshot, not per entry.
func (c *Cache) expireLocked() {
	if c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) <= c.ttl {
		return
	}
	c.prices = make(map[string]float64)
	c.funding = make(map[string]float64)
	c.pools = make(map[common.Address]model.PoolState)
	c.fetchedAt = c.now()
}

// Price returns the USD price for a symbol. Stable symbols are pinned to
// 1.0 and never fetched. A miss triggers a synchronous refresh from the
// primary source, then the secondary source.
func (c *Cache) Price(ctx context.Context, symbol string) (float64, bool) {
	symbol = strings.ToUpper(symbol)
	if _, ok := c.stables[symbol]; ok {
		return 1.0, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	if price, ok := c.prices[symbol]; ok {
		return price, true
	}

	if c.primary != nil {
		if err := c.refreshLocked(ctx, c.primary); err != nil {
			c.logger.Warn("price refresh failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if price, ok := c.prices[symbol]; ok {
			return price, true
		}
	}

	if c.secondary != nil {
		if err := c.refreshLocked(ctx, c.secondary); err != nil {
			c.logger.Warn("secondary price refresh failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if price, ok := c.prices[symbol]; ok {
			return price, true
		}
	}

	return 0, false
}

func (c *Cache) refreshLocked(ctx context.Context, source Source) error {
	prices, err := source.Prices(ctx)
	if err != nil {
		return err
	}
	for symbol, price := range prices {
		c.prices[strings.ToUpper(symbol)] = price
	}
	if c.fetchedAt.IsZero() {
		c.fetchedAt = c.now()
	}
	return nil
}

// RefreshAll forces a primary-source refresh and resets the snapshot clock.
func (c *Cache) RefreshAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prices = make(map[string]float64)
	c.funding = make(map[string]float64)
	c.pools = make(map[common.Address]model.PoolState)
	c.fetchedAt = c.now()

	if c.primary == nil {
		return nil
	}
	return c.refreshLocked(ctx, c.primary)
}

// SetFundingRates stores annualized funding percentages.
func (c *Cache) SetFundingRates(rates map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	for asset, rate := range rates {
		c.funding[strings.ToUpper(asset)] = rate
	}
	if c.fetchedAt.IsZero() {
		c.fetchedAt = c.now()
	}
}

// FundingRate returns the cached annualized funding percentage for an asset.
func (c *Cache) FundingRate(asset string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	rate, ok := c.funding[strings.ToUpper(asset)]
	return rate, ok
}

// PoolState returns the cached state for a pool if still fresh.
func (c *Cache) PoolState(pool common.Address) (model.PoolState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	state, ok := c.pools[pool]
	return state, ok
}

// SetPoolState stores a pool state snapshot.
func (c *Cache) SetPoolState(pool common.Address, state model.PoolState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	c.pools[pool] = state
	if c.fetchedAt.IsZero() {
		c.fetchedAt = c.now()
	}
}
