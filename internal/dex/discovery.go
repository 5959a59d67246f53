package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"deltaScope/internal/chain"
	"deltaScope/internal/model"
	"deltaScope/internal/pricing"
)

// BatchCaller is the batched read dependency, satisfied by
// *chain.Multicall and by recording stubs in tests.
type BatchCaller interface {
	TryAggregate(ctx context.Context, calls []chain.Call) ([]chain.Result, error)
}

// Engine enumerates and values every open liquidity position an account
// holds across the registered exchanges, in a bounded number of batched
// round trips regardless of exchange and position count.
type Engine struct {
	caller   BatchCaller
	registry *Registry
	tokens   *TokenTable
	cache    *pricing.Cache
	logger   *zap.Logger
}

// NewEngine builds a discovery engine.
func NewEngine(caller BatchCaller, registry *Registry, tokens *TokenTable, cache *pricing.Cache, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if tokens == nil {
		tokens = NewTokenTable()
	}
	return &Engine{
		caller:   caller,
		registry: registry,
		tokens:   tokens,
		cache:    cache,
		logger:   logger,
	}
}

// positionsOutput mirrors the position manager's positions() return tuple
// field for field, so a decode can never mix up tuple order.
type positionsOutput struct {
	Nonce                    *big.Int
	Operator                 common.Address
	Token0                   common.Address
	Token1                   common.Address
	Fee                      *big.Int
	TickLower                *big.Int
	TickUpper                *big.Int
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

type slot0Output struct {
	SqrtPriceX96               *big.Int
	Tick                       *big.Int
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16
	FeeProtocol                uint8
	Unlocked                   bool
}

type ticksOutput struct {
	LiquidityGross                 *big.Int
	LiquidityNet                   *big.Int
	FeeGrowthOutside0X128          *big.Int
	FeeGrowthOutside1X128          *big.Int
	TickCumulativeOutside          *big.Int
	SecondsPerLiquidityOutsideX128 *big.Int
	SecondsOutside                 uint32
	Initialized                    bool
}

type tickKey struct {
	pool common.Address
	tick int32
}

type tickFeeGrowth struct {
	outside0 *big.Int
	outside1 *big.Int
}

// Discover enumerates every liquidity position the account owns. It errors
// only for a malformed account address; every per-exchange and per-position
// failure is logged and skipped, so the result may be partial or empty.
func (e *Engine) Discover(ctx context.Context, account string) ([]model.LPPosition, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("malformed account address: %s", account)
	}
	owner := common.HexToAddress(account)

	mgrABI, err := PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse position manager abi: %w", err)
	}

	exchanges := e.registry.All()

	// Stage A: one balanceOf per exchange in a single batch.
	balances := e.stageBalances(ctx, mgrABI, exchanges, owner)

	// Stage B: one tokenOfOwnerByIndex per owned position, all exchanges in
	// a single batch.
	tokenIDs := e.stageTokenIDs(ctx, mgrABI, exchanges, owner, balances)
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	// Stage C: one positions() per token ID in a single batch.
	positions := e.stagePositions(ctx, mgrABI, exchanges, tokenIDs)
	if len(positions) == 0 {
		return nil, nil
	}

	// Pool resolution and state fetch only cover open positions; closed
	// ones stay discoverable with zero valuation.
	e.resolvePools(ctx, exchanges, positions)
	states := e.fetchPoolStates(ctx, positions)
	tickGrowth := e.fetchTickFeeGrowth(ctx, positions, states)

	out := make([]model.LPPosition, 0, len(positions))
	for _, position := range positions {
		e.valuePosition(ctx, position, states, tickGrowth)
		out = append(out, position.LPPosition)
	}
	return out, nil
}

// discovered carries a position through the pipeline together with its
// owning exchange.
type discovered struct {
	model.LPPosition
	exchange int // index into exchanges
}

func (e *Engine) stageBalances(ctx context.Context, mgrABI abi.ABI, exchanges []Exchange, owner common.Address) []uint64 {
	balances := make([]uint64, len(exchanges))

	calls := make([]chain.Call, 0, len(exchanges))
	for _, exchange := range exchanges {
		data, err := mgrABI.Pack("balanceOf", owner)
		if err != nil {
			e.logger.Warn("pack balanceOf", zap.String("exchange", exchange.Name), zap.Error(err))
			calls = append(calls, chain.Call{})
			continue
		}
		calls = append(calls, chain.Call{Target: exchange.PositionManager, CallData: data})
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("balance stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return balances
	}

	for i, result := range results {
		if !result.Success || len(result.ReturnData) == 0 {
			e.logger.Warn("balanceOf failed", zap.String("exchange", exchanges[i].Name))
			continue
		}
		balance, err := unpackUint256(mgrABI, "balanceOf", result.ReturnData)
		if err != nil {
			e.logger.Warn("decode balanceOf", zap.String("exchange", exchanges[i].Name), zap.Error(err), zap.String("class", classifyError(err)))
			continue
		}
		balances[i] = balance.Uint64()
	}
	return balances
}

func (e *Engine) stageTokenIDs(ctx context.Context, mgrABI abi.ABI, exchanges []Exchange, owner common.Address, balances []uint64) []*discovered {
	var calls []chain.Call
	var owners []int
	for i, balance := range balances {
		for index := uint64(0); index < balance; index++ {
			data, err := mgrABI.Pack("tokenOfOwnerByIndex", owner, new(big.Int).SetUint64(index))
			if err != nil {
				e.logger.Warn("pack tokenOfOwnerByIndex", zap.String("exchange", exchanges[i].Name), zap.Error(err))
				continue
			}
			calls = append(calls, chain.Call{Target: exchanges[i].PositionManager, CallData: data})
			owners = append(owners, i)
		}
	}
	if len(calls) == 0 {
		return nil
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("token id stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return nil
	}

	out := make([]*discovered, 0, len(results))
	for i, result := range results {
		exchange := exchanges[owners[i]]
		if !result.Success || len(result.ReturnData) == 0 {
			e.logger.Warn("tokenOfOwnerByIndex failed", zap.String("exchange", exchange.Name))
			continue
		}
		tokenID, err := unpackUint256(mgrABI, "tokenOfOwnerByIndex", result.ReturnData)
		if err != nil {
			e.logger.Warn("decode tokenOfOwnerByIndex", zap.String("exchange", exchange.Name), zap.Error(err), zap.String("class", classifyError(err)))
			continue
		}
		out = append(out, &discovered{
			LPPosition: model.LPPosition{
				TokenID:         tokenID,
				DEX:             exchange.Name,
				PositionManager: exchange.PositionManager,
			},
			exchange: owners[i],
		})
	}
	return out
}

func (e *Engine) stagePositions(ctx context.Context, mgrABI abi.ABI, exchanges []Exchange, tokenIDs []*discovered) []*discovered {
	calls := make([]chain.Call, 0, len(tokenIDs))
	for _, entry := range tokenIDs {
		data, err := mgrABI.Pack("positions", entry.TokenID)
		if err != nil {
			e.logger.Warn("pack positions", zap.String("exchange", entry.DEX), zap.Error(err))
			calls = append(calls, chain.Call{})
			continue
		}
		calls = append(calls, chain.Call{Target: entry.PositionManager, CallData: data})
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("positions stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return nil
	}

	out := make([]*discovered, 0, len(results))
	for i, result := range results {
		entry := tokenIDs[i]
		if !result.Success || len(result.ReturnData) == 0 {
			e.logger.Warn("positions call failed",
				zap.String("exchange", entry.DEX),
				zap.String("token_id", entry.TokenID.String()),
			)
			continue
		}

		var decoded positionsOutput
		if err := mgrABI.UnpackIntoInterface(&decoded, "positions", result.ReturnData); err != nil {
			e.logger.Warn("decode positions",
				zap.String("exchange", entry.DEX),
				zap.String("token_id", entry.TokenID.String()),
				zap.Error(err),
				zap.String("class", classifyError(err)),
			)
			continue
		}

		tickLower, errLower := int24FromBig(decoded.TickLower)
		tickUpper, errUpper := int24FromBig(decoded.TickUpper)
		if errLower != nil || errUpper != nil || tickLower >= tickUpper {
			e.logger.Warn("invalid position ticks",
				zap.String("exchange", entry.DEX),
				zap.String("token_id", entry.TokenID.String()),
			)
			continue
		}

		info0 := e.tokens.Lookup(decoded.Token0)
		info1 := e.tokens.Lookup(decoded.Token1)

		entry.Token0 = decoded.Token0
		entry.Token1 = decoded.Token1
		entry.Symbol0 = info0.Symbol
		entry.Symbol1 = info1.Symbol
		entry.Fee = uint32(decoded.Fee.Uint64())
		entry.TickLower = tickLower
		entry.TickUpper = tickUpper
		entry.Liquidity = decoded.Liquidity
		entry.FeeGrowthInside0LastX128 = decoded.FeeGrowthInside0LastX128
		entry.FeeGrowthInside1LastX128 = decoded.FeeGrowthInside1LastX128
		entry.TokensOwed0 = decoded.TokensOwed0
		entry.TokensOwed1 = decoded.TokensOwed1
		out = append(out, entry)
	}
	return out
}

// resolvePools fills Pool for every open position: factory getPool in one
// batch, then the deterministic CREATE2 fallback for calls that failed or
// returned the zero address.
func (e *Engine) resolvePools(ctx context.Context, exchanges []Exchange, positions []*discovered) {
	factoryABI, err := FactoryABI()
	if err != nil {
		e.logger.Warn("parse factory abi", zap.Error(err))
		return
	}

	type poolQuery struct {
		exchange int
		token0   common.Address
		token1   common.Address
		fee      uint32
	}

	var calls []chain.Call
	var queries []poolQuery
	queryIndex := make(map[poolQuery]int)
	for _, position := range positions {
		if position.Closed() {
			continue
		}
		query := poolQuery{position.exchange, position.Token0, position.Token1, position.Fee}
		if _, ok := queryIndex[query]; ok {
			continue
		}
		data, err := factoryABI.Pack("getPool", query.token0, query.token1, new(big.Int).SetUint64(uint64(query.fee)))
		if err != nil {
			e.logger.Warn("pack getPool", zap.String("exchange", exchanges[query.exchange].Name), zap.Error(err))
			continue
		}
		queryIndex[query] = len(calls)
		calls = append(calls, chain.Call{Target: exchanges[query.exchange].Factory, CallData: data})
		queries = append(queries, query)
	}

	resolved := make(map[poolQuery]common.Address, len(queries))
	if len(calls) > 0 {
		results, err := e.caller.TryAggregate(ctx, calls)
		if err != nil {
			e.logger.Warn("getPool stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		} else {
			for i, result := range results {
				if !result.Success || len(result.ReturnData) < 32 {
					continue
				}
				pool := common.BytesToAddress(result.ReturnData[12:32])
				if pool != (common.Address{}) {
					resolved[queries[i]] = pool
				}
			}
		}
	}

	for _, position := range positions {
		if position.Closed() {
			continue
		}
		query := poolQuery{position.exchange, position.Token0, position.Token1, position.Fee}
		if pool, ok := resolved[query]; ok {
			position.Pool = pool
			continue
		}

		exchange := exchanges[position.exchange]
		initCodeHash := exchange.InitCodeHash
		if !exchange.HasInitCodeHash() {
			e.logger.Warn("unknown init code hash, using default",
				zap.String("exchange", exchange.Name),
			)
			initCodeHash = DefaultInitCodeHash
		}
		position.Pool = ComputePoolAddress(exchange.Factory, position.Token0, position.Token1, position.Fee, initCodeHash)
	}
}

// fetchPoolStates loads slot0, liquidity, and both fee growth accumulators
// for every unique pool that is not already cached and fresh, four calls
// per pool in one batch.
func (e *Engine) fetchPoolStates(ctx context.Context, positions []*discovered) map[common.Address]model.PoolState {
	states := make(map[common.Address]model.PoolState)

	poolABI, err := PoolABI()
	if err != nil {
		e.logger.Warn("parse pool abi", zap.Error(err))
		return states
	}

	var missing []common.Address
	seen := make(map[common.Address]struct{})
	for _, position := range positions {
		if position.Closed() || position.Pool == (common.Address{}) {
			continue
		}
		if _, ok := seen[position.Pool]; ok {
			continue
		}
		seen[position.Pool] = struct{}{}

		if e.cache != nil {
			if state, ok := e.cache.PoolState(position.Pool); ok {
				states[position.Pool] = state
				continue
			}
		}
		missing = append(missing, position.Pool)
	}
	if len(missing) == 0 {
		return states
	}

	methods := []string{"slot0", "liquidity", "feeGrowthGlobal0X128", "feeGrowthGlobal1X128"}
	calls := make([]chain.Call, 0, len(missing)*len(methods))
	for _, pool := range missing {
		for _, method := range methods {
			data, err := poolABI.Pack(method)
			if err != nil {
				e.logger.Warn("pack pool method", zap.String("method", method), zap.Error(err))
				calls = append(calls, chain.Call{})
				continue
			}
			calls = append(calls, chain.Call{Target: pool, CallData: data})
		}
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("pool state stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return states
	}

	for i, pool := range missing {
		base := i * len(methods)

		slot0Result := results[base]
		if !slot0Result.Success || len(slot0Result.ReturnData) == 0 {
			e.logger.Warn("slot0 failed", zap.String("pool", pool.Hex()))
			continue
		}
		var slot0 slot0Output
		if err := poolABI.UnpackIntoInterface(&slot0, "slot0", slot0Result.ReturnData); err != nil {
			e.logger.Warn("decode slot0", zap.String("pool", pool.Hex()), zap.Error(err), zap.String("class", classifyError(err)))
			continue
		}
		tick, err := int24FromBig(slot0.Tick)
		if err != nil {
			e.logger.Warn("slot0 tick out of range", zap.String("pool", pool.Hex()), zap.Error(err))
			continue
		}

		state := model.PoolState{
			SqrtPriceX96: slot0.SqrtPriceX96,
			Tick:         tick,
		}

		if result := results[base+1]; result.Success && len(result.ReturnData) > 0 {
			if liquidity, err := unpackUint256(poolABI, "liquidity", result.ReturnData); err == nil {
				state.Liquidity = liquidity
			}
		}
		// Accumulators are optional: forks without the view keep them nil.
		if result := results[base+2]; result.Success && len(result.ReturnData) > 0 {
			if growth, err := unpackUint256(poolABI, "feeGrowthGlobal0X128", result.ReturnData); err == nil {
				state.FeeGrowthGlobal0X128 = growth
			}
		}
		if result := results[base+3]; result.Success && len(result.ReturnData) > 0 {
			if growth, err := unpackUint256(poolABI, "feeGrowthGlobal1X128", result.ReturnData); err == nil {
				state.FeeGrowthGlobal1X128 = growth
			}
		}

		states[pool] = state
		if e.cache != nil {
			e.cache.SetPoolState(pool, state)
		}
	}
	return states
}

// fetchTickFeeGrowth loads feeGrowthOutside for every unique boundary tick
// needed by open positions whose pool exposes fee growth, memoized per
// (pool, tick) so shared ranges fetch once.
func (e *Engine) fetchTickFeeGrowth(ctx context.Context, positions []*discovered, states map[common.Address]model.PoolState) map[tickKey]tickFeeGrowth {
	growth := make(map[tickKey]tickFeeGrowth)

	poolABI, err := PoolABI()
	if err != nil {
		return growth
	}

	var calls []chain.Call
	var keys []tickKey
	requested := make(map[tickKey]struct{})
	request := func(pool common.Address, tick int32) {
		key := tickKey{pool, tick}
		if _, ok := requested[key]; ok {
			return
		}
		requested[key] = struct{}{}
		data, err := poolABI.Pack("ticks", big.NewInt(int64(tick)))
		if err != nil {
			e.logger.Warn("pack ticks", zap.String("pool", pool.Hex()), zap.Error(err))
			return
		}
		calls = append(calls, chain.Call{Target: pool, CallData: data})
		keys = append(keys, key)
	}

	for _, position := range positions {
		if position.Closed() {
			continue
		}
		state, ok := states[position.Pool]
		if !ok || !state.HasFeeGrowth() {
			continue
		}
		request(position.Pool, position.TickLower)
		request(position.Pool, position.TickUpper)
	}
	if len(calls) == 0 {
		return growth
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("tick stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return growth
	}

	for i, result := range results {
		if !result.Success || len(result.ReturnData) == 0 {
			continue
		}
		var decoded ticksOutput
		if err := poolABI.UnpackIntoInterface(&decoded, "ticks", result.ReturnData); err != nil {
			e.logger.Warn("decode ticks",
				zap.String("pool", keys[i].pool.Hex()),
				zap.Int32("tick", keys[i].tick),
				zap.Error(err),
				zap.String("class", classifyError(err)),
			)
			continue
		}
		growth[keys[i]] = tickFeeGrowth{
			outside0: decoded.FeeGrowthOutside0X128,
			outside1: decoded.FeeGrowthOutside1X128,
		}
	}
	return growth
}
