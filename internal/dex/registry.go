// Package dex discovers and values concentrated-liquidity positions across
// the registered exchanges using batched contract reads.
package dex

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultInitCodeHash is the Uniswap V3 pool init code hash, shared by
// byte-compatible forks. Exchanges with a diverging pool bytecode must
// register their own hash; unknown exchanges fall back to this one with a
// warning.
var DefaultInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")

// Exchange is one registered DEX deployment: its NFT position manager, its
// factory, and the pool init code hash used for the deterministic address
// fallback.
type Exchange struct {
	Name            string
	PositionManager common.Address
	Factory         common.Address
	InitCodeHash    common.Hash
	IsV3Fork        bool
	SubgraphURL     string
}

// HasInitCodeHash reports whether the exchange registered its own pool init
// code hash.
func (e Exchange) HasInitCodeHash() bool {
	return e.InitCodeHash != (common.Hash{})
}

// Registry is a static exchange table. Pure lookup, no I/O.
type Registry struct {
	exchanges map[string]Exchange
}

// NewRegistry builds a registry from the given exchanges.
func NewRegistry(exchanges []Exchange) *Registry {
	table := make(map[string]Exchange, len(exchanges))
	for _, exchange := range exchanges {
		table[exchange.Name] = exchange
	}
	return &Registry{exchanges: table}
}

// DefaultRegistry returns the HyperEVM exchange table.
func DefaultRegistry() *Registry {
	return NewRegistry([]Exchange{
		{
			Name:            "hyperswap",
			PositionManager: common.HexToAddress("0x6eda206207c09e5428f281761ddc0d300851fbc8"),
			Factory:         common.HexToAddress("0xb1c0fa0b789320044a6f623cfe5ebda9562602e3"),
			InitCodeHash:    DefaultInitCodeHash,
			IsV3Fork:        true,
			SubgraphURL:     "https://api.goldsky.com/api/public/project_hyperswap/subgraphs/v3/latest/gn",
		},
		{
			Name:            "kittenswap",
			PositionManager: common.HexToAddress("0xb9201e89f94a01ff13ad4caecf43a2e232513754"),
			Factory:         common.HexToAddress("0x7c2f7a07f00afd2b7a8cf89dd55b06ea4b013ba1"),
			InitCodeHash:    DefaultInitCodeHash,
			IsV3Fork:        true,
		},
		{
			Name:            "prjx",
			PositionManager: common.HexToAddress("0xeaa91f2af0a0d1b6b0d259ea09de600ff61f2b47"),
			Factory:         common.HexToAddress("0xff7b3e8c00e57ea31477c32a5b52a58eea47b072"),
			IsV3Fork:        true,
		},
	})
}

// Get returns the exchange registered under name.
func (r *Registry) Get(name string) (Exchange, bool) {
	exchange, ok := r.exchanges[name]
	return exchange, ok
}

// All returns every registered exchange in name order.
func (r *Registry) All() []Exchange {
	out := make([]Exchange, 0, len(r.exchanges))
	for _, exchange := range r.exchanges {
		out = append(out, exchange)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
