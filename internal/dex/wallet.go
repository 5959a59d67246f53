package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"deltaScope/internal/chain"
	"deltaScope/internal/model"
)

// NativeBalancer provides the gas-token balance, satisfied by *chain.Client.
type NativeBalancer interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// WalletBalances returns the account's native balance plus every tracked
// ERC20 balance, the latter batched through one tryAggregate. Per-token
// failures are logged and skipped.
func (e *Engine) WalletBalances(ctx context.Context, balancer NativeBalancer, account string) ([]model.WalletBalance, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("malformed account address: %s", account)
	}
	owner := common.HexToAddress(account)

	var out []model.WalletBalance

	if balancer != nil {
		native, err := balancer.NativeBalance(ctx, owner)
		if err != nil {
			e.logger.Warn("native balance failed", zap.Error(err), zap.String("class", classifyError(err)))
		} else if native.Sign() > 0 {
			balance := humanAmount(native, 18)
			out = append(out, model.WalletBalance{
				Symbol:   NativeSymbol,
				Balance:  balance,
				ValueUSD: balance * e.price(ctx, NativeSymbol),
			})
		}
	}

	tokenABI, err := ERC20ABI()
	if err != nil {
		return out, fmt.Errorf("parse erc20 abi: %w", err)
	}

	tracked := []common.Address{WrappedHYPE, USDT0}
	calls := make([]chain.Call, 0, len(tracked))
	for _, token := range tracked {
		data, err := tokenABI.Pack("balanceOf", owner)
		if err != nil {
			e.logger.Warn("pack balanceOf", zap.String("token", token.Hex()), zap.Error(err))
			calls = append(calls, chain.Call{})
			continue
		}
		calls = append(calls, chain.Call{Target: token, CallData: data})
	}

	results, err := e.caller.TryAggregate(ctx, calls)
	if err != nil {
		e.logger.Warn("wallet balance stage failed", zap.Error(err), zap.String("class", classifyError(err)))
		return out, nil
	}

	for i, result := range results {
		if !result.Success || len(result.ReturnData) == 0 {
			e.logger.Warn("balanceOf failed", zap.String("token", tracked[i].Hex()))
			continue
		}
		raw, err := unpackUint256(tokenABI, "balanceOf", result.ReturnData)
		if err != nil {
			e.logger.Warn("decode balanceOf", zap.String("token", tracked[i].Hex()), zap.Error(err))
			continue
		}
		if raw.Sign() == 0 {
			continue
		}
		info := e.tokens.Lookup(tracked[i])
		balance := humanAmount(raw, info.Decimals)
		out = append(out, model.WalletBalance{
			Symbol:   info.Symbol,
			Balance:  balance,
			ValueUSD: balance * e.price(ctx, info.Symbol),
		})
	}
	return out, nil
}
