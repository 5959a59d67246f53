package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultMulticallAddress is the canonical Multicall3 deployment shared by
// most EVM chains.
var DefaultMulticallAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicallABIJSON = `[
  {
    "inputs": [
      {"internalType": "bool", "name": "requireSuccess", "type": "bool"},
      {
        "components": [
          {"internalType": "address", "name": "target", "type": "address"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Call[]",
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "tryAggregate",
    "outputs": [
      {
        "components": [
          {"internalType": "bool", "name": "success", "type": "bool"},
          {"internalType": "bytes", "name": "returnData", "type": "bytes"}
        ],
        "internalType": "struct Multicall3.Result[]",
        "name": "returnData",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	multicallABI     abi.ABI
	multicallABIOnce sync.Once
	multicallABIErr  error
)

// MulticallABI returns the parsed Multicall3 ABI.
func MulticallABI() (abi.ABI, error) {
	multicallABIOnce.Do(func() {
		multicallABI, multicallABIErr = abi.JSON(strings.NewReader(multicallABIJSON))
	})
	return multicallABI, multicallABIErr
}

// Call is one contract read to batch.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result is the per-call outcome of a batched read. ReturnData is only
// meaningful when Success is true; a failed or reverted inner call is a
// normal result, not an error.
type Result struct {
	Success    bool
	ReturnData []byte
}

// ContractCaller is the single eth_call dependency of the batcher, satisfied
// by *Client and by test stubs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Multicall batches independent contract reads into one tryAggregate call.
// The batch size is bounded by RPC payload and gas limits; callers are
// expected to stay within one batch per stage (known scaling limit).
type Multicall struct {
	caller       ContractCaller
	address      common.Address
	maxTries     uint
	retryBackoff time.Duration
}

// NewMulticall builds a batcher against the aggregator contract at address.
// maxTries bounds transport-level retries of the whole aggregate call;
// inner-call failures are never retried.
func NewMulticall(caller ContractCaller, address common.Address, maxTries uint, retryBackoff time.Duration) *Multicall {
	if address == (common.Address{}) {
		address = DefaultMulticallAddress
	}
	if maxTries == 0 {
		maxTries = 1
	}
	if retryBackoff <= 0 {
		retryBackoff = 200 * time.Millisecond
	}
	return &Multicall{
		caller:       caller,
		address:      address,
		maxTries:     maxTries,
		retryBackoff: retryBackoff,
	}
}

type multicallArg struct {
	Target   common.Address
	CallData []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

// TryAggregate executes all calls in one round trip and returns one Result
// per call, in order. It errors only when the aggregate transport call
// itself fails, never for an individual inner call.
func (m *Multicall) TryAggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if m.caller == nil {
		return nil, errors.New("contract caller is nil")
	}
	if len(calls) == 0 {
		return nil, nil
	}

	mcABI, err := MulticallABI()
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}

	args := make([]multicallArg, len(calls))
	for i, call := range calls {
		args[i] = multicallArg{Target: call.Target, CallData: call.CallData}
	}

	data, err := mcABI.Pack("tryAggregate", false, args)
	if err != nil {
		return nil, fmt.Errorf("pack tryAggregate: %w", err)
	}

	msg := ethereum.CallMsg{To: &m.address, Data: data}
	resp, err := m.callWithRetry(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("call tryAggregate: %w", err)
	}

	values, err := mcABI.Unpack("tryAggregate", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack tryAggregate: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected tryAggregate return size %d", len(values))
	}

	decoded := *abi.ConvertType(values[0], new([]multicallResult)).(*[]multicallResult)
	if len(decoded) != len(calls) {
		return nil, fmt.Errorf("tryAggregate returned %d results for %d calls", len(decoded), len(calls))
	}

	results := make([]Result, len(decoded))
	for i, entry := range decoded {
		results[i] = Result{Success: entry.Success, ReturnData: entry.ReturnData}
	}
	return results, nil
}

func (m *Multicall) callWithRetry(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.retryBackoff

	operation := func() ([]byte, error) {
		resp, err := m.caller.CallContract(ctx, msg, nil)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(m.maxTries),
	)
}
