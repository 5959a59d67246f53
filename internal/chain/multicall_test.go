package chain

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type stubCaller struct {
	calls    int
	response []byte
	err      error
}

func (s *stubCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

type packedResult struct {
	Success    bool
	ReturnData []byte
}

func packAggregateResponse(t *testing.T, results []packedResult) []byte {
	t.Helper()
	mcABI, err := MulticallABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	out, err := mcABI.Methods["tryAggregate"].Outputs.Pack(results)
	if err != nil {
		t.Fatalf("pack response: %v", err)
	}
	return out
}

func packUint256(t *testing.T, value int64) []byte {
	t.Helper()
	return common.BigToHash(big.NewInt(value)).Bytes()
}

func TestTryAggregatePartialFailure(t *testing.T) {
	results := make([]packedResult, 5)
	for i := range results {
		results[i] = packedResult{Success: true, ReturnData: packUint256(t, int64(100+i))}
	}
	results[1] = packedResult{Success: false}
	results[3] = packedResult{Success: false}

	caller := &stubCaller{response: packAggregateResponse(t, results)}
	mc := NewMulticall(caller, common.Address{}, 1, time.Millisecond)

	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = Call{Target: common.HexToAddress("0x1111111111111111111111111111111111111111")}
	}

	got, err := mc.TryAggregate(context.Background(), calls)
	if err != nil {
		t.Fatalf("tryAggregate: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("result count = %d, want 5", len(got))
	}
	for i, result := range got {
		wantSuccess := i != 1 && i != 3
		if result.Success != wantSuccess {
			t.Fatalf("result %d success = %v, want %v", i, result.Success, wantSuccess)
		}
		if !wantSuccess {
			continue
		}
		decoded := new(big.Int).SetBytes(result.ReturnData)
		if decoded.Int64() != int64(100+i) {
			t.Fatalf("result %d decoded %s, want %d", i, decoded, 100+i)
		}
	}

	if caller.calls != 1 {
		t.Fatalf("aggregate issued %d transport calls, want 1", caller.calls)
	}
}

func TestTryAggregateEmptyBatch(t *testing.T) {
	caller := &stubCaller{}
	mc := NewMulticall(caller, common.Address{}, 1, time.Millisecond)

	got, err := mc.TryAggregate(context.Background(), nil)
	if err != nil {
		t.Fatalf("tryAggregate: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil results for empty batch")
	}
	if caller.calls != 0 {
		t.Fatalf("empty batch issued %d transport calls", caller.calls)
	}
}

func TestTryAggregateTransportRetry(t *testing.T) {
	caller := &stubCaller{err: fmt.Errorf("connection reset")}
	mc := NewMulticall(caller, common.Address{}, 3, time.Millisecond)

	if _, err := mc.TryAggregate(context.Background(), []Call{{}}); err == nil {
		t.Fatalf("expected transport error")
	}
	if caller.calls != 3 {
		t.Fatalf("transport attempts = %d, want 3", caller.calls)
	}
}
