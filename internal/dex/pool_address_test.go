package dex

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputePoolAddressMainnetVector(t *testing.T) {
	// Canonical Uniswap V3 deployment: USDC/WETH 0.05%.
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	want := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

	got := ComputePoolAddress(factory, usdc, weth, 500, DefaultInitCodeHash)
	if got != want {
		t.Fatalf("pool address = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestComputePoolAddressOrderIndependent(t *testing.T) {
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	a := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	b := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	forward := ComputePoolAddress(factory, a, b, 3000, DefaultInitCodeHash)
	reversed := ComputePoolAddress(factory, b, a, 3000, DefaultInitCodeHash)
	if forward != reversed {
		t.Fatalf("token order changed the address: %s vs %s", forward.Hex(), reversed.Hex())
	}
}

func TestComputePoolAddressFeeTiersDiffer(t *testing.T) {
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	a := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	b := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	if ComputePoolAddress(factory, a, b, 500, DefaultInitCodeHash) == ComputePoolAddress(factory, a, b, 3000, DefaultInitCodeHash) {
		t.Fatalf("distinct fee tiers produced the same pool address")
	}
}
