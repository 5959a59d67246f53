package dex

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTokenTableLookup(t *testing.T) {
	table := NewTokenTable()

	whype := table.Lookup(WrappedHYPE)
	if whype.Symbol != "WHYPE" || whype.Decimals != 18 {
		t.Fatalf("WHYPE lookup = %+v", whype)
	}

	usdt := table.Lookup(USDT0)
	if usdt.Symbol != StableSymbol || usdt.Decimals != 6 {
		t.Fatalf("USDT0 lookup = %+v", usdt)
	}
}

func TestTokenTableUnknownFallback(t *testing.T) {
	table := NewTokenTable()
	unknown := common.HexToAddress("0xDeaDbeefdEAdbeefdEadbEEFdeadbeEFdEaDbeeF")

	info := table.Lookup(unknown)
	if info.Decimals != 18 {
		t.Fatalf("unknown token decimals = %d, want 18", info.Decimals)
	}
	if info.Symbol != "DEAD..BEEF" {
		t.Fatalf("pseudo symbol = %q, want DEAD..BEEF", info.Symbol)
	}
}

func TestTokenTableAddOverrides(t *testing.T) {
	table := NewTokenTable()
	table.Add(USDT0, TokenInfo{Symbol: "USDT0X", Decimals: 8})

	if info := table.Lookup(USDT0); info.Symbol != "USDT0X" || info.Decimals != 8 {
		t.Fatalf("override lookup = %+v", info)
	}
}
