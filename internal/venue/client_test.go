package venue

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestServer serves canned POST /info responses keyed by request type.
func newTestServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/info" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, ok := responses[req.Type]
		if !ok {
			http.Error(w, "unknown type "+req.Type, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
}

const testUser = "0x00000000000000000000000000000000000000aa"

func TestPerpStateFiltersDustAndMarksFromMids(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"clearinghouseState": `{
			"assetPositions": [
				{"type": "oneWay", "position": {
					"coin": "HYPE", "szi": "-12.5", "entryPx": "21.0",
					"marginUsed": "60.0",
					"cumFunding": {"allTime": "3.1", "sinceOpen": "1.25", "sinceChange": "0.4"}
				}},
				{"type": "oneWay", "position": {
					"coin": "BTC", "szi": "0.000001", "entryPx": "60000",
					"marginUsed": "0.01",
					"cumFunding": {"allTime": "0", "sinceOpen": "0", "sinceChange": "0"}
				}}
			],
			"marginSummary": {"accountValue": "500.0", "totalMarginUsed": "60.0"},
			"withdrawable": "440.0"
		}`,
		"allMids": `{"HYPE": "20.0", "BTC": "61000"}`,
	})
	defer server.Close()

	client := NewClient(server.URL, nil)
	account, err := client.PerpState(context.Background(), testUser)
	if err != nil {
		t.Fatalf("perp state: %v", err)
	}
	if len(account.Positions) != 1 {
		t.Fatalf("positions = %d, want 1 (dust filtered)", len(account.Positions))
	}
	if account.WithdrawableUSD != 440.0 {
		t.Fatalf("withdrawable = %g, want 440", account.WithdrawableUSD)
	}

	position := account.Positions[0]
	if position.Asset != "HYPE" || position.Size != -12.5 {
		t.Fatalf("unexpected position %+v", position)
	}
	if position.MarkPrice != 20.0 {
		t.Fatalf("mark price = %g, want 20.0 from mids", position.MarkPrice)
	}
	if position.EntryPrice != 21.0 || position.CumulativeFunding != 1.25 {
		t.Fatalf("unexpected position %+v", position)
	}
	if position.NotionalValue() != 250.0 {
		t.Fatalf("notional = %g, want 250", position.NotionalValue())
	}
	if position.DeltaContribution() != -250.0 {
		t.Fatalf("delta = %g, want -250 for a short", position.DeltaContribution())
	}
}

func TestPerpStateMidsFailureFallsBackToEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req infoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Type == "allMids" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{
			"assetPositions": [
				{"type": "oneWay", "position": {
					"coin": "HYPE", "szi": "3.0", "entryPx": "19.5",
					"marginUsed": "20.0",
					"cumFunding": {"allTime": "0", "sinceOpen": "0", "sinceChange": "0"}
				}}
			],
			"marginSummary": {"accountValue": "100.0", "totalMarginUsed": "20.0"},
			"withdrawable": "80.0"
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	account, err := client.PerpState(context.Background(), testUser)
	if err != nil {
		t.Fatalf("perp state: %v", err)
	}
	if len(account.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(account.Positions))
	}
	if account.Positions[0].MarkPrice != 19.5 {
		t.Fatalf("mark price = %g, want entry price fallback 19.5", account.Positions[0].MarkPrice)
	}
}

func TestSpotBalancesAllowListAndValuation(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"spotClearinghouseState": `{
			"balances": [
				{"coin": "HYPE", "total": "10.0", "hold": "0"},
				{"coin": "USDT0", "total": "150.0", "hold": "0"},
				{"coin": "PURR", "total": "9999", "hold": "0"},
				{"coin": "USDC", "total": "0", "hold": "0"}
			]
		}`,
		"allMids": `{"HYPE": "20.0"}`,
	})
	defer server.Close()

	client := NewClient(server.URL, nil)
	balances, err := client.SpotBalances(context.Background(), testUser)
	if err != nil {
		t.Fatalf("spot balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %d, want 2 (allow-list and zero filtered)", len(balances))
	}

	byAsset := make(map[string]float64, len(balances))
	for _, balance := range balances {
		byAsset[balance.Asset] = balance.ValueUSD
	}
	if byAsset["HYPE"] != 200.0 {
		t.Fatalf("HYPE value = %g, want 200", byAsset["HYPE"])
	}
	if byAsset["USDT0"] != 150.0 {
		t.Fatalf("USDT0 value = %g, want 150 (pinned to 1.0)", byAsset["USDT0"])
	}
}

func TestFundingRatesAnnualized(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"metaAndAssetCtxs": `[
			{"universe": [{"name": "HYPE", "szDecimals": 2}, {"name": "BTC", "szDecimals": 5}]},
			[{"funding": "0.0000125", "markPx": "20.0"}, {"funding": "-0.00001", "markPx": "61000"}]
		]`,
	})
	defer server.Close()

	client := NewClient(server.URL, nil)
	rates, err := client.FundingRates(context.Background())
	if err != nil {
		t.Fatalf("funding rates: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("rates = %d, want 2", len(rates))
	}

	wantHype := 0.0000125 * 24 * 365 * 100
	if math.Abs(rates["HYPE"]-wantHype) > 1e-9 {
		t.Fatalf("HYPE rate = %g, want %g", rates["HYPE"], wantHype)
	}
	if rates["BTC"] >= 0 {
		t.Fatalf("BTC rate = %g, want negative", rates["BTC"])
	}
}

func TestPricesAliasesWrappedGasToken(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"allMids": `{"HYPE": "20.5", "BTC": "61000"}`,
	})
	defer server.Close()

	client := NewClient(server.URL, nil)
	prices, err := client.Prices(context.Background())
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	if prices["HYPE"] != 20.5 || prices["WHYPE"] != 20.5 {
		t.Fatalf("prices = %v, want HYPE and WHYPE both 20.5", prices)
	}
}

func TestPostRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"HYPE": "20.0"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, WithMaxTries(3), WithRetryBackoff(time.Millisecond))
	mids, err := client.AllMids(context.Background())
	if err != nil {
		t.Fatalf("all mids after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if mids["HYPE"] != 20.0 {
		t.Fatalf("mids = %v", mids)
	}
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, WithMaxTries(5), WithRetryBackoff(time.Millisecond))
	if _, err := client.AllMids(context.Background()); err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx is permanent)", attempts)
	}
}
