package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deltaScope/internal/model"
	"deltaScope/internal/pricing"
)

type stubLPs struct {
	positions map[string][]model.LPPosition
	err       map[string]error
}

func (s *stubLPs) Discover(ctx context.Context, account string) ([]model.LPPosition, error) {
	if err, ok := s.err[account]; ok {
		return nil, err
	}
	return s.positions[account], nil
}

type stubVenue struct {
	perps        []model.PerpPosition
	withdrawable float64
	spots        []model.SpotBalance
	funding      map[string]float64

	perpErr    error
	spotErr    error
	fundingErr error

	mu        sync.Mutex
	perpUsers []string
}

func (s *stubVenue) PerpState(ctx context.Context, user string) (model.PerpAccount, error) {
	s.mu.Lock()
	s.perpUsers = append(s.perpUsers, user)
	s.mu.Unlock()
	if s.perpErr != nil {
		return model.PerpAccount{}, s.perpErr
	}
	return model.PerpAccount{Positions: s.perps, WithdrawableUSD: s.withdrawable}, nil
}

func (s *stubVenue) SpotBalances(ctx context.Context, user string) ([]model.SpotBalance, error) {
	return s.spots, s.spotErr
}

func (s *stubVenue) FundingRates(ctx context.Context) (map[string]float64, error) {
	return s.funding, s.fundingErr
}

type recordingStore struct {
	mu        sync.Mutex
	positions map[string][]model.LPPosition
	snapshots []model.AccountSnapshot
}

func (s *recordingStore) UpsertLPPositions(ctx context.Context, account string, positions []model.LPPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions == nil {
		s.positions = make(map[string][]model.LPPosition)
	}
	s.positions[account] = positions
	return nil
}

func (s *recordingStore) UpsertAccountSnapshot(ctx context.Context, snapshot model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

type fixedPrices struct{ prices map[string]float64 }

func (f fixedPrices) Prices(ctx context.Context) (map[string]float64, error) {
	return f.prices, nil
}

const (
	accountA = "0x00000000000000000000000000000000000000a1"
	accountB = "0x00000000000000000000000000000000000000b2"
)

func activeAccounts(addresses ...string) []model.MonitoredAccount {
	out := make([]model.MonitoredAccount, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, model.MonitoredAccount{Address: address, IsActive: true})
	}
	return out
}

func TestRunOncePerAccountFailureIsolation(t *testing.T) {
	lps := &stubLPs{
		positions: map[string][]model.LPPosition{
			accountB: {{Symbol0: "WHYPE", Symbol1: "USDT0", Amount0: 10, ValueUSD: 400}},
		},
		err: map[string]error{accountA: errors.New("malformed account address")},
	}
	store := &recordingStore{}

	runner := NewRunner(Deps{LPs: lps, Store: store}, activeAccounts(accountA, accountB), 0, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1 (failing account skipped)", len(snapshots))
	}
	if snapshots[0].Account != accountB {
		t.Fatalf("snapshot account = %s, want %s", snapshots[0].Account, accountB)
	}
	if snapshots[0].LPValueUSD != 400 {
		t.Fatalf("lp value = %g, want 400", snapshots[0].LPValueUSD)
	}
	if len(store.snapshots) != 1 {
		t.Fatalf("persisted snapshots = %d, want 1", len(store.snapshots))
	}
}

func TestRunOnceSpotFailureKeepsPerpLeg(t *testing.T) {
	lps := &stubLPs{}
	venue := &stubVenue{
		perps:   []model.PerpPosition{{Asset: "HYPE", Size: -5, MarkPrice: 20, MarginUsed: 40}},
		spotErr: errors.New("timeout"),
		funding: map[string]float64{"HYPE": 10},
	}

	runner := NewRunner(Deps{LPs: lps, Venue: venue}, activeAccounts(accountA), 0, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snapshots))
	}

	snapshot := snapshots[0]
	if snapshot.PerpValueUSD != 40 {
		t.Fatalf("perp value = %g, want 40 despite spot failure", snapshot.PerpValueUSD)
	}
	if snapshot.SpotValueUSD != 0 {
		t.Fatalf("spot value = %g, want 0 (failed leg is empty)", snapshot.SpotValueUSD)
	}
	if snapshot.NetDeltaHYPE != -100 {
		t.Fatalf("net delta = %g, want -100", snapshot.NetDeltaHYPE)
	}
	// Short collecting +10% funding.
	if snapshot.FundingAPR != 10 {
		t.Fatalf("funding apr = %g, want 10", snapshot.FundingAPR)
	}
}

func TestWithdrawableMarginInSnapshot(t *testing.T) {
	lps := &stubLPs{}
	venue := &stubVenue{
		perps:        []model.PerpPosition{{Asset: "HYPE", Size: -5, MarkPrice: 20, MarginUsed: 40}},
		withdrawable: 250,
		spots:        []model.SpotBalance{{Asset: "USDT0", Balance: 100, ValueUSD: 100}},
	}

	runner := NewRunner(Deps{LPs: lps, Venue: venue}, activeAccounts(accountA), 0, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	snapshot := snapshots[0]
	if snapshot.SpotValueUSD != 350 {
		t.Fatalf("spot value = %g, want 350 (100 spot + 250 withdrawable)", snapshot.SpotValueUSD)
	}
	if snapshot.PerpValueUSD != 40 {
		t.Fatalf("perp value = %g, want only the margin in use", snapshot.PerpValueUSD)
	}
}

func TestFundingFallsBackToCachedRates(t *testing.T) {
	cache := pricing.New(time.Minute, nil, nil)
	cache.SetFundingRates(map[string]float64{"HYPE": 12})

	lps := &stubLPs{}
	venue := &stubVenue{
		perps:      []model.PerpPosition{{Asset: "HYPE", Size: -5, MarkPrice: 20, MarginUsed: 40}},
		fundingErr: errors.New("timeout"),
	}

	runner := NewRunner(Deps{LPs: lps, Venue: venue, Cache: cache}, activeAccounts(accountA), 0, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if snapshots[0].FundingAPR != 12 {
		t.Fatalf("funding apr = %g, want 12 from the cached rate", snapshots[0].FundingAPR)
	}
}

func TestRunOnceUsesVenueAddressOverride(t *testing.T) {
	lps := &stubLPs{}
	venue := &stubVenue{}
	accounts := []model.MonitoredAccount{{
		Address:      accountA,
		VenueAddress: accountB,
		IsActive:     true,
	}}

	runner := NewRunner(Deps{LPs: lps, Venue: venue}, accounts, 0, time.Minute)
	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(venue.perpUsers) != 1 || venue.perpUsers[0] != accountB {
		t.Fatalf("venue queried %v, want the override address", venue.perpUsers)
	}
}

func TestRunOnceSkipsInactiveAccounts(t *testing.T) {
	lps := &stubLPs{}
	accounts := []model.MonitoredAccount{
		{Address: accountA, IsActive: false},
		{Address: accountB, IsActive: true},
	}

	runner := NewRunner(Deps{LPs: lps}, accounts, 0, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Account != accountB {
		t.Fatalf("snapshots = %+v, want only the active account", snapshots)
	}
}

func TestRunOnceNoAccounts(t *testing.T) {
	runner := NewRunner(Deps{LPs: &stubLPs{}}, nil, 0, time.Minute)
	if _, err := runner.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error for empty account list")
	}
}

func TestRebalanceBand(t *testing.T) {
	cache := pricing.New(time.Minute, fixedPrices{prices: map[string]float64{"HYPE": 20}}, nil)
	lps := &stubLPs{
		positions: map[string][]model.LPPosition{
			// 100 HYPE long, $40k value: way outside a $500 band at $20.
			accountA: {{Symbol0: "WHYPE", Symbol1: "USDT0", Amount0: 100, ValueUSD: 4000}},
		},
	}

	runner := NewRunner(Deps{LPs: lps, Cache: cache}, activeAccounts(accountA), 500, time.Minute)
	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !snapshots[0].RebalanceNeeded {
		t.Fatalf("|100 * 20| = 2000 > 500, want rebalance flagged")
	}

	// Within the band.
	lps.positions[accountA] = []model.LPPosition{{Symbol0: "WHYPE", Symbol1: "USDT0", Amount0: 10, ValueUSD: 400}}
	snapshots, err = runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if snapshots[0].RebalanceNeeded {
		t.Fatalf("|10 * 20| = 200 <= 500, want no rebalance")
	}
}

func TestSnapshotTimestampFromClock(t *testing.T) {
	fixed := time.Date(2026, 8, 29, 12, 3, 7, 0, time.UTC)
	runner := NewRunner(Deps{LPs: &stubLPs{}}, activeAccounts(accountA), 0, time.Minute,
		WithClock(func() time.Time { return fixed }))

	snapshots, err := runner.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !snapshots[0].Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %s, want the injected clock value", snapshots[0].Timestamp)
	}
	if got := model.FloorTimestamp(snapshots[0].Timestamp); got != time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("floored = %s, want 12:00:00", got)
	}
}
