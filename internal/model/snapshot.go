package model

import "time"

// AccountSnapshot is one persisted observation of an account. Timestamp is
// floored to a fixed boundary before persistence so re-runs within the same
// boundary upsert idempotently.
type AccountSnapshot struct {
	Account         string    `json:"account"`
	Timestamp       time.Time `json:"timestamp"`
	LPValueUSD      float64   `json:"lp_value_usd"`
	PerpValueUSD    float64   `json:"perp_value_usd"`
	SpotValueUSD    float64   `json:"spot_value_usd"`
	NetDeltaHYPE    float64   `json:"net_delta_hype"`
	LPFeeAPR        float64   `json:"lp_fee_apr"`
	FundingAPR      float64   `json:"funding_apr"`
	NetAPR          float64   `json:"net_apr"`
	RebalanceNeeded bool      `json:"rebalance_needed"`
}

// SnapshotInterval is the boundary snapshots are floored to.
const SnapshotInterval = 5 * time.Minute

// FloorTimestamp returns ts floored to the snapshot boundary.
func FloorTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(SnapshotInterval)
}
