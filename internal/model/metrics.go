package model

// PortfolioMetrics is the aggregator output, recomputed wholesale each run.
// Combined APRs are nil when no leg carried any value for the period; a
// positive-value leg set whose APR sources all came back empty yields a
// non-nil zero instead, so "unmeasured yield" stays distinguishable from
// "no position".
type PortfolioMetrics struct {
	TotalValueUSD    float64
	DeployedValueUSD float64
	IdleValueUSD     float64

	LongDeltaHYPE  float64
	ShortDeltaHYPE float64
	IdleDeltaHYPE  float64
	NetDeltaHYPE   float64

	// |long + short| / |long|; 0 when longDelta is 0, deliberately
	// unclamped above 1 when over-hedged.
	HedgeEfficiencyRatio float64

	CombinedAPR24h *float64
	CombinedAPR7d  *float64
	CombinedAPR30d *float64
}
