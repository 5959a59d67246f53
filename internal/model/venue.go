package model

import "math"

// PerpPosition is one perpetual-futures position on the off-chain venue.
// Size is signed: positive is long, negative is short.
type PerpPosition struct {
	Asset             string
	Size              float64
	EntryPrice        float64
	MarkPrice         float64
	CumulativeFunding float64
	MarginUsed        float64
}

// NotionalValue returns |size| * markPrice.
func (p PerpPosition) NotionalValue() float64 {
	return math.Abs(p.Size) * p.MarkPrice
}

// DeltaContribution returns the sign-preserving notional, so shorts
// contribute negative delta.
func (p PerpPosition) DeltaContribution() float64 {
	return p.Size * p.MarkPrice
}

// PerpAccount is the venue's perpetual clearinghouse view for one account:
// the open positions plus the margin that is withdrawable and therefore
// idle rather than deployed.
type PerpAccount struct {
	Positions       []PerpPosition
	WithdrawableUSD float64
}

// SpotBalance is one spot asset balance on the off-chain venue, already in
// human units.
type SpotBalance struct {
	Asset    string
	Balance  float64
	ValueUSD float64
}

// WalletBalance is one on-chain wallet balance in human units.
type WalletBalance struct {
	Symbol   string
	Balance  float64
	ValueUSD float64
}
