package venue

import "encoding/json"

// infoRequest is the body for every POST /info call. The venue multiplexes
// all reads through one endpoint keyed by the type field.
type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type cumFunding struct {
	AllTime     string `json:"allTime"`
	SinceOpen   string `json:"sinceOpen"`
	SinceChange string `json:"sinceChange"`
}

type rawPosition struct {
	Coin           string     `json:"coin"`
	Szi            string     `json:"szi"`
	EntryPx        string     `json:"entryPx"`
	PositionValue  string     `json:"positionValue"`
	UnrealizedPnl  string     `json:"unrealizedPnl"`
	MarginUsed     string     `json:"marginUsed"`
	CumFunding     cumFunding `json:"cumFunding"`
	MaxLeverage    int        `json:"maxLeverage"`
	ReturnOnEquity string     `json:"returnOnEquity"`
}

type assetPosition struct {
	Type     string      `json:"type"`
	Position rawPosition `json:"position"`
}

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type clearinghouseState struct {
	AssetPositions []assetPosition `json:"assetPositions"`
	MarginSummary  marginSummary   `json:"marginSummary"`
	Withdrawable   string          `json:"withdrawable"`
}

type rawSpotBalance struct {
	Coin     string `json:"coin"`
	Token    int    `json:"token"`
	Total    string `json:"total"`
	Hold     string `json:"hold"`
	EntryNtl string `json:"entryNtl"`
}

type spotClearinghouseState struct {
	Balances []rawSpotBalance `json:"balances"`
}

type universeAsset struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

type perpMeta struct {
	Universe []universeAsset `json:"universe"`
}

type assetCtx struct {
	Funding      string `json:"funding"`
	MarkPx       string `json:"markPx"`
	OpenInterest string `json:"openInterest"`
	OraclePx     string `json:"oraclePx"`
}

// metaAndAssetCtxs returns a two-element array of unrelated shapes, so the
// outer decode has to stay raw.
type metaAndAssetCtxs [2]json.RawMessage
