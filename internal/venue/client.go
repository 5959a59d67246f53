// Package venue talks to the off-chain order-book venue over its POST /info
// JSON API: perpetual positions, spot balances, funding rates, and mark
// prices. Each leg fetch fails independently; callers compose them
// concurrently and tolerate empty legs.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"deltaScope/internal/model"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.hyperliquid.xyz"

// dustSize is the position size below which a perp position is ignored.
const dustSize = 1e-5

// hoursPerYear converts the venue's hourly fractional funding rate to an
// annualized percentage.
const hoursPerYear = 24 * 365

// Client is the venue API client.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *zap.Logger
	maxTries     uint
	retryBackoff time.Duration
	spotAssets   map[string]struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithMaxTries bounds transport-level retries of a single request.
func WithMaxTries(maxTries uint) Option {
	return func(c *Client) { c.maxTries = maxTries }
}

// WithRetryBackoff sets the initial retry interval.
func WithRetryBackoff(interval time.Duration) Option {
	return func(c *Client) { c.retryBackoff = interval }
}

// WithSpotAssets replaces the tracked spot asset allow-list.
func WithSpotAssets(assets ...string) Option {
	return func(c *Client) {
		c.spotAssets = make(map[string]struct{}, len(assets))
		for _, asset := range assets {
			c.spotAssets[strings.ToUpper(asset)] = struct{}{}
		}
	}
}

// NewClient builds a venue client against baseURL, or the production
// endpoint when baseURL is empty.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		maxTries:     1,
		retryBackoff: 200 * time.Millisecond,
		spotAssets: map[string]struct{}{
			"HYPE": {}, "USDT0": {}, "USDC": {},
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// PerpState returns the account's clearinghouse view: open perpetual
// positions with dust filtered out, plus the withdrawable margin. Mark
// prices come from allMids; when that fetch fails the entry price stands in
// and the substitution is logged.
func (c *Client) PerpState(ctx context.Context, user string) (model.PerpAccount, error) {
	var state clearinghouseState
	if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: user}, &state); err != nil {
		return model.PerpAccount{}, fmt.Errorf("fetch clearinghouse state: %w", err)
	}

	mids, err := c.AllMids(ctx)
	if err != nil {
		c.logger.Warn("mark prices unavailable, falling back to entry prices", zap.Error(err))
		mids = nil
	}

	account := model.PerpAccount{
		Positions:       make([]model.PerpPosition, 0, len(state.AssetPositions)),
		WithdrawableUSD: parseFloat(state.Withdrawable),
	}
	for _, entry := range state.AssetPositions {
		raw := entry.Position
		size := parseFloat(raw.Szi)
		if math.Abs(size) < dustSize {
			continue
		}

		entryPrice := parseFloat(raw.EntryPx)
		markPrice := entryPrice
		if mid, ok := mids[strings.ToUpper(raw.Coin)]; ok {
			markPrice = mid
		}

		account.Positions = append(account.Positions, model.PerpPosition{
			Asset:             raw.Coin,
			Size:              size,
			EntryPrice:        entryPrice,
			MarkPrice:         markPrice,
			CumulativeFunding: parseFloat(raw.CumFunding.SinceOpen),
			MarginUsed:        parseFloat(raw.MarginUsed),
		})
	}
	return account, nil
}

// SpotBalances returns the account's spot balances restricted to the tracked
// asset allow-list and positive totals. USD values use mark prices, with
// tracked stables pinned to 1.0.
func (c *Client) SpotBalances(ctx context.Context, user string) ([]model.SpotBalance, error) {
	var state spotClearinghouseState
	if err := c.post(ctx, infoRequest{Type: "spotClearinghouseState", User: user}, &state); err != nil {
		return nil, fmt.Errorf("fetch spot clearinghouse state: %w", err)
	}

	mids, err := c.AllMids(ctx)
	if err != nil {
		c.logger.Warn("mark prices unavailable for spot valuation", zap.Error(err))
		mids = nil
	}

	out := make([]model.SpotBalance, 0, len(state.Balances))
	for _, raw := range state.Balances {
		asset := strings.ToUpper(raw.Coin)
		if _, ok := c.spotAssets[asset]; !ok {
			continue
		}
		total := parseFloat(raw.Total)
		if total <= 0 {
			continue
		}

		price := 0.0
		switch asset {
		case "USDT0", "USDC":
			price = 1.0
		default:
			if mid, ok := mids[asset]; ok {
				price = mid
			} else {
				c.logger.Warn("no mark price for spot asset", zap.String("asset", raw.Coin))
			}
		}

		out = append(out, model.SpotBalance{
			Asset:    raw.Coin,
			Balance:  total,
			ValueUSD: total * price,
		})
	}
	return out, nil
}

// FundingRates returns the annualized funding percentage per perp asset. The
// API reports an hourly fractional rate; annualized = hourly * 24 * 365 * 100.
func (c *Client) FundingRates(ctx context.Context) (map[string]float64, error) {
	var raw metaAndAssetCtxs
	if err := c.post(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, fmt.Errorf("fetch meta and asset contexts: %w", err)
	}

	var meta perpMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode perp meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, fmt.Errorf("asset context count %d does not match universe size %d", len(ctxs), len(meta.Universe))
	}

	rates := make(map[string]float64, len(meta.Universe))
	for i, asset := range meta.Universe {
		hourly := parseFloat(ctxs[i].Funding)
		rates[strings.ToUpper(asset.Name)] = hourly * hoursPerYear * 100
	}
	return rates, nil
}

// AllMids returns the mark-price map keyed by upper-cased asset name.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.post(ctx, infoRequest{Type: "allMids"}, &raw); err != nil {
		return nil, fmt.Errorf("fetch mids: %w", err)
	}

	mids := make(map[string]float64, len(raw))
	for asset, value := range raw {
		mids[strings.ToUpper(asset)] = parseFloat(value)
	}
	return mids, nil
}

// Prices adapts the mid map into the pricing source contract, aliasing the
// wrapped gas token to the native mid so LP valuation can price both forms.
func (c *Client) Prices(ctx context.Context) (map[string]float64, error) {
	mids, err := c.AllMids(ctx)
	if err != nil {
		return nil, err
	}
	if hype, ok := mids["HYPE"]; ok {
		mids["WHYPE"] = hype
	}
	return mids, nil
}

func (c *Client) post(ctx context.Context, body infoRequest, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBackoff

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusBadRequest {
			err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			if resp.StatusCode < http.StatusInternalServerError {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", body.Type, err)
	}
	return nil
}

// parseFloat is tolerant of the venue's stringly-typed numbers: malformed or
// empty fields decay to 0 instead of failing a whole leg.
func parseFloat(value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}
