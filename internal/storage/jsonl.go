package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deltaScope/internal/model"
)

// JsonlStore appends positions and snapshots to a JSONL file, one typed
// record per line. It is the zero-infrastructure alternative to Postgres.
type JsonlStore struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStore(path string) *JsonlStore {
	return &JsonlStore{path: path}
}

type lpPositionRecord struct {
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`

	TokenID     string  `json:"token_id"`
	DEX         string  `json:"dex"`
	Pool        string  `json:"pool"`
	Symbol0     string  `json:"symbol0"`
	Symbol1     string  `json:"symbol1"`
	Fee         uint32  `json:"fee"`
	TickLower   int32   `json:"tick_lower"`
	TickUpper   int32   `json:"tick_upper"`
	Liquidity   string  `json:"liquidity"`
	InRange     bool    `json:"in_range"`
	ValueUSD    float64 `json:"value_usd"`
	FeesUSD     float64 `json:"fees_usd"`
	FeeAPR      float64 `json:"fee_apr"`
	HoldVsLPPct float64 `json:"hold_vs_lp_pct"`
}

type snapshotRecord struct {
	Kind string `json:"kind"`
	model.AccountSnapshot
}

// UpsertLPPositions appends one record per position. JSONL is append-only,
// so "upsert" degrades to append; readers keep the latest record per
// (account, dex, token_id).
func (s *JsonlStore) UpsertLPPositions(ctx context.Context, account string, positions []model.LPPosition) error {
	if len(positions) == 0 {
		return nil
	}

	now := time.Now().UTC()
	records := make([]interface{}, 0, len(positions))
	for _, position := range positions {
		liquidity := "0"
		if position.Liquidity != nil {
			liquidity = position.Liquidity.String()
		}
		records = append(records, lpPositionRecord{
			Kind:        "lp_position",
			Account:     account,
			Timestamp:   now,
			TokenID:     position.TokenID.String(),
			DEX:         position.DEX,
			Pool:        position.Pool.Hex(),
			Symbol0:     position.Symbol0,
			Symbol1:     position.Symbol1,
			Fee:         position.Fee,
			TickLower:   position.TickLower,
			TickUpper:   position.TickUpper,
			Liquidity:   liquidity,
			InRange:     position.InRange,
			ValueUSD:    position.ValueUSD,
			FeesUSD:     position.FeesUSD,
			FeeAPR:      position.FeeAPR,
			HoldVsLPPct: position.HoldVsLPPct,
		})
	}
	return s.appendRecords(records)
}

// UpsertAccountSnapshot appends the snapshot with its timestamp floored to
// the snapshot boundary.
func (s *JsonlStore) UpsertAccountSnapshot(ctx context.Context, snapshot model.AccountSnapshot) error {
	snapshot.Timestamp = model.FloorTimestamp(snapshot.Timestamp)
	return s.appendRecords([]interface{}{snapshotRecord{Kind: "snapshot", AccountSnapshot: snapshot}})
}

func (s *JsonlStore) appendRecords(records []interface{}) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
