// Package postgres persists positions and snapshots to Postgres.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deltaScope/internal/model"
)

// Store provides Postgres persistence for the monitor's output.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertLPPositions inserts or updates the account's discovered positions,
// keyed by (account, dex, token_id).
func (s *Store) UpsertLPPositions(ctx context.Context, account string, positions []model.LPPosition) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, position := range positions {
		liquidity := "0"
		if position.Liquidity != nil {
			liquidity = position.Liquidity.String()
		}
		batch.Queue(`
			INSERT INTO lp_positions (
				account, dex, token_id, pool_address, token0_symbol, token1_symbol,
				fee_tier, tick_lower, tick_upper, liquidity, value_usd, fees_usd,
				fee_apr, hold_vs_lp_pct, in_range, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
			ON CONFLICT (account, dex, token_id)
			DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				token0_symbol = EXCLUDED.token0_symbol,
				token1_symbol = EXCLUDED.token1_symbol,
				fee_tier = EXCLUDED.fee_tier,
				tick_lower = EXCLUDED.tick_lower,
				tick_upper = EXCLUDED.tick_upper,
				liquidity = EXCLUDED.liquidity,
				value_usd = EXCLUDED.value_usd,
				fees_usd = EXCLUDED.fees_usd,
				fee_apr = EXCLUDED.fee_apr,
				hold_vs_lp_pct = EXCLUDED.hold_vs_lp_pct,
				in_range = EXCLUDED.in_range,
				updated_at = now()
		`,
			account,
			position.DEX,
			position.TokenID.String(),
			position.Pool.Hex(),
			position.Symbol0,
			position.Symbol1,
			int32(position.Fee),
			position.TickLower,
			position.TickUpper,
			liquidity,
			position.ValueUSD,
			position.FeesUSD,
			position.FeeAPR,
			position.HoldVsLPPct,
			position.InRange,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAccountSnapshot inserts or updates the snapshot at its floored
// boundary, so re-runs within the same interval overwrite in place.
func (s *Store) UpsertAccountSnapshot(ctx context.Context, snapshot model.AccountSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_snapshots (
			account, snapshot_ts, lp_value_usd, perp_value_usd, spot_value_usd,
			net_delta_hype, lp_fee_apr, funding_apr, net_apr, rebalance_needed,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		ON CONFLICT (account, snapshot_ts)
		DO UPDATE SET
			lp_value_usd = EXCLUDED.lp_value_usd,
			perp_value_usd = EXCLUDED.perp_value_usd,
			spot_value_usd = EXCLUDED.spot_value_usd,
			net_delta_hype = EXCLUDED.net_delta_hype,
			lp_fee_apr = EXCLUDED.lp_fee_apr,
			funding_apr = EXCLUDED.funding_apr,
			net_apr = EXCLUDED.net_apr,
			rebalance_needed = EXCLUDED.rebalance_needed,
			updated_at = now()
	`,
		snapshot.Account,
		model.FloorTimestamp(snapshot.Timestamp),
		snapshot.LPValueUSD,
		snapshot.PerpValueUSD,
		snapshot.SpotValueUSD,
		snapshot.NetDeltaHYPE,
		snapshot.LPFeeAPR,
		snapshot.FundingAPR,
		snapshot.NetAPR,
		snapshot.RebalanceNeeded,
	)
	return err
}
