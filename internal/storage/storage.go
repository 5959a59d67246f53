// Package storage persists discovered positions and account snapshots.
package storage

import (
	"context"

	"deltaScope/internal/model"
)

// Store is the persistence sink for a refresh cycle's output.
type Store interface {
	UpsertLPPositions(ctx context.Context, account string, positions []model.LPPosition) error
	UpsertAccountSnapshot(ctx context.Context, snapshot model.AccountSnapshot) error
}
