package sink

import (
	"context"

	"github.com/siqueiraa/LiftFlow/pkg/model"
)

// BulkStore persists one batch per call. Implementations need not make the
// batch atomic, and the sink never retries a failed call.
type BulkStore interface {
	WriteBatch(ctx context.Context, records []model.Record) error
}

// Querier answers the read-side questions about stored rides.
type Querier interface {
	// SkierDays counts the distinct days a skier rode in a season.
	SkierDays(ctx context.Context, skierID int, seasonID string) (int, error)
	// SkierVertical sums vertical per day for a skier in a season.
	SkierVertical(ctx context.Context, skierID int, seasonID string) (map[string]int, error)
	// SkierLifts lists the lifts a skier rode on one day.
	SkierLifts(ctx context.Context, skierID int, seasonID, dayID string) ([]int, error)
	// ResortSkiers counts the distinct skiers at a resort on one day.
	ResortSkiers(ctx context.Context, resortID int, dayID string) (int, error)
}

// Store is a bulk store that can also be queried and closed.
type Store interface {
	BulkStore
	Querier
	Close() error
}
