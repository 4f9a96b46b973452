package repository

import (
	"context"
	"errors"
	"time"

	"github.com/opencivic/srhistory/internal/domain"

	"github.com/google/uuid"
)

// ErrConflict is returned when a conditional update on a key's current row
// lost a race against another writer. Callers re-fetch and retry.
var ErrConflict = errors.New("current history row changed concurrently")

// HistoryRepository defines the interface for history row storage. The
// guarantees the tracker relies on are enforced here: every mutation is
// conditional on the target row still being current, and a partial
// uniqueness constraint keeps at most one open row per business key.
type HistoryRepository interface {
	// GetCurrent fetches the open row for a business key, if one exists.
	GetCurrent(ctx context.Context, businessKey string) (domain.HistoryRow, bool, error)
	// InsertCurrent opens the first (or a re-opened) current row for a key.
	// Returns ErrConflict if another writer opened one first.
	InsertCurrent(ctx context.Context, row domain.HistoryRow) error
	// Transition closes the identified current row and opens its successor
	// in one transaction. Returns ErrConflict if the row is no longer open.
	Transition(ctx context.Context, currentID uuid.UUID, validTo time.Time, next domain.HistoryRow) error
	// Close ends the identified current row with no successor (retirement).
	Close(ctx context.Context, currentID uuid.UUID, validTo time.Time) error
	// RefreshAttributes replaces the attributes of an open row without
	// opening a new version. Used for untracked-only updates.
	RefreshAttributes(ctx context.Context, currentID uuid.UUID, attributes map[string]any) error

	ListByKey(ctx context.Context, businessKey string) ([]domain.HistoryRow, error)
	ListCurrent(ctx context.Context, entityType string, limit int, offset int) ([]domain.HistoryRow, error)
	CountByKey(ctx context.Context, businessKey string) (int64, error)
}

// RejectionRepository stores skipped snapshots for observability.
type RejectionRepository interface {
	Record(ctx context.Context, entry domain.SnapshotRejection) error
	List(ctx context.Context, businessKey string, limit int, offset int) ([]domain.SnapshotRejection, error)
}
