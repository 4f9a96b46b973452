package domain

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotRejection records one snapshot that was skipped during a batch
// apply, so operators can audit drift between source and history.
type SnapshotRejection struct {
	ID          uuid.UUID `json:"id"`
	BusinessKey string    `json:"business_key"`
	EntityType  string    `json:"entity_type"`
	SourceFile  string    `json:"source_file"`
	RowNumber   *int      `json:"row_number,omitempty"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
