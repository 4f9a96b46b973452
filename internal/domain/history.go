package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// HistoryRow is one validity interval of an entity's attributes. The interval
// is half-open: [ValidFrom, ValidTo). A nil ValidTo means the row is still
// current. Closed rows are immutable.
type HistoryRow struct {
	ID          uuid.UUID
	BusinessKey string
	EntityType  string
	Attributes  map[string]any
	ValidFrom   time.Time
	ValidTo     *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewHistoryRow opens a fresh current row for a business key.
func NewHistoryRow(businessKey, entityType string, attributes map[string]any, validFrom time.Time, version int64) HistoryRow {
	now := time.Now()
	return HistoryRow{
		ID:          uuid.New(),
		BusinessKey: businessKey,
		EntityType:  entityType,
		Attributes:  cloneAttributes(attributes),
		ValidFrom:   validFrom,
		Version:     version,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsCurrent reports whether this row is the entity's live version.
func (r HistoryRow) IsCurrent() bool {
	return r.ValidTo == nil
}

// Closed returns a copy of the row with its interval ended at the given
// instant.
func (r HistoryRow) Closed(at time.Time) HistoryRow {
	closed := r
	closed.Attributes = cloneAttributes(r.Attributes)
	closed.ValidTo = &at
	closed.UpdatedAt = time.Now()
	return closed
}

// WithAttributes returns a copy of the row carrying refreshed attributes.
// Used when only untracked fields moved and no new version is opened.
func (r HistoryRow) WithAttributes(attributes map[string]any) HistoryRow {
	updated := r
	updated.Attributes = cloneAttributes(attributes)
	updated.UpdatedAt = time.Now()
	return updated
}

// Covers reports whether the instant falls inside the row's validity interval.
func (r HistoryRow) Covers(at time.Time) bool {
	if at.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || at.Before(*r.ValidTo)
}

func (r *HistoryRow) GetAttributesAsJSONB() (json.RawMessage, error) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	return json.Marshal(r.Attributes)
}

// FromJSONBAttributes decodes an attribute map from stored JSONB data.
func FromJSONBAttributes(attributesJSON json.RawMessage) (map[string]any, error) {
	var attributes map[string]any
	err := json.Unmarshal(attributesJSON, &attributes)
	return attributes, err
}
