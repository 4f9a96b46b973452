package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingBusinessKey marks a snapshot without a usable business key.
	ErrMissingBusinessKey = errors.New("snapshot is missing a business key")
	// ErrMissingObservedAt marks a snapshot without a source timestamp.
	ErrMissingObservedAt = errors.New("snapshot is missing a source timestamp")
)

// Snapshot is one observation of an entity as delivered by an upstream
// extract. Many snapshots may share a business key; the tracker orders them
// by ObservedAt per key.
type Snapshot struct {
	BusinessKey string
	EntityType  string
	ObservedAt  time.Time
	Attributes  map[string]any
	// Retired signals an explicit upstream deletion. Absence from a batch is
	// never interpreted as retirement.
	Retired bool
	// RowNumber points back at the source extract row, when known.
	RowNumber *int
}

// NewSnapshot builds a snapshot with a defensive copy of the attributes.
func NewSnapshot(businessKey, entityType string, observedAt time.Time, attributes map[string]any) Snapshot {
	return Snapshot{
		BusinessKey: strings.TrimSpace(businessKey),
		EntityType:  entityType,
		ObservedAt:  observedAt,
		Attributes:  cloneAttributes(attributes),
	}
}

// Validate reports the first structural problem with the snapshot, wrapped
// with the source row when available.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.BusinessKey) == "" {
		return s.rowError(ErrMissingBusinessKey)
	}
	if s.ObservedAt.IsZero() {
		return s.rowError(ErrMissingObservedAt)
	}
	return nil
}

func (s Snapshot) rowError(err error) error {
	if s.RowNumber != nil {
		return fmt.Errorf("row %d: %w", *s.RowNumber, err)
	}
	return err
}

func cloneAttributes(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
