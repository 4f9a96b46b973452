package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencivic/srhistory/internal/domain"
)

const uniqueViolationCode = "23505"

// historyRepository implements HistoryRepository on Postgres
type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository creates a new history repository backed by pgxpool.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{pool: pool}
}

const historyColumns = `id, business_key, entity_type, attributes, valid_from, valid_to, version, created_at, updated_at`

// GetCurrent fetches the open row for a business key.
func (r *historyRepository) GetCurrent(ctx context.Context, businessKey string) (domain.HistoryRow, bool, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+historyColumns+`
		 FROM service_request_history
		 WHERE business_key = $1 AND valid_to IS NULL`,
		businessKey,
	)

	current, err := scanHistoryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HistoryRow{}, false, nil
		}
		return domain.HistoryRow{}, false, fmt.Errorf("failed to get current row: %w", err)
	}
	return current, true, nil
}

// InsertCurrent opens a new current row. The partial unique index on open
// rows turns a lost open-vs-open race into ErrConflict.
func (r *historyRepository) InsertCurrent(ctx context.Context, row domain.HistoryRow) error {
	attributesJSON, err := row.GetAttributesAsJSONB()
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO service_request_history
		   (id, business_key, entity_type, attributes, valid_from, valid_to, version)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
		row.ID,
		row.BusinessKey,
		row.EntityType,
		attributesJSON,
		row.ValidFrom,
		row.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert current row: %w", err)
	}
	return nil
}

// Transition closes the current row and opens its successor atomically. A
// reader never observes the key with zero or two open rows.
func (r *historyRepository) Transition(ctx context.Context, currentID uuid.UUID, validTo time.Time, next domain.HistoryRow) error {
	attributesJSON, err := next.GetAttributesAsJSONB()
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(
		ctx,
		`UPDATE service_request_history
		 SET valid_to = $1, updated_at = now()
		 WHERE id = $2 AND valid_to IS NULL`,
		validTo,
		currentID,
	)
	if err != nil {
		return fmt.Errorf("failed to close current row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO service_request_history
		   (id, business_key, entity_type, attributes, valid_from, valid_to, version)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6)`,
		next.ID,
		next.BusinessKey,
		next.EntityType,
		attributesJSON,
		next.ValidFrom,
		next.Version,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to open successor row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// Close ends the current row with no successor.
func (r *historyRepository) Close(ctx context.Context, currentID uuid.UUID, validTo time.Time) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE service_request_history
		 SET valid_to = $1, updated_at = now()
		 WHERE id = $2 AND valid_to IS NULL`,
		validTo,
		currentID,
	)
	if err != nil {
		return fmt.Errorf("failed to close current row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// RefreshAttributes replaces an open row's attributes in place.
func (r *historyRepository) RefreshAttributes(ctx context.Context, currentID uuid.UUID, attributes map[string]any) error {
	refreshed := domain.HistoryRow{Attributes: attributes}
	attributesJSON, err := refreshed.GetAttributesAsJSONB()
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE service_request_history
		 SET attributes = $1, updated_at = now()
		 WHERE id = $2 AND valid_to IS NULL`,
		attributesJSON,
		currentID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListByKey returns a key's full history, oldest interval first.
func (r *historyRepository) ListByKey(ctx context.Context, businessKey string) ([]domain.HistoryRow, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+historyColumns+`
		 FROM service_request_history
		 WHERE business_key = $1
		 ORDER BY valid_from ASC, version ASC`,
		businessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	return collectHistoryRows(rows)
}

// ListCurrent returns open rows, optionally filtered by entity type.
func (r *historyRepository) ListCurrent(ctx context.Context, entityType string, limit int, offset int) ([]domain.HistoryRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+historyColumns+`
		 FROM service_request_history
		 WHERE valid_to IS NULL
		   AND ($1 = '' OR entity_type = $1)
		 ORDER BY business_key
		 LIMIT $2 OFFSET $3`,
		entityType,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list current rows: %w", err)
	}
	defer rows.Close()

	return collectHistoryRows(rows)
}

// CountByKey returns the number of versions recorded for a key.
func (r *historyRepository) CountByKey(ctx context.Context, businessKey string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM service_request_history WHERE business_key = $1`,
		businessKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history rows: %w", err)
	}
	return count, nil
}

func collectHistoryRows(rows pgx.Rows) ([]domain.HistoryRow, error) {
	history := []domain.HistoryRow{}
	for rows.Next() {
		row, err := scanHistoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		history = append(history, row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", rowsErr)
	}
	return history, nil
}

func scanHistoryRow(row pgx.Row) (domain.HistoryRow, error) {
	var (
		out            domain.HistoryRow
		attributesJSON []byte
		validTo        pgtype.Timestamptz
	)
	if err := row.Scan(
		&out.ID,
		&out.BusinessKey,
		&out.EntityType,
		&attributesJSON,
		&out.ValidFrom,
		&validTo,
		&out.Version,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.HistoryRow{}, err
	}

	attributes, err := domain.FromJSONBAttributes(attributesJSON)
	if err != nil {
		return domain.HistoryRow{}, fmt.Errorf("failed to decode attributes for row %s: %w", out.ID, err)
	}
	out.Attributes = attributes

	if validTo.Valid {
		value := validTo.Time
		out.ValidTo = &value
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
