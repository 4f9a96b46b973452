package repository

import (
	"context"
	"fmt"

	"github.com/opencivic/srhistory/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rejectionRepository struct {
	pool *pgxpool.Pool
}

// NewRejectionRepository wires a repository backed by pgxpool.
func NewRejectionRepository(pool *pgxpool.Pool) RejectionRepository {
	return &rejectionRepository{pool: pool}
}

func (r *rejectionRepository) Record(ctx context.Context, entry domain.SnapshotRejection) error {
	if r.pool == nil {
		return fmt.Errorf("rejection repository not initialized")
	}

	var rowNumber any
	if entry.RowNumber != nil {
		rowNumber = *entry.RowNumber
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO snapshot_rejections (business_key, entity_type, source_file, row_number, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.BusinessKey,
		entry.EntityType,
		entry.SourceFile,
		rowNumber,
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}

	return nil
}

func (r *rejectionRepository) List(ctx context.Context, businessKey string, limit int, offset int) ([]domain.SnapshotRejection, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("rejection repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, business_key, entity_type, source_file, row_number, reason, created_at
		 FROM snapshot_rejections
		 WHERE ($1 = '' OR business_key = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		businessKey,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejections: %w", err)
	}
	defer rows.Close()

	rejections := []domain.SnapshotRejection{}
	for rows.Next() {
		var (
			entry     domain.SnapshotRejection
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.BusinessKey,
			&entry.EntityType,
			&entry.SourceFile,
			&rowNumber,
			&entry.Reason,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan rejection: %w", scanErr)
		}

		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		rejections = append(rejections, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate rejections: %w", rowsErr)
	}

	return rejections, nil
}
