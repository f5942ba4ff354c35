package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// CreateRegular inserts a new regular-volunteer commitment
func (d *DB) CreateRegular(ctx context.Context, regular db.RegularVolunteer) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO regular_volunteers (id, user_id, shift_type, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, regular.ID, regular.UserID, regular.ShiftType, regular.Active, regular.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert regular volunteer: %w", asStoreError(err))
	}
	return nil
}

// GetRegular retrieves one regular-volunteer record by id
func (d *DB) GetRegular(ctx context.Context, regularID string) (db.RegularVolunteer, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var regular db.RegularVolunteer
	row := d.pool.QueryRow(ctx, `
		SELECT id, user_id, shift_type, active, created_at FROM regular_volunteers WHERE id = $1
	`, regularID)
	if err := row.Scan(&regular.ID, &regular.UserID, &regular.ShiftType, &regular.Active, &regular.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.RegularVolunteer{}, db.ErrNotFound
		}
		return db.RegularVolunteer{}, fmt.Errorf("failed to scan regular volunteer: %w", asStoreError(err))
	}
	return regular, nil
}

// ListActiveRegulars retrieves every active regular-volunteer commitment
func (d *DB) ListActiveRegulars(ctx context.Context) ([]db.RegularVolunteer, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, user_id, shift_type, active, created_at FROM regular_volunteers WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query regular volunteers: %w", asStoreError(err))
	}
	defer rows.Close()

	var regulars []db.RegularVolunteer
	for rows.Next() {
		var regular db.RegularVolunteer
		if err := rows.Scan(&regular.ID, &regular.UserID, &regular.ShiftType, &regular.Active, &regular.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan regular volunteer: %w", asStoreError(err))
		}
		regulars = append(regulars, regular)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read regular volunteers: %w", asStoreError(err))
	}
	return regulars, nil
}

// DeactivateRegular marks a regular-volunteer commitment inactive
func (d *DB) DeactivateRegular(ctx context.Context, regularID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `UPDATE regular_volunteers SET active = FALSE WHERE id = $1`, regularID)
	if err != nil {
		return fmt.Errorf("failed to deactivate regular volunteer: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
