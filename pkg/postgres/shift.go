package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// CreateShift inserts a new shift record
func (d *DB) CreateShift(ctx context.Context, shift db.Shift) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO shifts (id, location, shift_type, starts_at, ends_at, capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, shift.ID, shift.Location, shift.ShiftType, shift.StartsAt, shift.EndsAt, shift.Capacity)
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", asStoreError(err))
	}
	return nil
}

// GetShift retrieves one shift by id
func (d *DB) GetShift(ctx context.Context, shiftID string) (db.Shift, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var shift db.Shift
	row := d.pool.QueryRow(ctx, `
		SELECT id, location, shift_type, starts_at, ends_at, capacity
		FROM shifts
		WHERE id = $1
	`, shiftID)
	if err := row.Scan(&shift.ID, &shift.Location, &shift.ShiftType, &shift.StartsAt, &shift.EndsAt, &shift.Capacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Shift{}, db.ErrNotFound
		}
		return db.Shift{}, fmt.Errorf("failed to scan shift: %w", asStoreError(err))
	}
	return shift, nil
}

// ListShiftsByTypeBetween retrieves shifts of one type starting in [from, to)
func (d *DB) ListShiftsByTypeBetween(ctx context.Context, shiftType string, from, to time.Time) ([]db.Shift, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, location, shift_type, starts_at, ends_at, capacity
		FROM shifts
		WHERE shift_type = $1 AND starts_at >= $2 AND starts_at < $3
		ORDER BY starts_at ASC
	`, shiftType, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", asStoreError(err))
	}
	defer rows.Close()

	var shifts []db.Shift
	for rows.Next() {
		var shift db.Shift
		if err := rows.Scan(&shift.ID, &shift.Location, &shift.ShiftType, &shift.StartsAt, &shift.EndsAt, &shift.Capacity); err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", asStoreError(err))
		}
		shifts = append(shifts, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read shifts: %w", asStoreError(err))
	}
	return shifts, nil
}

// DeleteShift removes a shift; signups, group bookings and invitations
// cascade with it.
func (d *DB) DeleteShift(ctx context.Context, shiftID string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `DELETE FROM shifts WHERE id = $1`, shiftID)
	if err != nil {
		return fmt.Errorf("failed to delete shift: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
