package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// CreateGroupBooking inserts a new group booking record
func (d *DB) CreateGroupBooking(ctx context.Context, booking db.GroupBooking) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO group_bookings (id, shift_id, leader_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, booking.ID, booking.ShiftID, booking.LeaderID, booking.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group booking: %w", asStoreError(err))
	}
	return nil
}

// GetGroupBooking retrieves one group booking by id
func (d *DB) GetGroupBooking(ctx context.Context, groupBookingID string) (db.GroupBooking, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var booking db.GroupBooking
	row := d.pool.QueryRow(ctx, `
		SELECT id, shift_id, leader_id, created_at FROM group_bookings WHERE id = $1
	`, groupBookingID)
	if err := row.Scan(&booking.ID, &booking.ShiftID, &booking.LeaderID, &booking.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.GroupBooking{}, db.ErrNotFound
		}
		return db.GroupBooking{}, fmt.Errorf("failed to scan group booking: %w", asStoreError(err))
	}
	return booking, nil
}
