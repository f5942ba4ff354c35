package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// VolunteerSnapshot assembles the point-in-time view of a volunteer that
// rules evaluate against. Completed shifts are counted from confirmed
// signups on shifts that have ended.
func (d *DB) VolunteerSnapshot(ctx context.Context, userID string) (db.VolunteerSnapshot, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var snapshot db.VolunteerSnapshot
	row := d.pool.QueryRow(ctx, `
		SELECT v.id, v.grade, v.location,
		       (SELECT COUNT(*) FROM signups s
		        JOIN shifts sh ON sh.id = s.shift_id
		        WHERE s.user_id = v.id AND s.status = 'CONFIRMED' AND sh.ends_at < NOW())
		FROM volunteers v
		WHERE v.id = $1
	`, userID)
	if err := row.Scan(&snapshot.UserID, &snapshot.Grade, &snapshot.Location, &snapshot.CompletedShifts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.VolunteerSnapshot{}, db.ErrNotFound
		}
		return db.VolunteerSnapshot{}, fmt.Errorf("failed to scan volunteer snapshot: %w", asStoreError(err))
	}
	return snapshot, nil
}

// IsAdmin reports whether the user holds the admin role
func (d *DB) IsAdmin(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var isAdmin bool
	row := d.pool.QueryRow(ctx, `SELECT is_admin FROM volunteers WHERE id = $1`, userID)
	if err := row.Scan(&isAdmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, db.ErrNotFound
		}
		return false, fmt.Errorf("failed to scan volunteer: %w", asStoreError(err))
	}
	return isAdmin, nil
}
