package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

const signupColumns = `id, user_id, shift_id, status, COALESCE(group_booking_id, ''), canceled_at, cancellation_reason, created_at`

func scanSignup(row pgx.Row) (db.Signup, error) {
	var signup db.Signup
	err := row.Scan(&signup.ID, &signup.UserID, &signup.ShiftID, &signup.Status,
		&signup.GroupBookingID, &signup.CanceledAt, &signup.CancellationReason, &signup.CreatedAt)
	return signup, err
}

// GetSignup retrieves one signup by id
func (d *DB) GetSignup(ctx context.Context, signupID string) (db.Signup, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	signup, err := scanSignup(d.pool.QueryRow(ctx,
		`SELECT `+signupColumns+` FROM signups WHERE id = $1`, signupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Signup{}, db.ErrNotFound
		}
		return db.Signup{}, fmt.Errorf("failed to scan signup: %w", asStoreError(err))
	}
	return signup, nil
}

// FindActiveSignup looks up the non-canceled signup for a (user, shift) pair
func (d *DB) FindActiveSignup(ctx context.Context, userID, shiftID string) (db.Signup, bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	signup, err := scanSignup(d.pool.QueryRow(ctx, `
		SELECT `+signupColumns+`
		FROM signups
		WHERE user_id = $1 AND shift_id = $2 AND status <> 'CANCELED'
	`, userID, shiftID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Signup{}, false, nil
		}
		return db.Signup{}, false, fmt.Errorf("failed to scan signup: %w", asStoreError(err))
	}
	return signup, true, nil
}

// CreateSignup inserts a signup without touching shift capacity
func (d *DB) CreateSignup(ctx context.Context, signup db.Signup) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO signups (id, user_id, shift_id, status, group_booking_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, signup.ID, signup.UserID, signup.ShiftID, signup.Status, signup.GroupBookingID, signup.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "signups_active_pair") {
			return db.ErrAlreadySignedUp
		}
		return fmt.Errorf("failed to insert signup: %w", asStoreError(err))
	}
	return nil
}

// ReserveCreateSignup inserts a capacity-holding signup and reserves one
// capacity unit as a single atomic unit. The conditional update on the shift
// row serializes concurrent reservations for the same shift; shifts do not
// serialize against each other.
func (d *DB) ReserveCreateSignup(ctx context.Context, signup db.Signup) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", asStoreError(err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE shifts SET confirmed_count = confirmed_count + 1
		WHERE id = $1 AND confirmed_count < capacity
	`, signup.ShiftID)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrShiftFull
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO signups (id, user_id, shift_id, status, group_booking_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, signup.ID, signup.UserID, signup.ShiftID, signup.Status, signup.GroupBookingID, signup.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "signups_active_pair") {
			return db.ErrAlreadySignedUp
		}
		return fmt.Errorf("failed to insert signup: %w", asStoreError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", asStoreError(err))
	}
	return nil
}

// ReserveSignup moves an existing signup into a capacity-holding status,
// reserving one unit atomically.
func (d *DB) ReserveSignup(ctx context.Context, signupID, fromStatus, toStatus string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", asStoreError(err))
	}
	defer tx.Rollback(ctx)

	var shiftID string
	row := tx.QueryRow(ctx, `
		SELECT shift_id FROM signups WHERE id = $1 AND status = $2 FOR UPDATE
	`, signupID, fromStatus)
	if err := row.Scan(&shiftID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.ErrInvalidState
		}
		return fmt.Errorf("failed to lock signup: %w", asStoreError(err))
	}

	tag, err := tx.Exec(ctx, `
		UPDATE shifts SET confirmed_count = confirmed_count + 1
		WHERE id = $1 AND confirmed_count < capacity
	`, shiftID)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrShiftFull
	}

	if _, err := tx.Exec(ctx, `UPDATE signups SET status = $2 WHERE id = $1`, signupID, toStatus); err != nil {
		return fmt.Errorf("failed to update signup status: %w", asStoreError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", asStoreError(err))
	}
	return nil
}

// SetSignupStatus performs a conditional status transition with no capacity
// movement.
func (d *DB) SetSignupStatus(ctx context.Context, signupID, fromStatus, toStatus string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `
		UPDATE signups SET status = $3 WHERE id = $1 AND status = $2
	`, signupID, fromStatus, toStatus)
	if err != nil {
		return fmt.Errorf("failed to update signup status: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrInvalidState
	}
	return nil
}

// CancelSignup marks the signup canceled and releases its capacity unit in
// the same transaction when one was held. Whether a unit is held is decided
// from the status read under the row lock, not the caller's earlier view, so
// an approval committing just before the cancel still gets its unit back.
// Returns whether capacity was released.
func (d *DB) CancelSignup(ctx context.Context, signupID, reason string, canceledAt time.Time) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", asStoreError(err))
	}
	defer tx.Rollback(ctx)

	locked := db.Signup{ID: signupID}
	row := tx.QueryRow(ctx, `SELECT shift_id, status FROM signups WHERE id = $1 FOR UPDATE`, signupID)
	if err := row.Scan(&locked.ShiftID, &locked.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, db.ErrNotFound
		}
		return false, fmt.Errorf("failed to lock signup: %w", asStoreError(err))
	}
	if locked.Status == db.StatusCanceled {
		return false, db.ErrAlreadyCanceled
	}

	_, err = tx.Exec(ctx, `
		UPDATE signups SET status = 'CANCELED', cancellation_reason = $2, canceled_at = $3
		WHERE id = $1
	`, signupID, reason, canceledAt)
	if err != nil {
		return false, fmt.Errorf("failed to cancel signup: %w", asStoreError(err))
	}

	released := locked.HoldsCapacity()
	if released {
		_, err = tx.Exec(ctx, `
			UPDATE shifts SET confirmed_count = confirmed_count - 1 WHERE id = $1
		`, locked.ShiftID)
		if err != nil {
			return false, fmt.Errorf("failed to release capacity: %w", asStoreError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit cancellation: %w", asStoreError(err))
	}
	return released, nil
}

// ListGroupSignups retrieves every signup belonging to a group booking
func (d *DB) ListGroupSignups(ctx context.Context, groupBookingID string) ([]db.Signup, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT `+signupColumns+` FROM signups WHERE group_booking_id = $1
	`, groupBookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group signups: %w", asStoreError(err))
	}
	defer rows.Close()

	var signups []db.Signup
	for rows.Next() {
		signup, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signup: %w", asStoreError(err))
		}
		signups = append(signups, signup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group signups: %w", asStoreError(err))
	}
	return signups, nil
}

// ListRegularPendingSignups retrieves a user's REGULAR_PENDING signups on
// future shifts of the given type.
func (d *DB) ListRegularPendingSignups(ctx context.Context, userID, shiftType string) ([]db.Signup, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT s.id, s.user_id, s.shift_id, s.status, COALESCE(s.group_booking_id, ''),
		       s.canceled_at, s.cancellation_reason, s.created_at
		FROM signups s
		JOIN shifts sh ON sh.id = s.shift_id
		WHERE s.user_id = $1 AND s.status = 'REGULAR_PENDING'
		  AND sh.shift_type = $2 AND sh.starts_at > NOW()
	`, userID, shiftType)
	if err != nil {
		return nil, fmt.Errorf("failed to query regular pending signups: %w", asStoreError(err))
	}
	defer rows.Close()

	var signups []db.Signup
	for rows.Next() {
		signup, err := scanSignup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signup: %w", asStoreError(err))
		}
		signups = append(signups, signup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read regular pending signups: %w", asStoreError(err))
	}
	return signups, nil
}
