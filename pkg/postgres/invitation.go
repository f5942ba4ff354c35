package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// CreateInvitation inserts a new invitation. The partial unique index on
// (group_booking_id, email) rejects a second live offer for the same pair;
// resolved offers may be re-issued.
func (d *DB) CreateInvitation(ctx context.Context, invitation db.GroupInvitation) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO group_invitations (id, group_booking_id, email, token, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, invitation.ID, invitation.GroupBookingID, invitation.Email, invitation.Token,
		invitation.Status, invitation.ExpiresAt, invitation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "group_invitations_pending_pair") {
			return db.ErrAlreadyInvited
		}
		return fmt.Errorf("failed to insert invitation: %w", asStoreError(err))
	}
	return nil
}

// GetInvitationByToken retrieves an invitation by its token. Tokens are the
// only lookup key; there is no enumeration path.
func (d *DB) GetInvitationByToken(ctx context.Context, token string) (db.GroupInvitation, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var invitation db.GroupInvitation
	row := d.pool.QueryRow(ctx, `
		SELECT id, group_booking_id, email, token, status, expires_at, resolved_at, created_at
		FROM group_invitations
		WHERE token = $1
	`, token)
	err := row.Scan(&invitation.ID, &invitation.GroupBookingID, &invitation.Email, &invitation.Token,
		&invitation.Status, &invitation.ExpiresAt, &invitation.ResolvedAt, &invitation.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.GroupInvitation{}, db.ErrNotFound
		}
		return db.GroupInvitation{}, fmt.Errorf("failed to scan invitation: %w", asStoreError(err))
	}
	return invitation, nil
}

// ResolveInvitation conditionally transitions an invitation between statuses.
// The WHERE clause makes the transition atomic: a row no longer in fromStatus
// yields db.ErrAlreadyResolved, which keeps tokens single-use under
// concurrent resolution.
func (d *DB) ResolveInvitation(ctx context.Context, invitationID, fromStatus, toStatus string, resolvedAt time.Time) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `
		UPDATE group_invitations SET status = $3, resolved_at = $4
		WHERE id = $1 AND status = $2
	`, invitationID, fromStatus, toStatus, resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve invitation: %w", asStoreError(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrAlreadyResolved
	}
	return nil
}

// SweepExpiredInvitations expires every pending invitation past its deadline.
// Expiry is lazily applied on read, so this is periodic hygiene, not a
// correctness requirement.
func (d *DB) SweepExpiredInvitations(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	tag, err := d.pool.Exec(ctx, `
		UPDATE group_invitations SET status = 'EXPIRED', resolved_at = $1
		WHERE status = 'PENDING' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired invitations: %w", asStoreError(err))
	}
	return int(tag.RowsAffected()), nil
}
