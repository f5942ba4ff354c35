package group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/db"
	"github.com/jakechorley/shiftbook/pkg/utils/retry"
)

// Store defines the database operations the group coordinator needs.
// Token uniqueness and the single pending-invitation-per-email constraint
// are enforced by the store, not by coordinator-level locking.
type Store interface {
	GetShift(ctx context.Context, shiftID string) (db.Shift, error)
	CreateGroupBooking(ctx context.Context, booking db.GroupBooking) error
	GetGroupBooking(ctx context.Context, groupBookingID string) (db.GroupBooking, error)

	// CreateInvitation inserts the invitation. Returns db.ErrAlreadyInvited
	// when a PENDING invitation for the same (group, email) pair exists.
	CreateInvitation(ctx context.Context, invitation db.GroupInvitation) error

	GetInvitationByToken(ctx context.Context, token string) (db.GroupInvitation, error)

	// ResolveInvitation transitions the invitation out of (or back into)
	// fromStatus conditionally. Returns db.ErrAlreadyResolved when the row
	// is not in fromStatus.
	ResolveInvitation(ctx context.Context, invitationID, fromStatus, toStatus string, resolvedAt time.Time) error

	ListGroupSignups(ctx context.Context, groupBookingID string) ([]db.Signup, error)
}

// SignupService is the slice of the signup state machine the coordinator uses
type SignupService interface {
	CreateGroupSignup(ctx context.Context, userID, shiftID, groupBookingID string) (db.Signup, error)
	CancelSignup(ctx context.Context, userID, signupID, reason string) error
}

// InviteSender delivers invitation emails. Calls are fire-and-forget:
// failures are logged, never surfaced to the inviting request.
type InviteSender interface {
	SendInvite(ctx context.Context, email, link string) error
}

// Coordinator orchestrates group bookings: a leader's signup plus invited
// member signups on the same shift.
type Coordinator struct {
	store   Store
	signups SignupService
	sender  InviteSender
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewCoordinator creates a group booking coordinator. baseURL is the public
// prefix invite links are built from.
func NewCoordinator(store Store, signups SignupService, sender InviteSender, baseURL string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		signups: signups,
		sender:  sender,
		baseURL: baseURL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartGroup books the leader onto the shift and opens a group booking
func (c *Coordinator) StartGroup(ctx context.Context, leaderID, shiftID string) (db.GroupBooking, error) {
	booking := db.GroupBooking{
		ID:        uuid.New().String(),
		ShiftID:   shiftID,
		LeaderID:  leaderID,
		CreatedAt: c.now(),
	}

	err := retry.Transient(ctx, c.logger, "create group booking", func() error {
		return c.store.CreateGroupBooking(ctx, booking)
	})
	if err != nil {
		return db.GroupBooking{}, fmt.Errorf("failed to create group booking: %w", err)
	}

	if _, err := c.signups.CreateGroupSignup(ctx, leaderID, shiftID, booking.ID); err != nil {
		return db.GroupBooking{}, err
	}

	c.logger.Info("group booking started",
		zap.String("group_booking_id", booking.ID),
		zap.String("leader_id", leaderID),
		zap.String("shift_id", shiftID))
	return booking, nil
}

// Invite issues a token-addressed offer to an email address and sends the
// invite mail in the background. Re-inviting an email whose earlier
// invitation was declined or expired is allowed; only a still-pending
// duplicate is rejected.
func (c *Coordinator) Invite(ctx context.Context, groupBookingID, email string, ttl time.Duration) (db.GroupInvitation, error) {
	if _, err := c.store.GetGroupBooking(ctx, groupBookingID); err != nil {
		return db.GroupInvitation{}, fmt.Errorf("failed to load group booking: %w", err)
	}

	token, err := NewToken()
	if err != nil {
		return db.GroupInvitation{}, err
	}

	invitation := db.GroupInvitation{
		ID:             uuid.New().String(),
		GroupBookingID: groupBookingID,
		Email:          email,
		Token:          token,
		Status:         db.InvitationPending,
		ExpiresAt:      c.now().Add(ttl),
		CreatedAt:      c.now(),
	}

	err = retry.Transient(ctx, c.logger, "create invitation", func() error {
		return c.store.CreateInvitation(ctx, invitation)
	})
	if err != nil {
		if errors.Is(err, db.ErrAlreadyInvited) {
			return db.GroupInvitation{}, err
		}
		return db.GroupInvitation{}, fmt.Errorf("failed to create invitation: %w", err)
	}

	link := c.baseURL + "/invitations/" + token
	go func() {
		if err := c.sender.SendInvite(context.Background(), email, link); err != nil {
			c.logger.Error("failed to send invite email",
				zap.String("invitation_id", invitation.ID),
				zap.String("email", email),
				zap.Error(err))
		}
	}()

	c.logger.Info("invitation created",
		zap.String("invitation_id", invitation.ID),
		zap.String("group_booking_id", groupBookingID))
	return invitation, nil
}

// AcceptInvite resolves the token and books the accepting volunteer onto the
// group's shift under the same capacity and eligibility rules as an
// individual booking.
func (c *Coordinator) AcceptInvite(ctx context.Context, token, userID string) (db.Signup, error) {
	invitation, err := c.loadPending(ctx, token)
	if err != nil {
		return db.Signup{}, err
	}

	booking, err := c.store.GetGroupBooking(ctx, invitation.GroupBookingID)
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to load group booking: %w", err)
	}

	// Claim the token first so two concurrent accepts cannot both book
	err = retry.Transient(ctx, c.logger, "accept invitation", func() error {
		return c.store.ResolveInvitation(ctx, invitation.ID, db.InvitationPending, db.InvitationAccepted, c.now())
	})
	if err != nil {
		if errors.Is(err, db.ErrAlreadyResolved) {
			return db.Signup{}, err
		}
		return db.Signup{}, fmt.Errorf("failed to resolve invitation: %w", err)
	}

	signup, err := c.signups.CreateGroupSignup(ctx, userID, booking.ShiftID, booking.ID)
	if err != nil {
		// The booking failed, so reopen the offer; the token was never used
		if revertErr := c.store.ResolveInvitation(ctx, invitation.ID, db.InvitationAccepted, db.InvitationPending, c.now()); revertErr != nil {
			c.logger.Error("failed to reopen invitation after signup failure",
				zap.String("invitation_id", invitation.ID),
				zap.Error(revertErr))
		}
		return db.Signup{}, err
	}

	c.logger.Info("invitation accepted",
		zap.String("invitation_id", invitation.ID),
		zap.String("user_id", userID),
		zap.String("group_booking_id", booking.ID))
	return signup, nil
}

// DeclineInvite resolves the token without booking
func (c *Coordinator) DeclineInvite(ctx context.Context, token string) error {
	invitation, err := c.loadPending(ctx, token)
	if err != nil {
		return err
	}

	err = retry.Transient(ctx, c.logger, "decline invitation", func() error {
		return c.store.ResolveInvitation(ctx, invitation.ID, db.InvitationPending, db.InvitationDeclined, c.now())
	})
	if err != nil {
		if errors.Is(err, db.ErrAlreadyResolved) {
			return err
		}
		return fmt.Errorf("failed to decline invitation: %w", err)
	}

	c.logger.Info("invitation declined", zap.String("invitation_id", invitation.ID))
	return nil
}

// MemberLeave cancels one member's signup. The leader can never leave their
// own group, and nobody leaves a shift that has already started.
func (c *Coordinator) MemberLeave(ctx context.Context, groupBookingID, userID string) error {
	booking, err := c.store.GetGroupBooking(ctx, groupBookingID)
	if err != nil {
		return fmt.Errorf("failed to load group booking: %w", err)
	}
	if booking.LeaderID == userID {
		return db.ErrLeaderCannotLeave
	}

	shift, err := c.store.GetShift(ctx, booking.ShiftID)
	if err != nil {
		return fmt.Errorf("failed to load shift: %w", err)
	}
	if !c.now().Before(shift.StartsAt) {
		return db.ErrPastShift
	}

	signups, err := c.store.ListGroupSignups(ctx, groupBookingID)
	if err != nil {
		return fmt.Errorf("failed to list group signups: %w", err)
	}
	for _, signup := range signups {
		if signup.UserID == userID && signup.Status != db.StatusCanceled {
			return c.signups.CancelSignup(ctx, userID, signup.ID, "left group")
		}
	}
	return db.ErrNotFound
}

// CancelGroup cancels every member signup and then the leader's own.
// Leader only.
func (c *Coordinator) CancelGroup(ctx context.Context, leaderID, groupBookingID string) error {
	booking, err := c.store.GetGroupBooking(ctx, groupBookingID)
	if err != nil {
		return fmt.Errorf("failed to load group booking: %w", err)
	}
	if booking.LeaderID != leaderID {
		return db.ErrForbidden
	}

	signups, err := c.store.ListGroupSignups(ctx, groupBookingID)
	if err != nil {
		return fmt.Errorf("failed to list group signups: %w", err)
	}

	// Members first, leader last: the leader's signup anchors the group
	var leaderSignup *db.Signup
	for i := range signups {
		signup := signups[i]
		if signup.Status == db.StatusCanceled {
			continue
		}
		if signup.UserID == leaderID {
			leaderSignup = &signups[i]
			continue
		}
		if err := c.signups.CancelSignup(ctx, signup.UserID, signup.ID, "group canceled by leader"); err != nil {
			return fmt.Errorf("failed to cancel member signup %s: %w", signup.ID, err)
		}
	}
	if leaderSignup != nil {
		if err := c.signups.CancelSignup(ctx, leaderID, leaderSignup.ID, "group canceled by leader"); err != nil {
			return fmt.Errorf("failed to cancel leader signup: %w", err)
		}
	}

	c.logger.Info("group booking canceled",
		zap.String("group_booking_id", groupBookingID),
		zap.String("leader_id", leaderID))
	return nil
}

// loadPending fetches the invitation behind a token. A pending invitation
// past its deadline is expired on this read before the error is returned, so
// expiry needs no background sweep.
func (c *Coordinator) loadPending(ctx context.Context, token string) (db.GroupInvitation, error) {
	invitation, err := c.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return db.GroupInvitation{}, fmt.Errorf("failed to load invitation: %w", err)
	}

	if invitation.Status == db.InvitationPending && c.now().After(invitation.ExpiresAt) {
		err := c.store.ResolveInvitation(ctx, invitation.ID, db.InvitationPending, db.InvitationExpired, c.now())
		if err != nil && !errors.Is(err, db.ErrAlreadyResolved) {
			return db.GroupInvitation{}, fmt.Errorf("failed to expire invitation: %w", err)
		}
		return db.GroupInvitation{}, db.ErrInvitationExpired
	}

	switch invitation.Status {
	case db.InvitationPending:
		return invitation, nil
	case db.InvitationExpired:
		return db.GroupInvitation{}, db.ErrInvitationExpired
	default:
		return db.GroupInvitation{}, db.ErrAlreadyResolved
	}
}
