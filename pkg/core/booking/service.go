package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/core/broadcast"
	"github.com/jakechorley/shiftbook/pkg/core/rules"
	"github.com/jakechorley/shiftbook/pkg/db"
	"github.com/jakechorley/shiftbook/pkg/utils/retry"
)

// Store defines the database operations the signup state machine needs.
// ReserveCreateSignup and ReserveSignup must apply the capacity check and
// the status write as one atomic unit keyed by shift id.
type Store interface {
	GetShift(ctx context.Context, shiftID string) (db.Shift, error)
	GetSignup(ctx context.Context, signupID string) (db.Signup, error)
	FindActiveSignup(ctx context.Context, userID, shiftID string) (db.Signup, bool, error)
	VolunteerSnapshot(ctx context.Context, userID string) (db.VolunteerSnapshot, error)
	ActiveRules(ctx context.Context, shiftType string) ([]db.AutoAcceptRule, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)

	// CreateSignup inserts the signup without touching capacity.
	// Returns db.ErrAlreadySignedUp when a non-canceled signup for the
	// (user, shift) pair already exists.
	CreateSignup(ctx context.Context, signup db.Signup) error

	// ReserveCreateSignup inserts the signup and reserves one capacity unit
	// atomically. Returns db.ErrShiftFull when no capacity remains and
	// db.ErrAlreadySignedUp on a duplicate pair.
	ReserveCreateSignup(ctx context.Context, signup db.Signup) error

	// ReserveSignup moves an existing signup to a capacity-holding status,
	// reserving one unit atomically. Returns db.ErrShiftFull or
	// db.ErrInvalidState when the signup is not in fromStatus.
	ReserveSignup(ctx context.Context, signupID, fromStatus, toStatus string) error

	// SetSignupStatus performs a plain status transition without capacity
	// movement. Returns db.ErrInvalidState when the signup is not in
	// fromStatus.
	SetSignupStatus(ctx context.Context, signupID, fromStatus, toStatus string) error

	// CancelSignup marks the signup canceled and frees its capacity unit in
	// the same atomic operation if the status it locks holds one. The
	// release decision belongs to the store: a caller-side status read can
	// be stale by the time the cancel lands. Returns whether capacity was
	// released.
	CancelSignup(ctx context.Context, signupID, reason string, canceledAt time.Time) (bool, error)
}

// EventPublisher is the live fan-out consumed by the state machine
type EventPublisher interface {
	Publish(userID string, event broadcast.Event)
}

// Service is the signup state machine
type Service struct {
	store     Store
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the signup state machine service
func NewService(store Store, publisher EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateSignup books a volunteer onto a shift. Auto-eligible volunteers are
// confirmed immediately, reserving capacity; everyone else (including
// eligible volunteers who lose the capacity race) ends up PENDING for review.
func (s *Service) CreateSignup(ctx context.Context, userID, shiftID string) (db.Signup, error) {
	return s.createSignup(ctx, userID, shiftID, "")
}

// CreateGroupSignup books a volunteer onto a shift as part of a group booking
func (s *Service) CreateGroupSignup(ctx context.Context, userID, shiftID, groupBookingID string) (db.Signup, error) {
	return s.createSignup(ctx, userID, shiftID, groupBookingID)
}

func (s *Service) createSignup(ctx context.Context, userID, shiftID, groupBookingID string) (db.Signup, error) {
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to load shift: %w", err)
	}

	if _, exists, err := s.store.FindActiveSignup(ctx, userID, shiftID); err != nil {
		return db.Signup{}, fmt.Errorf("failed to check existing signup: %w", err)
	} else if exists {
		return db.Signup{}, db.ErrAlreadySignedUp
	}

	decision, err := s.evaluate(ctx, userID, shift)
	if err != nil {
		return db.Signup{}, err
	}

	signup := db.Signup{
		ID:             uuid.New().String(),
		UserID:         userID,
		ShiftID:        shiftID,
		GroupBookingID: groupBookingID,
		CreatedAt:      s.now(),
	}

	if decision.Eligible {
		signup.Status = db.StatusConfirmed
		err = retry.Transient(ctx, s.logger, "reserve create signup", func() error {
			return s.store.ReserveCreateSignup(ctx, signup)
		})
		if errors.Is(err, db.ErrShiftFull) {
			// Auto-eligible but lost the capacity race: degrade to PENDING
			// rather than dropping the request
			s.logger.Info("capacity race lost, degrading to pending",
				zap.String("user_id", userID),
				zap.String("shift_id", shiftID))
			decision.Eligible = false
			decision.Reason = "capacity race lost"
			err = nil
		} else if err != nil {
			return db.Signup{}, fmt.Errorf("failed to create confirmed signup: %w", err)
		} else {
			s.publishTransition(signup, "", db.StatusConfirmed)
			s.logger.Info("signup auto-confirmed",
				zap.String("signup_id", signup.ID),
				zap.String("user_id", userID),
				zap.String("shift_id", shiftID),
				zap.String("reason", decision.Reason))
			return signup, nil
		}
	}

	signup.Status = db.StatusPending
	err = retry.Transient(ctx, s.logger, "create pending signup", func() error {
		return s.store.CreateSignup(ctx, signup)
	})
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to create pending signup: %w", err)
	}

	s.publishTransition(signup, "", db.StatusPending)
	s.logger.Info("signup held for review",
		zap.String("signup_id", signup.ID),
		zap.String("user_id", userID),
		zap.String("shift_id", shiftID),
		zap.String("reason", decision.Reason))
	return signup, nil
}

// ApproveSignup confirms a pending signup, reserving capacity.
// Admin only.
func (s *Service) ApproveSignup(ctx context.Context, adminID, signupID string) (db.Signup, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return db.Signup{}, err
	}

	signup, err := s.store.GetSignup(ctx, signupID)
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to load signup: %w", err)
	}
	if !db.ValidSignupTransition("approve", signup.Status) {
		return db.Signup{}, db.ErrInvalidState
	}

	err = retry.Transient(ctx, s.logger, "approve signup", func() error {
		return s.store.ReserveSignup(ctx, signupID, db.StatusPending, db.StatusConfirmed)
	})
	if err != nil {
		if errors.Is(err, db.ErrShiftFull) || errors.Is(err, db.ErrInvalidState) {
			return db.Signup{}, err
		}
		return db.Signup{}, fmt.Errorf("failed to approve signup: %w", err)
	}

	oldStatus := signup.Status
	signup.Status = db.StatusConfirmed
	s.publishTransition(signup, oldStatus, db.StatusConfirmed)
	s.logger.Info("signup approved",
		zap.String("signup_id", signupID),
		zap.String("admin_id", adminID))
	return signup, nil
}

// DeclineSignup rejects a pending signup. Declined signups never held
// capacity, so none is released. Admin only.
func (s *Service) DeclineSignup(ctx context.Context, adminID, signupID string) (db.Signup, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return db.Signup{}, err
	}

	signup, err := s.store.GetSignup(ctx, signupID)
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to load signup: %w", err)
	}
	if !db.ValidSignupTransition("decline", signup.Status) {
		return db.Signup{}, db.ErrInvalidState
	}

	err = retry.Transient(ctx, s.logger, "decline signup", func() error {
		return s.store.SetSignupStatus(ctx, signupID, db.StatusPending, db.StatusDeclined)
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidState) {
			return db.Signup{}, err
		}
		return db.Signup{}, fmt.Errorf("failed to decline signup: %w", err)
	}

	oldStatus := signup.Status
	signup.Status = db.StatusDeclined
	s.publishTransition(signup, oldStatus, db.StatusDeclined)
	s.logger.Info("signup declined",
		zap.String("signup_id", signupID),
		zap.String("admin_id", adminID))
	return signup, nil
}

// ConfirmRegular confirms a volunteer's own REGULAR_PENDING signup. The
// capacity unit was reserved when the signup was materialized, so the status
// write moves no capacity.
func (s *Service) ConfirmRegular(ctx context.Context, userID, signupID string) (db.Signup, error) {
	signup, err := s.store.GetSignup(ctx, signupID)
	if err != nil {
		return db.Signup{}, fmt.Errorf("failed to load signup: %w", err)
	}
	if signup.UserID != userID {
		return db.Signup{}, db.ErrForbidden
	}
	if !db.ValidSignupTransition("confirm_regular", signup.Status) {
		return db.Signup{}, db.ErrInvalidState
	}

	err = retry.Transient(ctx, s.logger, "confirm regular signup", func() error {
		return s.store.SetSignupStatus(ctx, signupID, db.StatusRegularPending, db.StatusConfirmed)
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidState) {
			return db.Signup{}, err
		}
		return db.Signup{}, fmt.Errorf("failed to confirm regular signup: %w", err)
	}

	oldStatus := signup.Status
	signup.Status = db.StatusConfirmed
	s.publishTransition(signup, oldStatus, db.StatusConfirmed)
	return signup, nil
}

// CancelSignup cancels a non-terminal signup, releasing its capacity unit if
// one was held. Canceling twice returns db.ErrAlreadyCanceled; capacity is
// released exactly once. The owner or an admin may cancel.
func (s *Service) CancelSignup(ctx context.Context, userID, signupID, reason string) error {
	signup, err := s.store.GetSignup(ctx, signupID)
	if err != nil {
		return fmt.Errorf("failed to load signup: %w", err)
	}

	if signup.UserID != userID {
		admin, err := s.store.IsAdmin(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to check admin role: %w", err)
		}
		if !admin {
			return db.ErrForbidden
		}
	}

	if signup.Status == db.StatusCanceled {
		return db.ErrAlreadyCanceled
	}
	if !db.ValidSignupTransition("cancel", signup.Status) {
		return db.ErrInvalidState
	}

	var released bool
	err = retry.Transient(ctx, s.logger, "cancel signup", func() error {
		var cancelErr error
		released, cancelErr = s.store.CancelSignup(ctx, signupID, reason, s.now())
		return cancelErr
	})
	if err != nil {
		if errors.Is(err, db.ErrAlreadyCanceled) || errors.Is(err, db.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("failed to cancel signup: %w", err)
	}

	oldStatus := signup.Status
	signup.Status = db.StatusCanceled
	s.publishTransition(signup, oldStatus, db.StatusCanceled)
	s.logger.Info("signup canceled",
		zap.String("signup_id", signupID),
		zap.String("by_user_id", userID),
		zap.String("reason", reason),
		zap.Bool("capacity_released", released))
	return nil
}

// CheckEligibility is the read-only pre-check callers use before committing
// to a booking. It mutates nothing and is deterministic for fixed inputs.
func (s *Service) CheckEligibility(ctx context.Context, userID, shiftID string) (rules.Decision, error) {
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return rules.Decision{}, fmt.Errorf("failed to load shift: %w", err)
	}
	return s.evaluate(ctx, userID, shift)
}

func (s *Service) evaluate(ctx context.Context, userID string, shift db.Shift) (rules.Decision, error) {
	snapshot, err := s.store.VolunteerSnapshot(ctx, userID)
	if err != nil {
		return rules.Decision{}, fmt.Errorf("failed to load volunteer snapshot: %w", err)
	}
	activeRules, err := s.store.ActiveRules(ctx, shift.ShiftType)
	if err != nil {
		return rules.Decision{}, fmt.Errorf("failed to load rules: %w", err)
	}
	return rules.Evaluate(snapshot, shift, activeRules), nil
}

func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	admin, err := s.store.IsAdmin(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check admin role: %w", err)
	}
	if !admin {
		return db.ErrForbidden
	}
	return nil
}

func (s *Service) publishTransition(signup db.Signup, oldStatus, newStatus string) {
	eventType := map[string]string{
		db.StatusPending:        broadcast.EventSignupPending,
		db.StatusRegularPending: broadcast.EventSignupPending,
		db.StatusConfirmed:      broadcast.EventSignupConfirmed,
		db.StatusDeclined:       broadcast.EventSignupDeclined,
		db.StatusCanceled:       broadcast.EventSignupCanceled,
	}[newStatus]

	s.publisher.Publish(signup.UserID, broadcast.Event{
		Type:           eventType,
		ShiftID:        signup.ShiftID,
		SignupID:       signup.ID,
		GroupBookingID: signup.GroupBookingID,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		OccurredAt:     s.now(),
	})
}
