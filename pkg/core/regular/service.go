package regular

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/db"
	"github.com/jakechorley/shiftbook/pkg/utils/retry"
)

// Store defines the database operations regular-volunteer scheduling needs
type Store interface {
	ListActiveRegulars(ctx context.Context) ([]db.RegularVolunteer, error)
	GetRegular(ctx context.Context, regularID string) (db.RegularVolunteer, error)
	DeactivateRegular(ctx context.Context, regularID string) error
	ListShiftsByTypeBetween(ctx context.Context, shiftType string, from, to time.Time) ([]db.Shift, error)
	FindActiveSignup(ctx context.Context, userID, shiftID string) (db.Signup, bool, error)

	// ReserveCreateSignup inserts the signup and reserves one capacity unit
	// atomically, same contract as the booking store.
	ReserveCreateSignup(ctx context.Context, signup db.Signup) error

	// ListRegularPendingSignups returns the user's REGULAR_PENDING signups
	// on future shifts of the given type.
	ListRegularPendingSignups(ctx context.Context, userID, shiftType string) ([]db.Signup, error)
}

// SignupCanceler is the slice of the signup state machine this service uses
type SignupCanceler interface {
	CancelSignup(ctx context.Context, userID, signupID, reason string) error
}

// Service materializes recurring commitments into REGULAR_PENDING signups
type Service struct {
	store     Store
	signups   SignupCanceler
	schedules map[string]*rrule.RRule // shiftType -> recurrence
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the regular-volunteer scheduler. schedules maps a shift
// type to the rrule its regulars book on; rules are parsed eagerly so a bad
// schedule fails at startup, not mid-run.
func NewService(store Store, signups SignupCanceler, schedules map[string]string, logger *zap.Logger) (*Service, error) {
	parsed := make(map[string]*rrule.RRule, len(schedules))
	for shiftType, raw := range schedules {
		rule, err := rrule.StrToRRule(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rrule for shift type %q: %w", shiftType, err)
		}
		parsed[shiftType] = rule
	}
	return &Service{
		store:     store,
		signups:   signups,
		schedules: parsed,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Materialize creates REGULAR_PENDING signups for every active regular
// volunteer on shifts of their type falling on a scheduled occurrence within
// the horizon. Each signup reserves capacity; full shifts are skipped and
// logged, never treated as failures. Returns the number created.
func (s *Service) Materialize(ctx context.Context, horizon time.Duration) (int, error) {
	regulars, err := s.store.ListActiveRegulars(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list regular volunteers: %w", err)
	}
	s.logger.Debug("materializing regular signups", zap.Int("regulars", len(regulars)))

	from := s.now()
	to := from.Add(horizon)
	created := 0

	for _, regular := range regulars {
		rule, ok := s.schedules[regular.ShiftType]
		if !ok {
			s.logger.Warn("no schedule configured for shift type",
				zap.String("shift_type", regular.ShiftType),
				zap.String("regular_id", regular.ID))
			continue
		}

		occurrences := make(map[string]bool)
		for _, occurrence := range rule.Between(from, to, true) {
			occurrences[occurrence.Format("2006-01-02")] = true
		}
		if len(occurrences) == 0 {
			continue
		}

		shifts, err := s.store.ListShiftsByTypeBetween(ctx, regular.ShiftType, from, to)
		if err != nil {
			return created, fmt.Errorf("failed to list shifts for %q: %w", regular.ShiftType, err)
		}

		for _, shift := range shifts {
			if !occurrences[shift.StartsAt.Format("2006-01-02")] {
				continue
			}
			if _, exists, err := s.store.FindActiveSignup(ctx, regular.UserID, shift.ID); err != nil {
				return created, fmt.Errorf("failed to check existing signup: %w", err)
			} else if exists {
				continue
			}

			signup := db.Signup{
				ID:        uuid.New().String(),
				UserID:    regular.UserID,
				ShiftID:   shift.ID,
				Status:    db.StatusRegularPending,
				CreatedAt: s.now(),
			}
			err = retry.Transient(ctx, s.logger, "materialize regular signup", func() error {
				return s.store.ReserveCreateSignup(ctx, signup)
			})
			if errors.Is(err, db.ErrShiftFull) {
				s.logger.Info("shift full, skipping regular signup",
					zap.String("shift_id", shift.ID),
					zap.String("user_id", regular.UserID))
				continue
			}
			if errors.Is(err, db.ErrAlreadySignedUp) {
				continue
			}
			if err != nil {
				return created, fmt.Errorf("failed to create regular signup: %w", err)
			}
			created++
		}
	}

	s.logger.Info("regular signups materialized", zap.Int("created", created))
	return created, nil
}

// Deactivate ends a recurring commitment and cancels its still-pending
// signups. Already-confirmed signups are left alone.
func (s *Service) Deactivate(ctx context.Context, regularID string) error {
	regular, err := s.store.GetRegular(ctx, regularID)
	if err != nil {
		return fmt.Errorf("failed to load regular volunteer: %w", err)
	}

	err = retry.Transient(ctx, s.logger, "deactivate regular", func() error {
		return s.store.DeactivateRegular(ctx, regularID)
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate regular volunteer: %w", err)
	}

	pending, err := s.store.ListRegularPendingSignups(ctx, regular.UserID, regular.ShiftType)
	if err != nil {
		return fmt.Errorf("failed to list pending regular signups: %w", err)
	}
	for _, signup := range pending {
		if err := s.signups.CancelSignup(ctx, regular.UserID, signup.ID, "regular commitment deactivated"); err != nil {
			if errors.Is(err, db.ErrAlreadyCanceled) {
				continue
			}
			return fmt.Errorf("failed to cancel regular signup %s: %w", signup.ID, err)
		}
	}

	s.logger.Info("regular volunteer deactivated",
		zap.String("regular_id", regularID),
		zap.Int("pending_canceled", len(pending)))
	return nil
}
