package db

import "time"

// Signup statuses. CONFIRMED and REGULAR_PENDING hold capacity; the rest never do.
const (
	StatusPending        = "PENDING"
	StatusRegularPending = "REGULAR_PENDING"
	StatusConfirmed      = "CONFIRMED"
	StatusCanceled       = "CANCELED"
	StatusDeclined       = "DECLINED"
)

// GroupInvitation statuses. Anything other than PENDING is terminal.
const (
	InvitationPending  = "PENDING"
	InvitationAccepted = "ACCEPTED"
	InvitationDeclined = "DECLINED"
	InvitationExpired  = "EXPIRED"
)

// Shift represents a bookable time slot at a location
type Shift struct {
	ID        string
	Location  string
	ShiftType string
	StartsAt  time.Time
	EndsAt    time.Time
	Capacity  int
}

// Signup represents one volunteer's claim on one shift.
// At most one non-canceled signup exists per (UserID, ShiftID) pair.
type Signup struct {
	ID                 string
	UserID             string
	ShiftID            string
	Status             string
	GroupBookingID     string
	CanceledAt         *time.Time
	CancellationReason string
	CreatedAt          time.Time
}

// HoldsCapacity reports whether this signup occupies a capacity unit
func (s *Signup) HoldsCapacity() bool {
	return s.Status == StatusConfirmed || s.Status == StatusRegularPending
}

// GroupBooking links a leader's signup with member signups on the same shift
type GroupBooking struct {
	ID        string
	ShiftID   string
	LeaderID  string
	CreatedAt time.Time
}

// GroupInvitation is a token-addressed, time-bounded offer to join a group booking
type GroupInvitation struct {
	ID             string
	GroupBookingID string
	Email          string
	Token          string
	Status         string
	ExpiresAt      time.Time
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// AutoAcceptRule confirms matching signups without human review.
// Predicate kinds are dispatched in pkg/core/rules.
const (
	PredicateGradeAtLeast           = "GRADE_AT_LEAST"
	PredicateCompletedShiftsAtLeast = "COMPLETED_SHIFTS_AT_LEAST"
	PredicateLocationIs             = "LOCATION_IS"
)

// AutoAcceptRule represents an admission-control policy record
type AutoAcceptRule struct {
	ID            string
	ShiftType     string
	Enabled       bool
	PredicateKind string
	IntValue      int
	StringValue   string
}

// RegularVolunteer is a recurring commitment to a shift type
type RegularVolunteer struct {
	ID        string
	UserID    string
	ShiftType string
	Active    bool
	CreatedAt time.Time
}

// VolunteerSnapshot is the point-in-time view of a volunteer that rules are
// evaluated against. It is assembled by the store and never written back.
type VolunteerSnapshot struct {
	UserID          string
	Grade           int
	CompletedShifts int
	Location        string
}
