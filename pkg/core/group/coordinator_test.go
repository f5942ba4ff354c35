package group

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/db"
)

type mockStore struct {
	mu          sync.Mutex
	shifts      map[string]db.Shift
	bookings    map[string]db.GroupBooking
	invitations map[string]db.GroupInvitation // by ID
	signups     map[string]db.Signup
}

func newMockStore() *mockStore {
	return &mockStore{
		shifts:      make(map[string]db.Shift),
		bookings:    make(map[string]db.GroupBooking),
		invitations: make(map[string]db.GroupInvitation),
		signups:     make(map[string]db.Signup),
	}
}

func (m *mockStore) GetShift(_ context.Context, shiftID string) (db.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shift, ok := m.shifts[shiftID]
	if !ok {
		return db.Shift{}, db.ErrNotFound
	}
	return shift, nil
}

func (m *mockStore) CreateGroupBooking(_ context.Context, booking db.GroupBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[booking.ID] = booking
	return nil
}

func (m *mockStore) GetGroupBooking(_ context.Context, groupBookingID string) (db.GroupBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[groupBookingID]
	if !ok {
		return db.GroupBooking{}, db.ErrNotFound
	}
	return booking, nil
}

func (m *mockStore) CreateInvitation(_ context.Context, invitation db.GroupInvitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invitations {
		if existing.GroupBookingID == invitation.GroupBookingID &&
			existing.Email == invitation.Email &&
			existing.Status == db.InvitationPending {
			return db.ErrAlreadyInvited
		}
	}
	m.invitations[invitation.ID] = invitation
	return nil
}

func (m *mockStore) GetInvitationByToken(_ context.Context, token string) (db.GroupInvitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, invitation := range m.invitations {
		if invitation.Token == token {
			return invitation, nil
		}
	}
	return db.GroupInvitation{}, db.ErrNotFound
}

func (m *mockStore) ResolveInvitation(_ context.Context, invitationID, fromStatus, toStatus string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	invitation, ok := m.invitations[invitationID]
	if !ok {
		return db.ErrNotFound
	}
	if invitation.Status != fromStatus {
		return db.ErrAlreadyResolved
	}
	invitation.Status = toStatus
	invitation.ResolvedAt = &resolvedAt
	m.invitations[invitationID] = invitation
	return nil
}

func (m *mockStore) ListGroupSignups(_ context.Context, groupBookingID string) ([]db.Signup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var signups []db.Signup
	for _, signup := range m.signups {
		if signup.GroupBookingID == groupBookingID {
			signups = append(signups, signup)
		}
	}
	return signups, nil
}

// mockSignupService implements SignupService backed by the mock store's
// signup map
type mockSignupService struct {
	store     *mockStore
	createErr error
	canceled  []string
}

func (m *mockSignupService) CreateGroupSignup(_ context.Context, userID, shiftID, groupBookingID string) (db.Signup, error) {
	if m.createErr != nil {
		return db.Signup{}, m.createErr
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	signup := db.Signup{
		ID:             uuid.New().String(),
		UserID:         userID,
		ShiftID:        shiftID,
		GroupBookingID: groupBookingID,
		Status:         db.StatusConfirmed,
	}
	m.store.signups[signup.ID] = signup
	return signup, nil
}

func (m *mockSignupService) CancelSignup(_ context.Context, userID, signupID, reason string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	signup, ok := m.store.signups[signupID]
	if !ok {
		return db.ErrNotFound
	}
	if signup.UserID != userID {
		return db.ErrForbidden
	}
	if signup.Status == db.StatusCanceled {
		return db.ErrAlreadyCanceled
	}
	signup.Status = db.StatusCanceled
	signup.CancellationReason = reason
	m.store.signups[signupID] = signup
	m.canceled = append(m.canceled, signupID)
	return nil
}

type mockSender struct {
	mu    sync.Mutex
	sent  []string
	links []string
	err   error
}

func (m *mockSender) SendInvite(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	m.links = append(m.links, link)
	return m.err
}

func (m *mockSender) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type fixture struct {
	store       *mockStore
	signups     *mockSignupService
	sender      *mockSender
	coordinator *Coordinator
}

func newFixture() *fixture {
	store := newMockStore()
	store.shifts["shift-1"] = db.Shift{
		ID:        "shift-1",
		ShiftType: "kitchen",
		StartsAt:  time.Now().UTC().Add(24 * time.Hour),
		EndsAt:    time.Now().UTC().Add(28 * time.Hour),
		Capacity:  5,
	}
	signups := &mockSignupService{store: store}
	sender := &mockSender{}
	coordinator := NewCoordinator(store, signups, sender, "https://shiftbook.example.org", zap.NewNop())
	return &fixture{store: store, signups: signups, sender: sender, coordinator: coordinator}
}

func (f *fixture) startGroup(t *testing.T) db.GroupBooking {
	t.Helper()
	booking, err := f.coordinator.StartGroup(context.Background(), "leader-1", "shift-1")
	require.NoError(t, err)
	return booking
}

func (f *fixture) invite(t *testing.T, groupBookingID, email string) db.GroupInvitation {
	t.Helper()
	invitation, err := f.coordinator.Invite(context.Background(), groupBookingID, email, time.Hour)
	require.NoError(t, err)
	return invitation
}

func TestStartGroup(t *testing.T) {
	f := newFixture()

	booking := f.startGroup(t)

	assert.Equal(t, "leader-1", booking.LeaderID)
	assert.Equal(t, "shift-1", booking.ShiftID)

	signups, err := f.store.ListGroupSignups(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, signups, 1)
	assert.Equal(t, "leader-1", signups[0].UserID)
}

func TestInvite_SendsEmailWithTokenLink(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)

	invitation := f.invite(t, booking.ID, "friend@example.org")

	assert.Equal(t, db.InvitationPending, invitation.Status)
	assert.NotEmpty(t, invitation.Token)
	assert.True(t, invitation.ExpiresAt.After(time.Now()))

	require.Eventually(t, func() bool {
		return len(f.sender.sentTo()) == 1
	}, time.Second, 5*time.Millisecond)
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, "friend@example.org", f.sender.sent[0])
	assert.Equal(t, "https://shiftbook.example.org/invitations/"+invitation.Token, f.sender.links[0])
}

func TestInvite_EmailFailureDoesNotFailInvite(t *testing.T) {
	f := newFixture()
	f.sender.err = errors.New("smtp down")
	booking := f.startGroup(t)

	_, err := f.coordinator.Invite(context.Background(), booking.ID, "friend@example.org", time.Hour)
	require.NoError(t, err)
}

func TestInvite_PendingDuplicateRejected(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	f.invite(t, booking.ID, "friend@example.org")

	_, err := f.coordinator.Invite(context.Background(), booking.ID, "friend@example.org", time.Hour)
	assert.ErrorIs(t, err, db.ErrAlreadyInvited)
}

func TestInvite_ReinviteAfterDeclineAllowed(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	first := f.invite(t, booking.ID, "friend@example.org")

	require.NoError(t, f.coordinator.DeclineInvite(context.Background(), first.Token))

	second, err := f.coordinator.Invite(context.Background(), booking.ID, "friend@example.org", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestInvite_UnknownGroup(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator.Invite(context.Background(), "missing", "friend@example.org", time.Hour)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAcceptInvite(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")

	signup, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")

	require.NoError(t, err)
	assert.Equal(t, "vol-2", signup.UserID)
	assert.Equal(t, booking.ID, signup.GroupBookingID)

	stored := f.store.invitations[invitation.ID]
	assert.Equal(t, db.InvitationAccepted, stored.Status)
	require.NotNil(t, stored.ResolvedAt)
}

func TestAcceptInvite_SingleUse(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")

	_, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	require.NoError(t, err)

	_, err = f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-3")
	assert.ErrorIs(t, err, db.ErrAlreadyResolved)
}

func TestAcceptInvite_UnknownToken(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator.AcceptInvite(context.Background(), "no-such-token", "vol-2")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAcceptInvite_ExpiredLazily(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")

	// Jump the coordinator clock past the deadline
	f.coordinator.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	_, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	assert.ErrorIs(t, err, db.ErrInvitationExpired)
	assert.Equal(t, db.InvitationExpired, f.store.invitations[invitation.ID].Status)

	// Terminal: the second access never accepts either
	_, err = f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	assert.ErrorIs(t, err, db.ErrInvitationExpired)
}

func TestAcceptInvite_SignupFailureReopensInvitation(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")
	f.signups.createErr = db.ErrShiftFull

	_, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	assert.ErrorIs(t, err, db.ErrShiftFull)
	assert.Equal(t, db.InvitationPending, f.store.invitations[invitation.ID].Status)
}

func TestDeclineInvite(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")

	require.NoError(t, f.coordinator.DeclineInvite(context.Background(), invitation.Token))
	assert.Equal(t, db.InvitationDeclined, f.store.invitations[invitation.ID].Status)

	err := f.coordinator.DeclineInvite(context.Background(), invitation.Token)
	assert.ErrorIs(t, err, db.ErrAlreadyResolved)
}

func TestMemberLeave(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")
	memberSignup, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.MemberLeave(context.Background(), booking.ID, "vol-2"))
	assert.Equal(t, db.StatusCanceled, f.store.signups[memberSignup.ID].Status)
}

func TestMemberLeave_LeaderCannotLeave(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)

	err := f.coordinator.MemberLeave(context.Background(), booking.ID, "leader-1")
	assert.ErrorIs(t, err, db.ErrLeaderCannotLeave)

	// Leader protection beats shift timing
	f.coordinator.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	err = f.coordinator.MemberLeave(context.Background(), booking.ID, "leader-1")
	assert.ErrorIs(t, err, db.ErrLeaderCannotLeave)
}

func TestMemberLeave_PastShift(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	invitation := f.invite(t, booking.ID, "friend@example.org")
	_, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-2")
	require.NoError(t, err)

	f.coordinator.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	err = f.coordinator.MemberLeave(context.Background(), booking.ID, "vol-2")
	assert.ErrorIs(t, err, db.ErrPastShift)
}

func TestMemberLeave_NotAMember(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)

	err := f.coordinator.MemberLeave(context.Background(), booking.ID, "vol-9")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCancelGroup(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)
	for _, email := range []string{"a@example.org", "b@example.org"} {
		invitation := f.invite(t, booking.ID, email)
		_, err := f.coordinator.AcceptInvite(context.Background(), invitation.Token, "vol-"+email)
		require.NoError(t, err)
	}

	require.NoError(t, f.coordinator.CancelGroup(context.Background(), "leader-1", booking.ID))

	signups, err := f.store.ListGroupSignups(context.Background(), booking.ID)
	require.NoError(t, err)
	require.Len(t, signups, 3)
	for _, signup := range signups {
		assert.Equal(t, db.StatusCanceled, signup.Status)
	}

	// Leader's signup goes last
	last := f.signups.canceled[len(f.signups.canceled)-1]
	assert.Equal(t, "leader-1", f.store.signups[last].UserID)
}

func TestCancelGroup_LeaderOnly(t *testing.T) {
	f := newFixture()
	booking := f.startGroup(t)

	err := f.coordinator.CancelGroup(context.Background(), "vol-2", booking.ID)
	assert.ErrorIs(t, err, db.ErrForbidden)
}

func TestNewTokenUniqueAndLong(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(token), 22, "at least 128 bits encoded")
		assert.False(t, seen[token])
		seen[token] = true
	}
}
