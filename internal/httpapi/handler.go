package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/core/booking"
	"github.com/jakechorley/shiftbook/pkg/core/broadcast"
	"github.com/jakechorley/shiftbook/pkg/core/group"
	"github.com/jakechorley/shiftbook/pkg/db"
)

// Handler exposes the booking engine over HTTP. Authentication is handled
// upstream; the authenticated user arrives in the X-User-ID header.
type Handler struct {
	bookings      *booking.Service
	groups        *group.Coordinator
	hub           *broadcast.Hub
	invitationTTL time.Duration
	logger        *zap.Logger
}

// NewHandler creates the HTTP handler over the engine services
func NewHandler(bookings *booking.Service, groups *group.Coordinator, hub *broadcast.Hub, invitationTTL time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		bookings:      bookings,
		groups:        groups,
		hub:           hub,
		invitationTTL: invitationTTL,
		logger:        logger,
	}
}

// Routes builds the chi router for the engine API
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signups", h.handleCreateSignup)
		r.Post("/signups/{signupID}/approve", h.handleApproveSignup)
		r.Post("/signups/{signupID}/decline", h.handleDeclineSignup)
		r.Post("/signups/{signupID}/cancel", h.handleCancelSignup)
		r.Post("/signups/{signupID}/confirm", h.handleConfirmRegular)
		r.Get("/eligibility", h.handleCheckEligibility)

		r.Post("/groups", h.handleStartGroup)
		r.Post("/groups/{groupID}/invitations", h.handleInvite)
		r.Post("/groups/{groupID}/leave", h.handleMemberLeave)
		r.Delete("/groups/{groupID}", h.handleCancelGroup)
		r.Post("/invitations/{token}/accept", h.handleAcceptInvite)
		r.Post("/invitations/{token}/decline", h.handleDeclineInvite)

		r.Get("/events", h.handleEvents)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type createSignupRequest struct {
	ShiftID string `json:"shift_id"`
}

type cancelSignupRequest struct {
	Reason string `json:"reason"`
}

type startGroupRequest struct {
	ShiftID string `json:"shift_id"`
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleCreateSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createSignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shift_id is required")
		return
	}

	signup, err := h.bookings.CreateSignup(r.Context(), userID, req.ShiftID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, signup)
}

func (h *Handler) handleApproveSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	signup, err := h.bookings.ApproveSignup(r.Context(), userID, chi.URLParam(r, "signupID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signup)
}

func (h *Handler) handleDeclineSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	signup, err := h.bookings.DeclineSignup(r.Context(), userID, chi.URLParam(r, "signupID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signup)
}

func (h *Handler) handleCancelSignup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req cancelSignupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.bookings.CancelSignup(r.Context(), userID, chi.URLParam(r, "signupID"), req.Reason); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConfirmRegular(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	signup, err := h.bookings.ConfirmRegular(r.Context(), userID, chi.URLParam(r, "signupID"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signup)
}

func (h *Handler) handleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	shiftID := r.URL.Query().Get("shift_id")
	if shiftID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shift_id is required")
		return
	}

	decision, err := h.bookings.CheckEligibility(r.Context(), userID, shiftID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"eligible": decision.Eligible,
		"reason":   decision.Reason,
	})
}

func (h *Handler) handleStartGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req startGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ShiftID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shift_id is required")
		return
	}

	groupBooking, err := h.groups.StartGroup(r.Context(), userID, req.ShiftID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupBooking)
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req inviteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	invitation, err := h.groups.Invite(r.Context(), chi.URLParam(r, "groupID"), req.Email, h.invitationTTL)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitation)
}

func (h *Handler) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	signup, err := h.groups.AcceptInvite(r.Context(), chi.URLParam(r, "token"), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signup)
}

func (h *Handler) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.DeclineInvite(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMemberLeave(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.groups.MemberLeave(r.Context(), chi.URLParam(r, "groupID"), userID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancelGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.groups.CancelGroup(r.Context(), userID, chi.URLParam(r, "groupID")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "X-User-ID header is required")
		return "", false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, db.ErrAlreadySignedUp):
		writeError(w, http.StatusConflict, "already_signed_up", "a signup for this shift already exists")
	case errors.Is(err, db.ErrShiftFull):
		writeError(w, http.StatusConflict, "shift_full", "the shift is at capacity")
	case errors.Is(err, db.ErrAlreadyCanceled):
		writeError(w, http.StatusConflict, "already_canceled", "the signup is already canceled")
	case errors.Is(err, db.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", "the invitation has already been resolved")
	case errors.Is(err, db.ErrAlreadyInvited):
		writeError(w, http.StatusConflict, "already_invited", "a pending invitation for this email already exists")
	case errors.Is(err, db.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", "the signup is not in a state that allows this operation")
	case errors.Is(err, db.ErrInvitationExpired):
		writeError(w, http.StatusGone, "expired", "the invitation has expired")
	case errors.Is(err, db.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "operation not permitted")
	case errors.Is(err, db.ErrLeaderCannotLeave):
		writeError(w, http.StatusForbidden, "leader_cannot_leave", "the group leader cannot leave; cancel the group instead")
	case errors.Is(err, db.ErrPastShift):
		writeError(w, http.StatusConflict, "past_shift", "the shift has already started")
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
