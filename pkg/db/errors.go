package db

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrAlreadySignedUp   = errors.New("already signed up for shift")
	ErrShiftFull         = errors.New("shift is at capacity")
	ErrAlreadyCanceled   = errors.New("signup already canceled")
	ErrInvalidState      = errors.New("invalid signup state for operation")
	ErrForbidden         = errors.New("operation not permitted")
	ErrLeaderCannotLeave = errors.New("group leader cannot leave own group")
	ErrPastShift         = errors.New("shift has already started")
	ErrInvitationExpired = errors.New("invitation has expired")
	ErrAlreadyResolved   = errors.New("invitation already resolved")
	ErrAlreadyInvited    = errors.New("email already has a pending invitation")
	ErrTransient         = errors.New("transient store failure")
)
