package db

// signupTransitions maps each operation to the statuses it may start from
var signupTransitions = map[string][]string{
	"approve":         {StatusPending},
	"decline":         {StatusPending},
	"confirm_regular": {StatusRegularPending},
	"cancel":          {StatusPending, StatusRegularPending, StatusConfirmed},
}

// ValidSignupTransition reports whether the operation is legal from the given status
func ValidSignupTransition(operation, fromStatus string) bool {
	allowed, ok := signupTransitions[operation]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TerminalSignupStatus reports whether a signup can never change status again
func TerminalSignupStatus(status string) bool {
	return status == StatusCanceled || status == StatusDeclined
}
