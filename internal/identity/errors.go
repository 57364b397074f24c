package identity

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAccountBlocked     = errors.New("account is blocked")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrNotOperator        = errors.New("user cannot manage incidents")
)

// FailedLoginError reports a rejected password, carrying how many attempts
// remain before the account is blocked.
type FailedLoginError struct {
	AttemptsLeft int
	Blocked      bool
}

func (e *FailedLoginError) Error() string {
	if e.Blocked {
		return "invalid email or password; account is now blocked"
	}
	return fmt.Sprintf("invalid email or password; %d attempts left", e.AttemptsLeft)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidCredentials).
func (e *FailedLoginError) Unwrap() error {
	return ErrInvalidCredentials
}
