// Package domain contains the entities shared across feature packages.
package domain

import "time"

// Role represents a user's role. Every user has exactly one role.
type Role string

// Roles.
const (
	RoleReporter Role = "reporter"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	return r == RoleReporter || r == RoleOperator || r == RoleAdmin
}

// Label returns the display name of the role.
func (r Role) Label() string {
	switch r {
	case RoleReporter:
		return "Reporter"
	case RoleOperator:
		return "Operator"
	case RoleAdmin:
		return "Administrator"
	}
	return string(r)
}

// CanManageIncidents reports whether the role may edit incidents and see
// internal notes.
func (r Role) CanManageIncidents() bool {
	return r == RoleOperator || r == RoleAdmin
}

// User represents an account in the system.
type User struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Password      string     `json:"-"`
	Role          Role       `json:"role"`
	Phone         *string    `json:"phone"`
	Avatar        *string    `json:"avatar"`
	IsActive      bool       `json:"is_active"`
	IsFirstLogin  bool       `json:"is_first_login"`
	LoginAttempts int        `json:"-"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsBlocked reports whether the account is deactivated.
func (u *User) IsBlocked() bool {
	return !u.IsActive
}

// Actor is the authenticated identity performing an operation. The HTTP
// boundary resolves a request into an Actor; services trust the actor they
// are given.
type Actor struct {
	ID   int64
	Role Role
}

// ActorFor returns the actor identity for a loaded user.
func ActorFor(u *User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}
