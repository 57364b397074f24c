package identity

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// UserFilters holds filter options for user listings.
type UserFilters struct {
	Role     *domain.Role
	IsActive *bool
	Search   string
	Limit    int
	Offset   int
}

// Repository defines data access for users.
type Repository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ListUsers(ctx context.Context, filters UserFilters) ([]*domain.User, int, error)
	ListOperators(ctx context.Context) ([]*domain.User, error)

	// RegisterFailedLogin increments the failed attempt counter in a single
	// atomic statement and deactivates the account when maxAttempts is
	// reached. It returns the new counter value and whether the account is
	// now blocked.
	RegisterFailedLogin(ctx context.Context, userID int64, maxAttempts int) (attempts int, blocked bool, err error)

	// ResetLoginAttempts zeroes the counter and records the login time.
	ResetLoginAttempts(ctx context.Context, userID int64, loginAt time.Time) error
}
