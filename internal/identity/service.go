// Package identity implements authentication, user accounts and role
// management.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/pkg/metrics"
)

// maxLoginAttempts failed passwords in a row block the account until an
// administrator reactivates it.
const maxLoginAttempts = 3

const tempPasswordLength = 12

// Authenticator issues and validates access tokens.
type Authenticator interface {
	GenerateToken(ctx context.Context, user *domain.User) (string, error)
	ValidateToken(ctx context.Context, token string) (userID int64, role domain.Role, err error)
}

// UserCreatedHandler receives credential events for new or reset accounts.
// The temporary password is passed to the handler only; it is never stored
// in clear text.
type UserCreatedHandler interface {
	OnUserCreated(ctx context.Context, user *domain.User, tempPassword string) error
	OnPasswordReset(ctx context.Context, user *domain.User, tempPassword string) error
}

// Service implements identity business logic.
type Service struct {
	repo        Repository
	auth        Authenticator
	userCreated UserCreatedHandler
	now         func() time.Time
}

// NewService creates a new identity service. The handler may be nil.
func NewService(repo Repository, auth Authenticator, userCreated UserCreatedHandler) *Service {
	return &Service{
		repo:        repo,
		auth:        auth,
		userCreated: userCreated,
		now:         time.Now,
	}
}

// LoginInput contains login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User  *domain.User
	Token string
	// RequiresPasswordChange is set while the account still uses the
	// temporary password it was provisioned with.
	RequiresPasswordChange bool
}

// Login authenticates a user. Deactivated and blocked accounts are rejected
// before the password is checked. Each wrong password counts toward the
// block threshold; the counter update and the block decision happen in one
// atomic statement so concurrent attempts cannot slip past the limit.
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.AuthLoginsTotal.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if !user.IsActive {
		metrics.AuthLoginsTotal.WithLabelValues("blocked").Inc()
		return nil, ErrAccountBlocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		attempts, blocked, ferr := s.repo.RegisterFailedLogin(ctx, user.ID, maxLoginAttempts)
		if ferr != nil {
			return nil, fmt.Errorf("register failed login: %w", ferr)
		}
		metrics.AuthLoginsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, &FailedLoginError{
			AttemptsLeft: maxLoginAttempts - attempts,
			Blocked:      blocked,
		}
	}

	now := s.now()
	if err := s.repo.ResetLoginAttempts(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("reset login attempts: %w", err)
	}
	user.LoginAttempts = 0
	user.LastLoginAt = &now

	token, err := s.auth.GenerateToken(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()

	return &LoginResult{
		User:                   user,
		Token:                  token,
		RequiresPasswordChange: user.IsFirstLogin,
	}, nil
}

// ValidateToken validates a bearer token and confirms the account is still
// active. Implements httputil.TokenValidator. The first-login flag tells the
// HTTP layer whether the account is still on its temporary password.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, domain.Role, bool, error) {
	userID, _, err := s.auth.ValidateToken(ctx, token)
	if err != nil {
		return 0, "", false, ErrInvalidToken
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, "", false, ErrInvalidToken
	}
	if !user.IsActive {
		return 0, "", false, ErrInvalidToken
	}

	// The role claim may be stale after an admin role change.
	return user.ID, user.Role, user.IsFirstLogin, nil
}

// ChangePassword verifies the current password and stores a new one. It also
// clears the first-login flag, completing provisioning of new accounts.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, newPassword string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user.Password = string(hash)
	user.IsFirstLogin = false

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ProfileInput holds self-service profile edits. Nil fields are unchanged.
type ProfileInput struct {
	Name   *string
	Phone  *string
	Avatar *string
}

// UpdateProfile applies profile edits for the authenticated user.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, input ProfileInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Phone != nil {
		user.Phone = input.Phone
	}
	if input.Avatar != nil {
		user.Avatar = input.Avatar
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

const tempPasswordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateTempPassword returns a random password from an alphabet without
// look-alike characters.
func generateTempPassword() (string, error) {
	out := make([]byte, tempPasswordLength)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}

func (s *Service) notifyUserCreated(ctx context.Context, user *domain.User, tempPassword string) {
	if s.userCreated == nil {
		return
	}
	if err := s.userCreated.OnUserCreated(ctx, user, tempPassword); err != nil {
		slog.Error("user created handler failed", "user_id", user.ID, "error", err)
	}
}

func (s *Service) notifyPasswordReset(ctx context.Context, user *domain.User, tempPassword string) {
	if s.userCreated == nil {
		return
	}
	if err := s.userCreated.OnPasswordReset(ctx, user, tempPassword); err != nil {
		slog.Error("password reset handler failed", "user_id", user.ID, "error", err)
	}
}
