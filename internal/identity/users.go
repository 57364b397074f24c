package identity

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// ErrSelfAction rejects administrative actions targeting the acting admin's
// own account.
var ErrSelfAction = errors.New("cannot perform this action on your own account")

// CreateUserInput holds data for provisioning a user account.
type CreateUserInput struct {
	Name  string
	Email string
	Role  domain.Role
	Phone *string
}

// UpdateUserInput holds administrative user edits. Nil fields are unchanged.
type UpdateUserInput struct {
	Name  *string
	Email *string
	Role  *domain.Role
	Phone *string
}

// CreateUser provisions an account with a random temporary password. The
// password reaches the user only through the credential handler (welcome
// email); the first login forces a change.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if !input.Role.IsValid() {
		return nil, fmt.Errorf("invalid role: %s", input.Role)
	}

	if _, err := s.repo.GetUserByEmail(ctx, input.Email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:         input.Name,
		Email:        input.Email,
		Password:     string(hash),
		Role:         input.Role,
		Phone:        input.Phone,
		IsActive:     true,
		IsFirstLogin: true,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.notifyUserCreated(ctx, user, tempPassword)

	return user, nil
}

// UpdateUser applies administrative edits to an account.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateUserInput) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Email != nil && *input.Email != user.Email {
		if _, err := s.repo.GetUserByEmail(ctx, *input.Email); err == nil {
			return nil, ErrEmailExists
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("check email: %w", err)
		}
		user.Email = *input.Email
	}
	if input.Name != nil {
		user.Name = *input.Name
	}
	if input.Role != nil {
		if !input.Role.IsValid() {
			return nil, fmt.Errorf("invalid role: %s", *input.Role)
		}
		user.Role = *input.Role
	}
	if input.Phone != nil {
		user.Phone = input.Phone
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// DeactivateUser disables an account without deleting it, preserving the
// incident history that references it.
func (s *Service) DeactivateUser(ctx context.Context, id, actorID int64) error {
	if id == actorID {
		return ErrSelfAction
	}

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	user.IsActive = false
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// ToggleUserStatus flips an account between active and deactivated.
// Reactivation also clears the failed login counter, unblocking accounts
// locked out by repeated bad passwords.
func (s *Service) ToggleUserStatus(ctx context.Context, id, actorID int64) (*domain.User, error) {
	if id == actorID {
		return nil, ErrSelfAction
	}

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.IsActive = !user.IsActive
	if user.IsActive {
		user.LoginAttempts = 0
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// ResetPassword issues a fresh temporary password and forces a change on the
// next login.
func (s *Service) ResetPassword(ctx context.Context, id int64) error {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user.Password = string(hash)
	user.IsFirstLogin = true

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	s.notifyPasswordReset(ctx, user, tempPassword)

	return nil
}

// ListUsers returns users matching the filters plus the total count.
func (s *Service) ListUsers(ctx context.Context, filters UserFilters) ([]*domain.User, int, error) {
	return s.repo.ListUsers(ctx, filters)
}

// ListOperators returns active users who can be assigned incidents.
func (s *Service) ListOperators(ctx context.Context) ([]*domain.User, error) {
	return s.repo.ListOperators(ctx)
}
