// Package postgres provides PostgreSQL implementation of the identity
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/identity"
)

const uniqueViolation = "23505"

// Repository implements identity.Repository using PostgreSQL. It also
// implements incidents.UserDirectory for audit display names and assignment
// checks.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	id, name, email, password, role, phone, avatar,
	is_active, is_first_login, login_attempts, last_login_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Password,
		&user.Role,
		&user.Phone,
		&user.Avatar,
		&user.IsActive,
		&user.IsFirstLogin,
		&user.LoginAttempts,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user row.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			name, email, password, role, phone, avatar,
			is_active, is_first_login
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.Password,
		user.Role,
		user.Phone,
		user.Avatar,
		user.IsActive,
		user.IsFirstLogin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// UpdateUser persists mutable user fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users SET
			name = $2,
			email = $3,
			password = $4,
			role = $5,
			phone = $6,
			avatar = $7,
			is_active = $8,
			is_first_login = $9,
			login_attempts = $10,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Password,
		user.Role,
		user.Phone,
		user.Avatar,
		user.IsActive,
		user.IsFirstLogin,
		user.LoginAttempts,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return identity.ErrEmailExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// ListUsers retrieves users matching the filters, newest first, plus the
// total matching row count.
func (r *Repository) ListUsers(ctx context.Context, filters identity.UserFilters) ([]*domain.User, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filters.Role != nil {
		where += fmt.Sprintf(" AND role = $%d", argNum)
		args = append(args, *filters.Role)
		argNum++
	}
	if filters.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argNum)
		args = append(args, *filters.IsActive)
		argNum++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT` + userColumns + ` FROM users` + where + ` ORDER BY created_at DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	return users, total, nil
}

// ListOperators retrieves active users who can manage incidents.
func (r *Repository) ListOperators(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE role IN ('operator', 'admin') AND is_active = TRUE
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}

	return users, nil
}

// RegisterFailedLogin increments the failed attempt counter and deactivates
// the account when it reaches maxAttempts, all in one statement so
// concurrent failures cannot bypass the limit. A failed attempt can only
// deactivate, never reactivate an account an admin has already disabled.
func (r *Repository) RegisterFailedLogin(ctx context.Context, userID int64, maxAttempts int) (int, bool, error) {
	query := `
		UPDATE users SET
			login_attempts = login_attempts + 1,
			is_active = is_active AND (login_attempts + 1 < $2),
			updated_at = NOW()
		WHERE id = $1
		RETURNING login_attempts, is_active
	`
	var attempts int
	var active bool
	if err := r.db.QueryRow(ctx, query, userID, maxAttempts).Scan(&attempts, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, identity.ErrUserNotFound
		}
		return 0, false, fmt.Errorf("register failed login: %w", err)
	}
	return attempts, !active, nil
}

// ResetLoginAttempts zeroes the failed attempt counter and records the
// successful login time.
func (r *Repository) ResetLoginAttempts(ctx context.Context, userID int64, loginAt time.Time) error {
	query := `
		UPDATE users SET
			login_attempts = 0,
			last_login_at = $2,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, loginAt)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// GetUserRef returns the display reference for a user. Implements
// incidents.UserDirectory.
func (r *Repository) GetUserRef(ctx context.Context, id int64) (*domain.UserRef, error) {
	var ref domain.UserRef
	err := r.db.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id).
		Scan(&ref.ID, &ref.Name, &ref.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user ref: %w", err)
	}
	return &ref, nil
}

// GetUserRole returns the role of an active user. Implements
// incidents.UserDirectory.
func (r *Repository) GetUserRole(ctx context.Context, id int64) (domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active = TRUE`, id).
		Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", identity.ErrUserNotFound
		}
		return "", fmt.Errorf("get user role: %w", err)
	}
	return role, nil
}

// ListStaffRefs returns display references for active operators and
// admins. Implements notifications.Directory.
func (r *Repository) ListStaffRefs(ctx context.Context) ([]domain.UserRef, error) {
	query := `
		SELECT id, name, email
		FROM users
		WHERE role IN ('operator', 'admin') AND is_active = TRUE
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list staff refs: %w", err)
	}
	defer rows.Close()

	refs := make([]domain.UserRef, 0)
	for rows.Next() {
		var ref domain.UserRef
		if err := rows.Scan(&ref.ID, &ref.Name, &ref.Email); err != nil {
			return nil, fmt.Errorf("scan staff ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
