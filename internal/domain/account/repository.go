package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("account: not found")

// uniqueMessages maps unique-constraint names to the field and message
// reported when a registration collides with an existing account.
var uniqueMessages = map[string]struct{ field, message string }{
	"users_email_key":        {"email", "A user with that email already exists."},
	"users_phone_number_key": {"phone_number", "A user with that phone number already exists."},
}

// Repository persists user accounts in Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

const userColumns = `id, email, password_hash, phone_number, user_type,
	is_verified, is_active, first_name, last_name, date_joined`

// Create validates and inserts a new account. The password hash must be
// set by the caller; duplicate email or phone come back as validation
// errors.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, phone_number, user_type,
			is_verified, is_active, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, date_joined`,
		u.Email, u.PasswordHash, u.PhoneNumber, u.UserType,
		u.IsVerified, u.IsActive, u.FirstName, u.LastName,
	).Scan(&u.ID, &u.DateJoined)
	if err != nil {
		return translateAccountError(err, "insert user")
	}

	r.logger.Info("account registered",
		zap.Int64("user_id", u.ID),
		zap.String("user_type", string(u.UserType)))
	return nil
}

// GetByEmail looks an account up case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// GetByID returns one account by id.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// UpdateProfile validates and persists the mutable profile fields. Email
// and role are immutable after registration.
func (r *Repository) UpdateProfile(ctx context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET phone_number = $2, first_name = $3, last_name = $4
		WHERE id = $1`,
		u.ID, u.PhoneNumber, u.FirstName, u.LastName)
	if err != nil {
		return translateAccountError(err, "update profile")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword stores a new password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	r.logger.Info("password changed", zap.Int64("user_id", id))
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PhoneNumber,
		&u.UserType, &u.IsVerified, &u.IsActive, &u.FirstName, &u.LastName,
		&u.DateJoined)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func translateAccountError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if m, ok := uniqueMessages[pgErr.ConstraintName]; ok {
			return validation.NewError(validation.CodeAlreadyExists, m.field, m.message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
