package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

const userColumns = `id, email, password_hash, role, is_active, is_verified, display_name, avatar_url, last_login_at, created_at, updated_at`

// Repository is the user directory backed by the users table.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) scanUser(row *sql.Row) (User, error) {
	var u User
	var lastLogin sql.NullTime
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.IsVerified,
		&u.DisplayName, &u.AvatarURL, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		u.LastLoginAt = &value
	}
	return u, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, NormalizeEmail(email))
	return r.scanUser(row)
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return r.scanUser(row)
}

// Create inserts a new user. The id is generated here; a duplicate email
// surfaces as ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	u.ID = id.String()
	u.Email = NormalizeEmail(u.Email)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, is_active, is_verified, display_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.IsVerified, u.DisplayName, u.AvatarURL, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

// UpdateParams carries the mutable profile fields. Nil means "leave as is".
type UpdateParams struct {
	Role         *string
	IsActive     *bool
	IsVerified   *bool
	DisplayName  *string
	AvatarURL    *string
	PasswordHash *string
}

// Update applies the non-nil fields and returns the updated record.
func (r *Repository) Update(ctx context.Context, id string, params UpdateParams) (User, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Role != nil {
		appendSet("role", *params.Role)
	}
	if params.IsActive != nil {
		appendSet("is_active", *params.IsActive)
	}
	if params.IsVerified != nil {
		appendSet("is_verified", *params.IsVerified)
	}
	if params.DisplayName != nil {
		appendSet("display_name", *params.DisplayName)
	}
	if params.AvatarURL != nil {
		appendSet("avatar_url", *params.AvatarURL)
	}
	if params.PasswordHash != nil {
		appendSet("password_hash", *params.PasswordHash)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+userColumns+`
	`, args...)
	return r.scanUser(row)
}

func (r *Repository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET last_login_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("set last login: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lastLogin sql.NullTime
		if err := rows.Scan(
			&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.IsVerified,
			&u.DisplayName, &u.AvatarURL, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		if lastLogin.Valid {
			value := lastLogin.Time.UTC()
			u.LastLoginAt = &value
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}
