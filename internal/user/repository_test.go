package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepositoryWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewRepository(db), mock, db
}

func userRows(u User) *sqlmock.Rows {
	var lastLogin any
	if u.LastLoginAt != nil {
		lastLogin = *u.LastLoginAt
	}
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "is_active", "is_verified",
		"display_name", "avatar_url", "last_login_at", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.IsVerified,
		u.DisplayName, u.AvatarURL, lastLogin, u.CreatedAt, u.UpdatedAt,
	)
}

func TestFindByEmailNormalizes(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("user@example.com").
		WillReturnRows(userRows(User{
			ID: "u-1", Email: "user@example.com", Role: RoleUser,
			IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))

	u, err := repo.FindByEmail(context.Background(), "  User@Example.COM ")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if u.ID != "u-1" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM users`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), User{
		Email:        "taken@example.com",
		PasswordHash: "hash",
		Role:         RoleUser,
		IsActive:     true,
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateAssignsIDAndNormalizes(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "new@example.com", "hash", RoleUser, true, false, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Create(context.Background(), User{
		Email:        " New@Example.com ",
		PasswordHash: "hash",
		Role:         RoleUser,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}
	if created.Email != "new@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	role := RoleModerator
	active := false

	mock.ExpectQuery(`UPDATE users SET .+ RETURNING`).
		WithArgs("u-1", role, active).
		WillReturnRows(userRows(User{
			ID: "u-1", Email: "user@example.com", Role: role,
			IsActive: active, CreatedAt: now, UpdatedAt: now,
		}))

	updated, err := repo.Update(context.Background(), "u-1", UpdateParams{
		Role:     &role,
		IsActive: &active,
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Role != RoleModerator || updated.IsActive {
		t.Fatalf("unexpected user: %+v", updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListScansAllRows(t *testing.T) {
	repo, mock, db := newRepositoryWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "is_active", "is_verified",
		"display_name", "avatar_url", "last_login_at", "created_at", "updated_at",
	}).
		AddRow("u-1", "a@b.co", "h1", RoleAdmin, true, true, "A", "", now, now, now).
		AddRow("u-2", "c@d.co", "h2", RoleUser, true, false, "", "", nil, now, now)

	mock.ExpectQuery(`SELECT .+ FROM users`).WillReturnRows(rows)

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].LastLoginAt == nil || users[1].LastLoginAt != nil {
		t.Fatal("last_login_at scanning mismatch")
	}
}
