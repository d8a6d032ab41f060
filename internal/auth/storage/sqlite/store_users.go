package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
)

const userColumns = "id, email, handle, timezone, created_at, updated_at"

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var createdAt, updatedAt int64
	if err := row.Scan(&u.ID, &u.Email, &u.Handle, &u.Timezone, &createdAt, &updatedAt); err != nil {
		return user.User{}, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, target execContexter, u user.User) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO users (id, email, handle, timezone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		u.ID,
		u.Email,
		u.Handle,
		u.Timezone,
		toMillis(u.CreatedAt),
		toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return storage.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateUser persists a new account record.
func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}
	return insertUser(ctx, s.sqlDB, u)
}

// GetUser fetches an account by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches an account by its normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("user email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// DeleteUser removes an account; credentials, recovery codes, and web
// sessions cascade with it.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
