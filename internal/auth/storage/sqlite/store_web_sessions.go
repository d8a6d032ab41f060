package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repset/repset/internal/auth/storage"
)

const webSessionColumns = "id, user_id, created_at, expires_at, revoked_at"

func scanWebSession(row *sql.Row) (storage.WebSession, error) {
	var session storage.WebSession
	var createdAt, expiresAt int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&session.ID, &session.UserID, &createdAt, &expiresAt, &revokedAt); err != nil {
		return storage.WebSession{}, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	session.RevokedAt = millisPtr(revokedAt)
	return session, nil
}

// PutWebSession stores an authenticated web session.
func (s *Store) PutWebSession(ctx context.Context, session storage.WebSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO web_sessions (id, user_id, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?)
`,
		session.ID,
		session.UserID,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		nullMillis(session.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("insert web session: %w", err)
	}
	return nil
}

// GetWebSession fetches a web session by id.
func (s *Store) GetWebSession(ctx context.Context, id string) (storage.WebSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.WebSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.WebSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.WebSession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+webSessionColumns+" FROM web_sessions WHERE id = ?", id)
	session, err := scanWebSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WebSession{}, storage.ErrNotFound
		}
		return storage.WebSession{}, fmt.Errorf("get web session: %w", err)
	}
	return session, nil
}

// RevokeWebSession stamps a session revoked. Revoking twice keeps the
// first timestamp.
func (s *Store) RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE web_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
`, toMillis(revokedAt), id)
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	if affected == 0 {
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM web_sessions WHERE id = ?", id)
		if err := row.Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("revoke web session: %w", err)
		}
	}
	return nil
}

// DeleteExpiredWebSessions removes sessions whose lifetime has elapsed.
func (s *Store) DeleteExpiredWebSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM web_sessions WHERE expires_at <= ?", toMillis(now)); err != nil {
		return fmt.Errorf("delete expired web sessions: %w", err)
	}
	return nil
}
