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

const recoveryCodeColumns = "id, user_id, code, created_at, expires_at, used_at"

func scanRecoveryCode(row *sql.Row) (storage.RecoveryCode, error) {
	var code storage.RecoveryCode
	var createdAt, expiresAt int64
	var usedAt sql.NullInt64
	if err := row.Scan(&code.ID, &code.UserID, &code.Code, &createdAt, &expiresAt, &usedAt); err != nil {
		return storage.RecoveryCode{}, err
	}
	code.CreatedAt = fromMillis(createdAt)
	code.ExpiresAt = fromMillis(expiresAt)
	code.UsedAt = millisPtr(usedAt)
	return code, nil
}

// CreateRecoveryCode stores a new recovery code. The code value is unique
// across all outstanding rows so a submitted code resolves to exactly one
// attempt.
func (s *Store) CreateRecoveryCode(ctx context.Context, code storage.RecoveryCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code.ID) == "" {
		return fmt.Errorf("recovery code id is required")
	}
	if strings.TrimSpace(code.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(code.Code) == "" {
		return fmt.Errorf("recovery code value is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recovery_codes (id, user_id, code, created_at, expires_at, used_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		code.ID,
		code.UserID,
		code.Code,
		toMillis(code.CreatedAt),
		toMillis(code.ExpiresAt),
		nullMillis(code.UsedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "recovery_codes.code") {
			return storage.ErrDuplicateRecoveryCode
		}
		return fmt.Errorf("insert recovery code: %w", err)
	}
	return nil
}

// GetRecoveryCode fetches a recovery code by id.
func (s *Store) GetRecoveryCode(ctx context.Context, id string) (storage.RecoveryCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecoveryCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecoveryCode{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.RecoveryCode{}, fmt.Errorf("recovery code id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+recoveryCodeColumns+" FROM recovery_codes WHERE id = ?", id)
	code, err := scanRecoveryCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RecoveryCode{}, storage.ErrNotFound
		}
		return storage.RecoveryCode{}, fmt.Errorf("get recovery code: %w", err)
	}
	return code, nil
}

// GetActiveRecoveryCodeByValue resolves an unused, unexpired code by its
// value alone.
func (s *Store) GetActiveRecoveryCodeByValue(ctx context.Context, value string, now time.Time) (storage.RecoveryCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecoveryCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecoveryCode{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(value) == "" {
		return storage.RecoveryCode{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+recoveryCodeColumns+`
FROM recovery_codes
WHERE code = ? AND used_at IS NULL AND expires_at > ?
`, value, toMillis(now))
	code, err := scanRecoveryCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RecoveryCode{}, storage.ErrNotFound
		}
		return storage.RecoveryCode{}, fmt.Errorf("get active recovery code: %w", err)
	}
	return code, nil
}

// MarkRecoveryCodeUsed spends a code outside the ceremony commit path.
func (s *Store) MarkRecoveryCodeUsed(ctx context.Context, id string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("recovery code id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL
`, toMillis(usedAt), id)
	if err != nil {
		return fmt.Errorf("mark recovery code used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark recovery code used: %w", err)
	}
	if affected == 0 {
		return storage.ErrRecoveryCodeSpent
	}
	return nil
}
