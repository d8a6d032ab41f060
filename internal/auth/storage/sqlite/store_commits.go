package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
)

// CreateUserWithCredential commits a direct signup: the account row and
// its first credential land in one transaction, so a duplicate email or
// authenticator leaves no partial account behind.
func (s *Store) CreateUserWithCredential(ctx context.Context, u user.User, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	if credential.UserID != u.ID {
		return fmt.Errorf("credential user id does not match user")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signup commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	if err := insertCredential(ctx, tx, credential); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signup: %w", err)
	}
	return nil
}

// CreateCredentialWithRecovery commits a recovery-driven enrollment: the
// replacement credential is inserted and the recovery code spent in one
// transaction. The code's validity is re-checked by the guarded update,
// so a code that expired or was spent mid-ceremony aborts the whole
// commit with ErrRecoveryCodeSpent.
func (s *Store) CreateCredentialWithRecovery(ctx context.Context, credential storage.Credential, recoveryCodeID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	if strings.TrimSpace(recoveryCodeID) == "" {
		return fmt.Errorf("recovery code id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE recovery_codes
SET used_at = ?
WHERE id = ? AND used_at IS NULL AND expires_at > ?
`, toMillis(now), recoveryCodeID, toMillis(now))
	if err != nil {
		return fmt.Errorf("spend recovery code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("spend recovery code: %w", err)
	}
	if affected == 0 {
		return storage.ErrRecoveryCodeSpent
	}

	if err := insertCredential(ctx, tx, credential); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recovery enrollment: %w", err)
	}
	return nil
}

var _ execContexter = (*sql.Tx)(nil)
