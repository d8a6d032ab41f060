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

const credentialColumns = "id, user_id, external_id, public_key, sign_count, nickname, backup_eligible, backup_state, created_at, updated_at, last_used_at"

type credentialScanner func(dest ...any) error

func scanCredential(scan credentialScanner) (storage.Credential, error) {
	var credential storage.Credential
	var createdAt, updatedAt int64
	var lastUsedAt sql.NullInt64
	if err := scan(
		&credential.ID,
		&credential.UserID,
		&credential.ExternalID,
		&credential.PublicKey,
		&credential.SignCount,
		&credential.Nickname,
		&credential.BackupEligible,
		&credential.BackupState,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		return storage.Credential{}, err
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = millisPtr(lastUsedAt)
	return credential, nil
}

func insertCredential(ctx context.Context, target execContexter, credential storage.Credential) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO credentials (
	id,
	user_id,
	external_id,
	public_key,
	sign_count,
	nickname,
	backup_eligible,
	backup_state,
	created_at,
	updated_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.ID,
		credential.UserID,
		credential.ExternalID,
		credential.PublicKey,
		credential.SignCount,
		credential.Nickname,
		credential.BackupEligible,
		credential.BackupState,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		nullMillis(credential.LastUsedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "credentials.external_id") {
			return storage.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func validateCredential(credential storage.Credential) error {
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.ExternalID) == "" {
		return fmt.Errorf("external credential id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}
	return nil
}

// CreateCredential stores an authenticator enrollment. The external id is
// unique across all users, so re-enrolling an authenticator that already
// belongs to any account fails with ErrDuplicateCredential.
func (s *Store) CreateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	return insertCredential(ctx, s.sqlDB, credential)
}

// GetCredentialByExternalID fetches an enrollment by the
// authenticator-reported identifier.
func (s *Store) GetCredentialByExternalID(ctx context.Context, externalID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(externalID) == "" {
		return storage.Credential{}, fmt.Errorf("external credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE external_id = ?", externalID)
	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns a user's enrollments ordered by creation.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateSignCount writes the verified authenticator counter and the
// last-used timestamp. The guard keeps the stored counter monotonic under
// concurrent verifications: a write only lands when the stored value is
// not already larger.
func (s *Store) UpdateSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET sign_count = ?, updated_at = ?, last_used_at = ?
WHERE id = ? AND sign_count <= ?
`,
		signCount,
		toMillis(usedAt),
		toMillis(usedAt),
		credentialID,
		signCount,
	)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		// Either the credential is gone or a concurrent verification
		// already advanced the counter past this value; both are benign
		// for the caller that just verified successfully.
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM credentials WHERE id = ?", credentialID)
		if err := row.Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("update sign count: %w", err)
		}
	}
	return nil
}
