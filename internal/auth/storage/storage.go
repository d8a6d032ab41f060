// Package storage defines the persistence contracts for the auth service.
package storage

import (
	"context"
	"time"

	"github.com/repset/repset/internal/auth/user"
	"github.com/repset/repset/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicateCredential indicates the external credential identifier is
// already bound to an account. The external id is unique system-wide so a
// single authenticator can never be silently enrolled on two accounts.
var ErrDuplicateCredential = errors.New(errors.CodeDuplicateCredential, "credential already registered")

// ErrEmailTaken indicates the email is already bound to an account.
var ErrEmailTaken = errors.New(errors.CodeAccountExists, "account already exists for email")

// ErrDuplicateRecoveryCode indicates a recovery code value collision.
var ErrDuplicateRecoveryCode = errors.New(errors.CodeRecoveryInvalid, "recovery code already exists")

// ErrRecoveryCodeSpent indicates the recovery code was used or expired
// before the commit could claim it.
var ErrRecoveryCodeSpent = errors.New(errors.CodeRecoveryInvalid, "recovery code is used or expired")

// UserStore persists account records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Credential stores one authenticator enrollment.
//
// ExternalID is the authenticator-reported credential identifier in
// raw-URL base64; it is globally unique and immutable. SignCount is
// mutable and monotonically non-decreasing; UpdateSignCount is its only
// writer.
type Credential struct {
	ID             string
	UserID         string
	ExternalID     string
	PublicKey      []byte
	SignCount      uint32
	Nickname       string
	BackupEligible bool
	BackupState    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// CredentialStore persists authenticator enrollments.
type CredentialStore interface {
	// CreateCredential fails with ErrDuplicateCredential when any user
	// already owns the external identifier.
	CreateCredential(ctx context.Context, credential Credential) error
	GetCredentialByExternalID(ctx context.Context, externalID string) (Credential, error)
	// ListCredentialsByUser returns enrollments ordered by creation time.
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateSignCount writes the authenticator counter. The write only
	// lands when the stored counter is not larger than signCount, so two
	// racing authentications cannot move the counter backwards; equal
	// writes succeed to keep zero-counter authenticators current.
	UpdateSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
}

// RecoveryCode is one outstanding email-proof attempt.
type RecoveryCode struct {
	ID        string
	UserID    string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Active reports whether the code is still redeemable at now.
func (c RecoveryCode) Active(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}

// RecoveryCodeStore persists recovery codes.
type RecoveryCodeStore interface {
	// CreateRecoveryCode fails with ErrDuplicateRecoveryCode when the code
	// value collides with an existing row.
	CreateRecoveryCode(ctx context.Context, code RecoveryCode) error
	GetRecoveryCode(ctx context.Context, id string) (RecoveryCode, error)
	// GetActiveRecoveryCodeByValue looks up an unused, unexpired code by
	// its value alone; the code doubles as the identity proof token.
	GetActiveRecoveryCodeByValue(ctx context.Context, code string, now time.Time) (RecoveryCode, error)
	MarkRecoveryCodeUsed(ctx context.Context, id string, usedAt time.Time) error
}

// WebSession is a durable authenticated browser session.
type WebSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// WebSessionStore persists authenticated web sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
	DeleteExpiredWebSessions(ctx context.Context, now time.Time) error
}

// CeremonyCommitStore runs the terminal writes of a ceremony as one
// atomic unit. A failure leaves no partial user, credential, or
// recovery-code state behind.
type CeremonyCommitStore interface {
	// CreateUserWithCredential creates the account row and its first
	// credential in a single transaction (direct signup commit).
	CreateUserWithCredential(ctx context.Context, u user.User, credential Credential) error
	// CreateCredentialWithRecovery inserts a replacement credential and
	// marks the recovery code used in a single transaction. It fails with
	// ErrRecoveryCodeSpent when the code is no longer active at commit
	// time.
	CreateCredentialWithRecovery(ctx context.Context, credential Credential, recoveryCodeID string, now time.Time) error
}
