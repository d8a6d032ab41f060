// Package recovery issues and redeems single-use account recovery codes.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/repset/repset/internal/auth/storage"
	apperrors "github.com/repset/repset/internal/platform/errors"
	"github.com/repset/repset/internal/platform/id"
)

// CodeTTL is the validity window of a recovery code.
const CodeTTL = 15 * time.Minute

// codeSpace is the number of possible 6-digit codes.
const codeSpace = 1_000_000

// maxIssueAttempts bounds retries on code-value collisions.
const maxIssueAttempts = 5

// ErrInvalidOrExpired indicates the presented code matches no active
// recovery attempt. Used, expired, and never-issued codes are
// indistinguishable to the caller.
var ErrInvalidOrExpired = apperrors.New(apperrors.CodeRecoveryInvalid, "recovery code is invalid or expired")

// Issuer manages the lifecycle of recovery codes.
type Issuer struct {
	store         storage.RecoveryCodeStore
	clock         func() time.Time
	idGenerator   func() (string, error)
	codeGenerator func() (string, error)
}

// NewIssuer creates an issuer with production defaults.
func NewIssuer(store storage.RecoveryCodeStore) *Issuer {
	return &Issuer{
		store:         store,
		clock:         time.Now,
		idGenerator:   id.NewID,
		codeGenerator: NewCode,
	}
}

// NewCode generates a zero-padded 6-digit code with uniform distribution
// over 000000-999999. Rejection sampling keeps the draw unbiased.
func NewCode() (string, error) {
	// Largest multiple of codeSpace representable in 32 bits.
	const limit = (1 << 32) / codeSpace * codeSpace
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		value := binary.BigEndian.Uint32(buf[:])
		if uint64(value) >= uint64(limit) {
			continue
		}
		return fmt.Sprintf("%06d", value%codeSpace), nil
	}
}

// Issue creates a new recovery code for a user. Outstanding codes for the
// same user stay valid; issuance retries only when the generated value
// collides with an existing row.
func (i *Issuer) Issue(ctx context.Context, userID string) (storage.RecoveryCode, error) {
	if i == nil || i.store == nil {
		return storage.RecoveryCode{}, fmt.Errorf("recovery store is not configured")
	}
	if userID == "" {
		return storage.RecoveryCode{}, fmt.Errorf("user id is required")
	}

	now := i.clock().UTC()
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		codeID, err := i.idGenerator()
		if err != nil {
			return storage.RecoveryCode{}, fmt.Errorf("generate recovery id: %w", err)
		}
		value, err := i.codeGenerator()
		if err != nil {
			return storage.RecoveryCode{}, fmt.Errorf("generate recovery code: %w", err)
		}
		code := storage.RecoveryCode{
			ID:        codeID,
			UserID:    userID,
			Code:      value,
			CreatedAt: now,
			ExpiresAt: now.Add(CodeTTL),
		}
		err = i.store.CreateRecoveryCode(ctx, code)
		if err == nil {
			return code, nil
		}
		if apperrors.GetCode(err) == apperrors.CodeRecoveryInvalid {
			continue
		}
		return storage.RecoveryCode{}, fmt.Errorf("store recovery code: %w", err)
	}
	return storage.RecoveryCode{}, fmt.Errorf("exhausted recovery code attempts")
}

// Redeem resolves an active code by value. It does not mark the code
// used; the replacement-registration commit transaction spends it so a
// failed ceremony leaves the code redeemable.
func (i *Issuer) Redeem(ctx context.Context, code string) (storage.RecoveryCode, error) {
	if i == nil || i.store == nil {
		return storage.RecoveryCode{}, fmt.Errorf("recovery store is not configured")
	}
	found, err := i.store.GetActiveRecoveryCodeByValue(ctx, code, i.clock().UTC())
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return storage.RecoveryCode{}, ErrInvalidOrExpired
		}
		return storage.RecoveryCode{}, fmt.Errorf("lookup recovery code: %w", err)
	}
	return found, nil
}

// Get loads a recovery code by id and re-checks that it is still active.
// Callers between confirm and commit use this to catch windows that
// elapsed mid-ceremony.
func (i *Issuer) Get(ctx context.Context, recoveryID string) (storage.RecoveryCode, error) {
	if i == nil || i.store == nil {
		return storage.RecoveryCode{}, fmt.Errorf("recovery store is not configured")
	}
	found, err := i.store.GetRecoveryCode(ctx, recoveryID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return storage.RecoveryCode{}, ErrInvalidOrExpired
		}
		return storage.RecoveryCode{}, fmt.Errorf("load recovery code: %w", err)
	}
	if !found.Active(i.clock().UTC()) {
		return storage.RecoveryCode{}, ErrInvalidOrExpired
	}
	return found, nil
}

// MarkUsed spends a code outside the commit path. Kept for operational
// tooling; ceremony commits mark codes used transactionally instead.
func (i *Issuer) MarkUsed(ctx context.Context, recoveryID string) error {
	if i == nil || i.store == nil {
		return fmt.Errorf("recovery store is not configured")
	}
	return i.store.MarkRecoveryCodeUsed(ctx, recoveryID, i.clock().UTC())
}

// WithClock overrides the issuer clock for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	if clock != nil {
		i.clock = clock
	}
	return i
}

// WithCodeGenerator overrides code generation for tests.
func (i *Issuer) WithCodeGenerator(generator func() (string, error)) *Issuer {
	if generator != nil {
		i.codeGenerator = generator
	}
	return i
}
