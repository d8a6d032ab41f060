package ceremony

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/repset/repset/internal/auth/challenge"
	"github.com/repset/repset/internal/auth/passkey"
	"github.com/repset/repset/internal/auth/recovery"
	"github.com/repset/repset/internal/auth/user"
	apperrors "github.com/repset/repset/internal/platform/errors"
)

// RequestRecovery issues a recovery code for an account and hands it to
// the mail boundary. Unknown emails return the same nil result as known
// ones; the response never reveals whether an account exists.
func (s *Service) RequestRecovery(ctx context.Context, email string) error {
	if s == nil || s.users == nil || s.recovery == nil {
		return fmt.Errorf("recovery issuer is not configured")
	}
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return err
	}

	account, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	code, err := s.recovery.Issue(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("issue recovery code: %w", err)
	}
	s.deliverRecoveryCode(ctx, account.Email, code)
	return nil
}

// ConfirmRecovery redeems a submitted code and binds the proven recovery
// attempt to the browser session. The code stays unspent; only the
// replacement-registration commit marks it used.
func (s *Service) ConfirmRecovery(ctx context.Context, clientSessionID string, code string) error {
	if s == nil || s.recovery == nil || s.challenges == nil {
		return fmt.Errorf("recovery issuer is not configured")
	}
	if strings.TrimSpace(clientSessionID) == "" {
		return fmt.Errorf("client session id is required")
	}
	code = strings.TrimSpace(code)

	redeemed, err := s.recovery.Redeem(ctx, code)
	if err != nil {
		return err
	}
	s.challenges.PutRecoveryHandle(clientSessionID, redeemed.ID, redeemed.ExpiresAt)
	return nil
}

// BeginRecoveryRegistration starts the replacement-credential ceremony
// for a session holding a confirmed recovery attempt. Existing
// enrollments are excluded so the authenticator mints a new credential
// instead of reusing a lost one.
func (s *Service) BeginRecoveryRegistration(ctx context.Context, clientSessionID string) (BeginResult, error) {
	if err := s.ready(); err != nil {
		return BeginResult{}, err
	}
	if s.recovery == nil {
		return BeginResult{}, fmt.Errorf("recovery issuer is not configured")
	}

	recoveryID, ok := s.challenges.RecoveryHandle(clientSessionID)
	if !ok {
		return BeginResult{}, recovery.ErrInvalidOrExpired
	}
	code, err := s.recovery.Get(ctx, recoveryID)
	if err != nil {
		return BeginResult{}, err
	}

	account, err := s.users.GetUser(ctx, code.UserID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return BeginResult{}, ErrUserNotFound
		}
		return BeginResult{}, fmt.Errorf("load account: %w", err)
	}
	records, err := s.credentials.ListCredentialsByUser(ctx, account.ID)
	if err != nil {
		return BeginResult{}, fmt.Errorf("list credentials: %w", err)
	}
	waUser, err := loadCeremonyUser(account, records)
	if err != nil {
		return BeginResult{}, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(waUser.credentials))
	for _, credential := range waUser.credentials {
		exclusions = append(exclusions, credential.Descriptor())
	}
	creation, sessionData, err := s.webAuthn.BeginRegistration(waUser, webauthn.WithExclusions(exclusions))
	if err != nil {
		return BeginResult{}, fmt.Errorf("begin recovery registration: %w", err)
	}

	s.challenges.Put(clientSessionID, challenge.Pending{
		Kind:       passkey.KindRecovery,
		Email:      account.Email,
		UserID:     account.ID,
		RecoveryID: code.ID,
		Session:    *sessionData,
	})

	options, err := json.Marshal(creation)
	if err != nil {
		return BeginResult{}, fmt.Errorf("encode registration options: %w", err)
	}
	return BeginResult{Options: options}, nil
}

// FinishRecoveryRegistration consumes the pending recovery-registration
// challenge, verifies the attestation response, and commits the
// replacement credential together with spending the recovery code. The
// code's validity is re-checked inside the commit transaction, so a
// window that elapsed mid-ceremony aborts the whole attempt.
func (s *Service) FinishRecoveryRegistration(ctx context.Context, clientSessionID string, responseJSON []byte, nickname string) (CompleteResult, error) {
	if err := s.ready(); err != nil {
		return CompleteResult{}, err
	}
	if s.recovery == nil {
		return CompleteResult{}, fmt.Errorf("recovery issuer is not configured")
	}
	pending, ok := s.challenges.Take(clientSessionID)
	if !ok || pending.Kind != passkey.KindRecovery {
		return CompleteResult{}, ErrChallengeNotFound
	}
	code, err := s.recovery.Get(ctx, pending.RecoveryID)
	if err != nil {
		return CompleteResult{}, err
	}

	account, err := s.users.GetUser(ctx, code.UserID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return CompleteResult{}, ErrUserNotFound
		}
		return CompleteResult{}, fmt.Errorf("load account: %w", err)
	}
	records, err := s.credentials.ListCredentialsByUser(ctx, account.ID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("list credentials: %w", err)
	}
	waUser, err := loadCeremonyUser(account, records)
	if err != nil {
		return CompleteResult{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "parse credential response", err)
	}
	created, err := s.webAuthn.CreateCredential(waUser, pending.Session, parsed)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "verify registration response", err)
	}

	record, err := s.newCredentialRecord(account.ID, *created, nickname)
	if err != nil {
		return CompleteResult{}, err
	}
	if err := s.commits.CreateCredentialWithRecovery(ctx, record, code.ID, s.clock().UTC()); err != nil {
		if apperrors.GetCode(err) == apperrors.CodeRecoveryInvalid {
			return CompleteResult{}, recovery.ErrInvalidOrExpired
		}
		return CompleteResult{}, err
	}
	return s.establish(ctx, clientSessionID, account, record.ExternalID)
}
