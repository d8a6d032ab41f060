// Package ceremony orchestrates passkey registration, authentication, and
// account-recovery flows.
//
// Every ceremony spans two requests: a begin step that issues challenge
// options and parks them in the per-session challenge store, and a
// complete step that consumes the challenge, verifies the signed response,
// and commits account state atomically. Any failure aborts the whole
// attempt; the caller restarts from the begin step.
package ceremony

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/repset/repset/internal/auth/challenge"
	"github.com/repset/repset/internal/auth/mail"
	"github.com/repset/repset/internal/auth/passkey"
	"github.com/repset/repset/internal/auth/recovery"
	"github.com/repset/repset/internal/auth/session"
	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
	apperrors "github.com/repset/repset/internal/platform/errors"
	"github.com/repset/repset/internal/platform/id"
)

var (
	// ErrAccountExists indicates a signup for an email that already has an
	// account. The signup flow reveals this so the caller can redirect to
	// sign-in; the recovery flow never does.
	ErrAccountExists = apperrors.New(apperrors.CodeAccountExists, "an account with this email already exists")
	// ErrUserNotFound indicates a sign-in for an unknown email.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "no account found for this email")
	// ErrChallengeNotFound indicates the session has no pending ceremony:
	// never begun, expired, overwritten by a newer begin, or already
	// consumed by a previous complete attempt.
	ErrChallengeNotFound = apperrors.New(apperrors.CodeChallengeNotFound, "no pending ceremony for this session")
	// ErrChallengeMismatch indicates the signed response failed
	// verification against the expected challenge, origin, or public key.
	ErrChallengeMismatch = apperrors.New(apperrors.CodeChallengeMismatch, "credential response failed verification")
	// ErrCredentialNotFound indicates the reported credential is not
	// enrolled for the account.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered for this account")
	// ErrPossibleClone indicates a signature counter that failed to
	// increase, the signal for a duplicated authenticator.
	ErrPossibleClone = apperrors.New(apperrors.CodePossibleClone, "signature counter did not increase")
)

// Dependencies wires the collaborating components into a Service.
type Dependencies struct {
	Users       storage.UserStore
	Credentials storage.CredentialStore
	Commits     storage.CeremonyCommitStore
	Challenges  *challenge.Store
	Recovery    *recovery.Issuer
	Sessions    *session.Manager
	Mailer      mail.Mailer
	Config      passkey.Config
}

// Service runs the ceremony state machines.
type Service struct {
	users       storage.UserStore
	credentials storage.CredentialStore
	commits     storage.CeremonyCommitStore
	challenges  *challenge.Store
	recovery    *recovery.Issuer
	sessions    *session.Manager
	mailer      mail.Mailer
	config      passkey.Config

	webAuthn        webAuthnProvider
	webAuthnInitErr error
	parser          responseParser
	clock           func() time.Time
	idGenerator     func() (string, error)
}

// NewService builds a ceremony service around the configured relying
// party.
func NewService(deps Dependencies) *Service {
	config := deps.Config
	if config.RPID == "" {
		config = passkey.LoadConfigFromEnv()
	}
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	return &Service{
		users:           deps.Users,
		credentials:     deps.Credentials,
		commits:         deps.Commits,
		challenges:      deps.Challenges,
		recovery:        deps.Recovery,
		sessions:        deps.Sessions,
		mailer:          deps.Mailer,
		config:          config,
		webAuthn:        webAuthn,
		webAuthnInitErr: err,
		parser:          defaultResponseParser{},
		clock:           time.Now,
		idGenerator:     id.NewID,
	}
}

// BeginResult carries the ceremony options the browser hands to the
// authenticator.
type BeginResult struct {
	Options json.RawMessage
}

// CompleteResult is the outcome of a committed ceremony.
type CompleteResult struct {
	User         user.User
	Session      storage.WebSession
	CredentialID string
}

// Sessions exposes the session manager for transport-level auth checks.
func (s *Service) Sessions() *session.Manager {
	if s == nil {
		return nil
	}
	return s.sessions
}

func (s *Service) ready() error {
	if s == nil || s.users == nil || s.credentials == nil || s.commits == nil {
		return fmt.Errorf("ceremony stores are not configured")
	}
	if s.challenges == nil || s.sessions == nil {
		return fmt.Errorf("ceremony state is not configured")
	}
	if s.webAuthnInitErr != nil || s.webAuthn == nil {
		return fmt.Errorf("relying party configuration is not available")
	}
	return nil
}

// BeginRegistration starts a direct-signup ceremony for a new email.
func (s *Service) BeginRegistration(ctx context.Context, clientSessionID string, email string) (BeginResult, error) {
	if err := s.ready(); err != nil {
		return BeginResult{}, err
	}
	if strings.TrimSpace(clientSessionID) == "" {
		return BeginResult{}, fmt.Errorf("client session id is required")
	}
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return BeginResult{}, err
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return BeginResult{}, ErrAccountExists
	}
	if apperrors.GetCode(err) != apperrors.CodeNotFound {
		return BeginResult{}, fmt.Errorf("lookup account: %w", err)
	}

	// The account does not exist yet, so a never-before-used handle is
	// minted per ceremony and carried with the challenge.
	handle, err := user.NewHandle()
	if err != nil {
		return BeginResult{}, err
	}
	waUser := &ceremonyUser{handle: []byte(handle), email: email}
	creation, sessionData, err := s.webAuthn.BeginRegistration(waUser)
	if err != nil {
		return BeginResult{}, fmt.Errorf("begin registration: %w", err)
	}

	s.challenges.Put(clientSessionID, challenge.Pending{
		Kind:       passkey.KindRegistration,
		Email:      email,
		UserHandle: handle,
		Session:    *sessionData,
	})

	options, err := json.Marshal(creation)
	if err != nil {
		return BeginResult{}, fmt.Errorf("encode registration options: %w", err)
	}
	return BeginResult{Options: options}, nil
}

// FinishRegistration consumes the pending registration challenge,
// verifies the attestation response, and commits the new account and its
// first credential as one unit.
func (s *Service) FinishRegistration(ctx context.Context, clientSessionID string, responseJSON []byte, nickname string, timezone string) (CompleteResult, error) {
	if err := s.ready(); err != nil {
		return CompleteResult{}, err
	}
	pending, ok := s.challenges.Take(clientSessionID)
	if !ok || pending.Kind != passkey.KindRegistration {
		return CompleteResult{}, ErrChallengeNotFound
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "parse credential response", err)
	}
	waUser := &ceremonyUser{handle: []byte(pending.UserHandle), email: pending.Email}
	created, err := s.webAuthn.CreateCredential(waUser, pending.Session, parsed)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "verify registration response", err)
	}

	account, err := user.CreateUser(user.CreateUserInput{
		Email:    pending.Email,
		Timezone: timezone,
		Handle:   pending.UserHandle,
	}, s.clock, s.idGenerator)
	if err != nil {
		return CompleteResult{}, err
	}
	record, err := s.newCredentialRecord(account.ID, *created, nickname)
	if err != nil {
		return CompleteResult{}, err
	}

	if err := s.commits.CreateUserWithCredential(ctx, account, record); err != nil {
		return CompleteResult{}, err
	}
	return s.establish(ctx, clientSessionID, account, record.ExternalID)
}

// BeginLogin starts an authentication ceremony for an existing account.
func (s *Service) BeginLogin(ctx context.Context, clientSessionID string, email string) (BeginResult, error) {
	if err := s.ready(); err != nil {
		return BeginResult{}, err
	}
	if strings.TrimSpace(clientSessionID) == "" {
		return BeginResult{}, fmt.Errorf("client session id is required")
	}
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return BeginResult{}, err
	}

	account, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return BeginResult{}, ErrUserNotFound
		}
		return BeginResult{}, fmt.Errorf("lookup account: %w", err)
	}
	records, err := s.credentials.ListCredentialsByUser(ctx, account.ID)
	if err != nil {
		return BeginResult{}, fmt.Errorf("list credentials: %w", err)
	}
	if len(records) == 0 {
		return BeginResult{}, ErrCredentialNotFound
	}
	waUser, err := loadCeremonyUser(account, records)
	if err != nil {
		return BeginResult{}, err
	}

	assertion, sessionData, err := s.webAuthn.BeginLogin(waUser)
	if err != nil {
		return BeginResult{}, fmt.Errorf("begin login: %w", err)
	}

	s.challenges.Put(clientSessionID, challenge.Pending{
		Kind:    passkey.KindLogin,
		Email:   account.Email,
		UserID:  account.ID,
		Session: *sessionData,
	})

	options, err := json.Marshal(assertion)
	if err != nil {
		return BeginResult{}, fmt.Errorf("encode login options: %w", err)
	}
	return BeginResult{Options: options}, nil
}

// FinishLogin consumes the pending authentication challenge, verifies the
// assertion against the matching stored credential, enforces the
// signature-counter policy, and establishes a session.
func (s *Service) FinishLogin(ctx context.Context, clientSessionID string, responseJSON []byte) (CompleteResult, error) {
	if err := s.ready(); err != nil {
		return CompleteResult{}, err
	}
	pending, ok := s.challenges.Take(clientSessionID)
	if !ok || pending.Kind != passkey.KindLogin {
		return CompleteResult{}, ErrChallengeNotFound
	}

	account, err := s.users.GetUser(ctx, pending.UserID)
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

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "parse credential response", err)
	}

	// Resolve the specific enrollment the client claims before verifying;
	// an unknown credential fails fast without touching the verifier.
	reportedID := encodeCredentialID(parsed.RawID)
	var match *storage.Credential
	for i := range records {
		if records[i].ExternalID == reportedID {
			match = &records[i]
			break
		}
	}
	if match == nil {
		return CompleteResult{}, ErrCredentialNotFound
	}

	waUser, err := loadCeremonyUser(account, records)
	if err != nil {
		return CompleteResult{}, err
	}
	validated, err := s.webAuthn.ValidateLogin(waUser, pending.Session, parsed)
	if err != nil {
		return CompleteResult{}, apperrors.Wrap(apperrors.CodeChallengeMismatch, "verify login response", err)
	}

	// A counter that ties or regresses (outside the both-zero exemption)
	// is the clone signal; the ceremony fails and the stored counter is
	// left untouched.
	if validated.Authenticator.CloneWarning {
		return CompleteResult{}, ErrPossibleClone
	}
	if err := s.credentials.UpdateSignCount(ctx, match.ID, validated.Authenticator.SignCount, s.clock().UTC()); err != nil {
		return CompleteResult{}, fmt.Errorf("update signature counter: %w", err)
	}

	return s.establish(ctx, clientSessionID, account, match.ExternalID)
}

// Logout revokes the authenticated session and clears any pending
// ceremony state for the browser session.
func (s *Service) Logout(ctx context.Context, clientSessionID string, webSessionID string) error {
	if s == nil || s.sessions == nil {
		return fmt.Errorf("session manager is not configured")
	}
	s.challenges.Clear(clientSessionID)
	return s.sessions.Revoke(ctx, webSessionID)
}

// establish mints the authenticated session and drops all ceremony state.
func (s *Service) establish(ctx context.Context, clientSessionID string, account user.User, credentialID string) (CompleteResult, error) {
	webSession, err := s.sessions.Establish(ctx, account.ID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("establish session: %w", err)
	}
	s.challenges.Clear(clientSessionID)
	return CompleteResult{
		User:         account,
		Session:      webSession,
		CredentialID: credentialID,
	}, nil
}

func (s *Service) newCredentialRecord(userID string, credential webauthn.Credential, nickname string) (storage.Credential, error) {
	credentialID, err := s.idGenerator()
	if err != nil {
		return storage.Credential{}, fmt.Errorf("generate credential id: %w", err)
	}
	now := s.clock().UTC()
	return storage.Credential{
		ID:             credentialID,
		UserID:         userID,
		ExternalID:     encodeCredentialID(credential.ID),
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		Nickname:       strings.TrimSpace(nickname),
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// deliverRecoveryCode hands the code to the mail boundary without letting
// delivery failures or slow providers affect the issuing request.
func (s *Service) deliverRecoveryCode(ctx context.Context, email string, code storage.RecoveryCode) {
	if s.mailer == nil {
		return
	}
	mailCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.mailer.SendRecoveryCode(mailCtx, email, code.Code, code.ExpiresAt); err != nil {
			log.Printf("ceremony: deliver recovery code: %v", err)
		}
	}()
}
