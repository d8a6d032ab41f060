package ceremony

import (
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
)

// webAuthnProvider is the go-webauthn surface the ceremonies drive.
// Narrowed to an interface so tests can substitute a deterministic
// verifier.
type webAuthnProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type responseParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultResponseParser struct{}

func (defaultResponseParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultResponseParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// ceremonyUser adapts an account and its stored enrollments to the
// webauthn.User contract. The id is the account's user handle, never the
// database identifier.
type ceremonyUser struct {
	handle      []byte
	email       string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.email
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// loadCeremonyUser rebuilds the webauthn view of an account from stored
// credential rows.
func loadCeremonyUser(account user.User, records []storage.Credential) (*ceremonyUser, error) {
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credential, err := storedWebAuthnCredential(record)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return &ceremonyUser{
		handle:      []byte(account.Handle),
		email:       account.Email,
		credentials: credentials,
	}, nil
}

// storedWebAuthnCredential reconstructs the verification-relevant parts of
// a credential from its stored columns: identifier, public key, counter,
// and backup flags.
func storedWebAuthnCredential(record storage.Credential) (webauthn.Credential, error) {
	rawID, err := decodeCredentialID(record.ExternalID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id %s: %w", record.ExternalID, err)
	}
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: record.PublicKey,
		Flags: webauthn.CredentialFlags{
			BackupEligible: record.BackupEligible,
			BackupState:    record.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: record.SignCount,
		},
	}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}
