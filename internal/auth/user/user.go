// Package user provides the authenticated account entity.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/repset/repset/internal/platform/errors"
	"github.com/repset/repset/internal/platform/id"
)

var (
	// ErrInvalidEmail indicates a missing or malformed email address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeEmailInvalid, "a valid email address is required")
	// ErrInvalidTimezone indicates a timezone outside the IANA database.
	ErrInvalidTimezone = apperrors.New(apperrors.CodeTimezoneInvalid, "timezone is not a valid IANA zone")
)

// User represents an account identity.
//
// Handle is the opaque value presented to authenticators as the WebAuthn
// user handle. It is fixed at creation and never reused across users,
// independent of the database identifier.
type User struct {
	ID        string
	Email     string
	Handle    string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes the metadata needed to create a user.
//
// Handle carries the authenticator user handle minted when the
// registration ceremony began; when empty a fresh handle is generated.
type CreateUserInput struct {
	Email    string
	Timezone string
	Handle   string
}

// NormalizeEmail trims and lowercases an email address for lookups and
// storage. Emails compare case-insensitively everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail enforces the canonical address constraint shared by signup,
// signin, and recovery entry points.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateTimezone accepts an empty zone or any IANA database name.
func ValidateTimezone(zone string) error {
	if zone == "" {
		return nil
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return ErrInvalidTimezone
	}
	return nil
}

// NewHandle generates a fresh WebAuthn user handle.
func NewHandle() (string, error) {
	return id.NewHandle()
}

// CreateUser creates a durable account identity from validated input.
//
// This is the single point where an unclaimed email becomes an account; it
// only ever runs as the terminal step of a successful registration ceremony.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}
	handle := normalized.Handle
	if handle == "" {
		handle, err = NewHandle()
		if err != nil {
			return User{}, fmt.Errorf("generate user handle: %w", err)
		}
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Email:     normalized.Email,
		Handle:    handle,
		Timezone:  normalized.Timezone,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	input.Timezone = strings.TrimSpace(input.Timezone)
	if err := ValidateTimezone(input.Timezone); err != nil {
		return CreateUserInput{}, err
	}
	return input, nil
}
