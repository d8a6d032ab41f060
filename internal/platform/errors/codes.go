package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeAccountExists   Code = "ACCOUNT_EXISTS"
	CodeUserNotFound    Code = "USER_NOT_FOUND"
	CodeEmailInvalid    Code = "EMAIL_INVALID"
	CodeTimezoneInvalid Code = "TIMEZONE_INVALID"

	// Ceremony errors
	CodeChallengeNotFound   Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeMismatch   Code = "CHALLENGE_MISMATCH"
	CodeCredentialNotFound  Code = "CREDENTIAL_NOT_FOUND"
	CodePossibleClone       Code = "POSSIBLE_CLONE"
	CodeDuplicateCredential Code = "DUPLICATE_CREDENTIAL"

	// Recovery errors
	CodeRecoveryInvalid Code = "RECOVERY_INVALID"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeEmailInvalid, CodeTimezoneInvalid, CodeRecoveryInvalid:
		return http.StatusUnprocessableEntity

	case CodeAccountExists, CodeDuplicateCredential:
		return http.StatusConflict

	case CodeUserNotFound, CodeNotFound:
		return http.StatusNotFound

	case CodeSessionNotFound:
		return http.StatusUnauthorized

	// Verification failures share one status so callers cannot tell which
	// check rejected the response.
	case CodeChallengeNotFound, CodeChallengeMismatch,
		CodeCredentialNotFound, CodePossibleClone:
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
