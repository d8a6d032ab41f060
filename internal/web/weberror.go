package web

import (
	"net/http"

	apperrors "github.com/repset/repset/internal/platform/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// verificationFailed is the single wire code for every rejected ceremony
// response. Missing challenges, mismatched signatures, unknown
// credentials, and clone suspicions are indistinguishable to callers.
const verificationFailed = "VERIFICATION_FAILED"

func wireCode(code apperrors.Code) string {
	switch code {
	case apperrors.CodeChallengeNotFound, apperrors.CodeChallengeMismatch,
		apperrors.CodeCredentialNotFound, apperrors.CodePossibleClone:
		return verificationFailed
	default:
		return string(code)
	}
}

// publicMessage resolves a caller-safe error message. Unknown errors get
// the generic status text so internals never leak.
func publicMessage(err error, code apperrors.Code, status int) string {
	if wireCode(code) == verificationFailed {
		return "credential could not be verified"
	}
	if typed, ok := err.(*apperrors.Error); ok && typed.Message != "" && status < http.StatusInternalServerError {
		return typed.Message
	}
	return http.StatusText(status)
}

// writeError maps a domain error onto the wire.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    wireCode(code),
		Message: publicMessage(err, code, status),
	}})
}
