package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetCodeWalksChain(t *testing.T) {
	base := New(CodePossibleClone, "counter regressed")
	wrapped := fmt.Errorf("finish login: %w", base)

	if code := GetCode(wrapped); code != CodePossibleClone {
		t.Fatalf("GetCode = %q, want %q", code, CodePossibleClone)
	}
}

func TestGetCodeUnknown(t *testing.T) {
	if code := GetCode(stderrors.New("plain")); code != CodeUnknown {
		t.Fatalf("GetCode plain = %q, want %q", code, CodeUnknown)
	}
	if code := GetCode(nil); code != CodeUnknown {
		t.Fatalf("GetCode nil = %q, want %q", code, CodeUnknown)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeRecoveryInvalid, "recovery code is invalid or expired")
	other := New(CodeRecoveryInvalid, "recovery code already exists")

	if !stderrors.Is(other, sentinel) {
		t.Fatal("errors with the same code should match")
	}
	if stderrors.Is(New(CodeNotFound, "x"), sentinel) {
		t.Fatal("errors with different codes should not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("underlying")
	wrapped := Wrap(CodeChallengeMismatch, "verify response", cause)

	if !stderrors.Is(wrapped, cause) {
		t.Fatal("wrapped error should expose its cause")
	}
	if wrapped.Error() != "verify response" {
		t.Fatalf("message = %q", wrapped.Error())
	}
}

func TestVerificationFailuresShareStatus(t *testing.T) {
	codes := []Code{CodeChallengeNotFound, CodeChallengeMismatch, CodeCredentialNotFound, CodePossibleClone}
	for _, code := range codes {
		if status := code.HTTPStatus(); status != http.StatusUnprocessableEntity {
			t.Errorf("%s status = %d, want 422", code, status)
		}
	}
}
