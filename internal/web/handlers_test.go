package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/repset/repset/internal/auth/ceremony"
	"github.com/repset/repset/internal/auth/recovery"
	"github.com/repset/repset/internal/auth/session"
	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
	"github.com/repset/repset/internal/web/sessioncookie"
)

// scriptedCeremonies records calls and returns canned results.
type scriptedCeremonies struct {
	beginResult    ceremony.BeginResult
	beginErr       error
	completeResult ceremony.CompleteResult
	completeErr    error
	recoveryErr    error
	confirmErr     error
	logoutErr      error

	lastClientID string
	lastEmail    string
	lastCode     string
	lastResponse []byte
	lastNickname string
	lastTimezone string
	logoutWebID  string
}

func (s *scriptedCeremonies) BeginRegistration(_ context.Context, clientSessionID string, email string) (ceremony.BeginResult, error) {
	s.lastClientID, s.lastEmail = clientSessionID, email
	return s.beginResult, s.beginErr
}

func (s *scriptedCeremonies) FinishRegistration(_ context.Context, clientSessionID string, responseJSON []byte, nickname string, timezone string) (ceremony.CompleteResult, error) {
	s.lastClientID, s.lastResponse, s.lastNickname = clientSessionID, responseJSON, nickname
	s.lastTimezone = timezone
	return s.completeResult, s.completeErr
}

func (s *scriptedCeremonies) BeginLogin(_ context.Context, clientSessionID string, email string) (ceremony.BeginResult, error) {
	s.lastClientID, s.lastEmail = clientSessionID, email
	return s.beginResult, s.beginErr
}

func (s *scriptedCeremonies) FinishLogin(_ context.Context, clientSessionID string, responseJSON []byte) (ceremony.CompleteResult, error) {
	s.lastClientID, s.lastResponse = clientSessionID, responseJSON
	return s.completeResult, s.completeErr
}

func (s *scriptedCeremonies) RequestRecovery(_ context.Context, email string) error {
	s.lastEmail = email
	return s.recoveryErr
}

func (s *scriptedCeremonies) ConfirmRecovery(_ context.Context, clientSessionID string, code string) error {
	s.lastClientID, s.lastCode = clientSessionID, code
	return s.confirmErr
}

func (s *scriptedCeremonies) BeginRecoveryRegistration(_ context.Context, clientSessionID string) (ceremony.BeginResult, error) {
	s.lastClientID = clientSessionID
	return s.beginResult, s.beginErr
}

func (s *scriptedCeremonies) FinishRecoveryRegistration(_ context.Context, clientSessionID string, responseJSON []byte, nickname string) (ceremony.CompleteResult, error) {
	s.lastClientID, s.lastResponse, s.lastNickname = clientSessionID, responseJSON, nickname
	return s.completeResult, s.completeErr
}

func (s *scriptedCeremonies) Logout(_ context.Context, clientSessionID string, webSessionID string) error {
	s.lastClientID, s.logoutWebID = clientSessionID, webSessionID
	return s.logoutErr
}

type scriptedSessions struct {
	session storage.WebSession
	account user.User
	err     error
}

func (s *scriptedSessions) Resolve(_ context.Context, _ string) (storage.WebSession, user.User, error) {
	return s.session, s.account, s.err
}

func newTestHandler(ceremonies *scriptedCeremonies, sessions *scriptedSessions) *Handler {
	if sessions == nil {
		sessions = &scriptedSessions{err: session.ErrNotFound}
	}
	seq := 0
	return &Handler{
		ceremonies: ceremonies,
		sessions:   sessions,
		idGenerator: func() (string, error) {
			seq++
			return "client-generated", nil
		},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func cookieByName(t *testing.T, recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestRegisterBeginMintsClientCookie(t *testing.T) {
	ceremonies := &scriptedCeremonies{beginResult: ceremony.BeginResult{Options: json.RawMessage(`{"challenge":"abc"}`)}}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/register/begin", `{"email":"lifter@example.com"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
	if ceremonies.lastEmail != "lifter@example.com" {
		t.Fatalf("email = %q", ceremonies.lastEmail)
	}
	if ceremonies.lastClientID != "client-generated" {
		t.Fatalf("client id = %q, want minted", ceremonies.lastClientID)
	}

	cookie := cookieByName(t, recorder, sessioncookie.ClientName)
	if cookie == nil || cookie.Value != "client-generated" {
		t.Fatalf("client cookie = %+v", cookie)
	}
	if cc := recorder.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Fatalf("cache-control = %q", cc)
	}

	var payload struct {
		PublicKey json.RawMessage `json:"public_key"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if string(payload.PublicKey) != `{"challenge":"abc"}` {
		t.Fatalf("public_key = %s", payload.PublicKey)
	}
}

func TestRegisterBeginReusesClientCookie(t *testing.T) {
	ceremonies := &scriptedCeremonies{beginResult: ceremony.BeginResult{Options: json.RawMessage(`{}`)}}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/register/begin", `{"email":"lifter@example.com"}`,
		&http.Cookie{Name: sessioncookie.ClientName, Value: "existing-client"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if ceremonies.lastClientID != "existing-client" {
		t.Fatalf("client id = %q, want existing-client", ceremonies.lastClientID)
	}
	if cookie := cookieByName(t, recorder, sessioncookie.ClientName); cookie != nil {
		t.Fatalf("existing cookie should not be reminted, got %+v", cookie)
	}
}

func TestRegisterCompleteSetsSessionCookie(t *testing.T) {
	ceremonies := &scriptedCeremonies{completeResult: ceremony.CompleteResult{
		User:         user.User{ID: "user-1", Email: "lifter@example.com", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		Session:      storage.WebSession{ID: "web-session-1"},
		CredentialID: "credential-1",
	}}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/register/complete", `{"credential":{"id":"x"},"nickname":"phone","timezone":"America/Toronto"}`,
		&http.Cookie{Name: sessioncookie.ClientName, Value: "client-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
	if ceremonies.lastNickname != "phone" {
		t.Fatalf("nickname = %q", ceremonies.lastNickname)
	}
	if ceremonies.lastTimezone != "America/Toronto" {
		t.Fatalf("timezone = %q", ceremonies.lastTimezone)
	}

	cookie := cookieByName(t, recorder, sessioncookie.SessionName)
	if cookie == nil || cookie.Value != "web-session-1" {
		t.Fatalf("session cookie = %+v", cookie)
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}
}

func TestRegisterCompleteWithoutClientCookie(t *testing.T) {
	ceremonies := &scriptedCeremonies{}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/register/complete", `{"credential":{"id":"x"}}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
}

func TestVerificationFailuresShareOneWireCode(t *testing.T) {
	failures := []error{
		ceremony.ErrChallengeNotFound,
		ceremony.ErrChallengeMismatch,
		ceremony.ErrCredentialNotFound,
		ceremony.ErrPossibleClone,
	}
	for _, failure := range failures {
		ceremonies := &scriptedCeremonies{completeErr: failure}
		handler := newTestHandler(ceremonies, nil).Routes()

		recorder := postJSON(t, handler, "/auth/login/complete", `{"credential":{"id":"x"}}`,
			&http.Cookie{Name: sessioncookie.ClientName, Value: "client-1"})
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%v: status = %d, want 422", failure, recorder.Code)
		}
		var payload errorBody
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Error.Code != "VERIFICATION_FAILED" {
			t.Fatalf("%v: wire code = %q, want VERIFICATION_FAILED", failure, payload.Error.Code)
		}
	}
}

func TestLoginBeginUnknownEmail(t *testing.T) {
	ceremonies := &scriptedCeremonies{beginErr: ceremony.ErrUserNotFound}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/login/begin", `{"email":"nobody@example.com"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestRecoveryRequestAlwaysAccepted(t *testing.T) {
	ceremonies := &scriptedCeremonies{}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/recovery/request", `{"email":"anyone@example.com"}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", recorder.Code)
	}
	if ceremonies.lastEmail != "anyone@example.com" {
		t.Fatalf("email = %q", ceremonies.lastEmail)
	}
}

func TestRecoveryConfirmInvalidCode(t *testing.T) {
	ceremonies := &scriptedCeremonies{confirmErr: recovery.ErrInvalidOrExpired}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/recovery/confirm", `{"code":"000000"}`)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	ceremonies := &scriptedCeremonies{}
	handler := newTestHandler(ceremonies, nil).Routes()

	recorder := postJSON(t, handler, "/auth/logout", ``,
		&http.Cookie{Name: sessioncookie.ClientName, Value: "client-1"},
		&http.Cookie{Name: sessioncookie.SessionName, Value: "web-session-1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if ceremonies.logoutWebID != "web-session-1" {
		t.Fatalf("revoked session = %q", ceremonies.logoutWebID)
	}

	cookie := cookieByName(t, recorder, sessioncookie.SessionName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatalf("session cookie = %+v, want expired", cookie)
	}
}

func TestSessionEndpoint(t *testing.T) {
	sessions := &scriptedSessions{
		session: storage.WebSession{ID: "web-session-1", UserID: "user-1"},
		account: user.User{ID: "user-1", Email: "lifter@example.com"},
	}
	handler := newTestHandler(&scriptedCeremonies{}, sessions).Routes()

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: sessioncookie.SessionName, Value: "web-session-1"})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.User.ID != "user-1" || payload.User.Email != "lifter@example.com" {
		t.Fatalf("user = %+v", payload.User)
	}
}

func TestSessionEndpointWithoutCookie(t *testing.T) {
	handler := newTestHandler(&scriptedCeremonies{}, nil).Routes()

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestSessionEndpointRevokedSession(t *testing.T) {
	sessions := &scriptedSessions{err: session.ErrNotFound}
	handler := newTestHandler(&scriptedCeremonies{}, sessions).Routes()

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: sessioncookie.SessionName, Value: "revoked"})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	handler := newTestHandler(&scriptedCeremonies{}, nil).Routes()

	recorder := postJSON(t, handler, "/auth/register/begin", `{not json`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}
