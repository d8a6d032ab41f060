// Package web exposes the passkey auth flows over HTTP with JSON bodies.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/repset/repset/internal/auth/ceremony"
	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
	"github.com/repset/repset/internal/platform/id"
	"github.com/repset/repset/internal/web/sessioncookie"
)

// ceremonyService is the flow surface the handlers drive. Narrowed to an
// interface so tests can substitute a scripted service.
type ceremonyService interface {
	BeginRegistration(ctx context.Context, clientSessionID string, email string) (ceremony.BeginResult, error)
	FinishRegistration(ctx context.Context, clientSessionID string, responseJSON []byte, nickname string, timezone string) (ceremony.CompleteResult, error)
	BeginLogin(ctx context.Context, clientSessionID string, email string) (ceremony.BeginResult, error)
	FinishLogin(ctx context.Context, clientSessionID string, responseJSON []byte) (ceremony.CompleteResult, error)
	RequestRecovery(ctx context.Context, email string) error
	ConfirmRecovery(ctx context.Context, clientSessionID string, code string) error
	BeginRecoveryRegistration(ctx context.Context, clientSessionID string) (ceremony.BeginResult, error)
	FinishRecoveryRegistration(ctx context.Context, clientSessionID string, responseJSON []byte, nickname string) (ceremony.CompleteResult, error)
	Logout(ctx context.Context, clientSessionID string, webSessionID string) error
}

type sessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (storage.WebSession, user.User, error)
}

// Handler serves the auth HTTP surface.
type Handler struct {
	ceremonies  ceremonyService
	sessions    sessionResolver
	idGenerator func() (string, error)
}

// NewHandler builds the HTTP handler around a ceremony service.
func NewHandler(service *ceremony.Service) *Handler {
	return &Handler{
		ceremonies:  service,
		sessions:    service.Sessions(),
		idGenerator: id.NewID,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// noStore marks auth responses uncacheable; challenges, session state,
// and recovery acknowledgements must never come from a cache.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

// clientSession returns the browser session id, minting the cookie on
// first contact so the begin and complete requests of a ceremony share a
// key.
func (h *Handler) clientSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if clientID, ok := sessioncookie.ReadClient(r); ok {
		return clientID, nil
	}
	clientID, err := h.idGenerator()
	if err != nil {
		return "", err
	}
	sessioncookie.WriteClient(w, r, clientID)
	return clientID, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_BODY",
			Message: "request body is not valid json",
		}})
		return false
	}
	return true
}

func requireField(w http.ResponseWriter, value string, message string) bool {
	if strings.TrimSpace(value) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_BODY",
			Message: message,
		}})
		return false
	}
	return true
}

type userPayload struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserPayload(u user.User) userPayload {
	return userPayload{
		ID:        u.ID,
		Email:     u.Email,
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) writeBegin(w http.ResponseWriter, result ceremony.BeginResult) {
	writeJSON(w, http.StatusOK, map[string]any{
		"public_key": result.Options,
	})
}

func (h *Handler) writeComplete(w http.ResponseWriter, r *http.Request, result ceremony.CompleteResult) {
	sessioncookie.WriteSession(w, r, result.Session.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          toUserPayload(result.User),
		"credential_id": result.CredentialID,
	})
}

// handleRegisterBegin starts a signup ceremony for a new email.
func (h *Handler) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if !requireField(w, payload.Email, "email is required") {
		return
	}
	clientID, err := h.clientSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.ceremonies.BeginRegistration(r.Context(), clientID, payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBegin(w, result)
}

// handleRegisterComplete verifies the attestation response and creates
// the account.
func (h *Handler) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Credential json.RawMessage `json:"credential"`
		Nickname   string          `json:"nickname"`
		Timezone   string          `json:"timezone"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if len(payload.Credential) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_BODY",
			Message: "credential is required",
		}})
		return
	}
	clientID, ok := sessioncookie.ReadClient(r)
	if !ok {
		writeError(w, ceremony.ErrChallengeNotFound)
		return
	}
	result, err := h.ceremonies.FinishRegistration(r.Context(), clientID, payload.Credential, payload.Nickname, payload.Timezone)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeComplete(w, r, result)
}

// handleLoginBegin starts an authentication ceremony.
func (h *Handler) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if !requireField(w, payload.Email, "email is required") {
		return
	}
	clientID, err := h.clientSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.ceremonies.BeginLogin(r.Context(), clientID, payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBegin(w, result)
}

// handleLoginComplete verifies the assertion response and signs the user
// in.
func (h *Handler) handleLoginComplete(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Credential json.RawMessage `json:"credential"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if len(payload.Credential) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_BODY",
			Message: "credential is required",
		}})
		return
	}
	clientID, ok := sessioncookie.ReadClient(r)
	if !ok {
		writeError(w, ceremony.ErrChallengeNotFound)
		return
	}
	result, err := h.ceremonies.FinishLogin(r.Context(), clientID, payload.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeComplete(w, r, result)
}

// handleRecoveryRequest issues a recovery code. The acknowledgement is
// identical for known and unknown emails.
func (h *Handler) handleRecoveryRequest(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if !requireField(w, payload.Email, "email is required") {
		return
	}
	if err := h.ceremonies.RequestRecovery(r.Context(), payload.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok"})
}

// handleRecoveryConfirm redeems a submitted recovery code and binds the
// attempt to the browser session.
func (h *Handler) handleRecoveryConfirm(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if !requireField(w, payload.Code, "code is required") {
		return
	}
	clientID, err := h.clientSession(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ceremonies.ConfirmRecovery(r.Context(), clientID, payload.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleRecoveryRegisterBegin starts the replacement-credential ceremony
// for a confirmed recovery attempt.
func (h *Handler) handleRecoveryRegisterBegin(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	clientID, ok := sessioncookie.ReadClient(r)
	if !ok {
		writeError(w, ceremony.ErrChallengeNotFound)
		return
	}
	result, err := h.ceremonies.BeginRecoveryRegistration(r.Context(), clientID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBegin(w, result)
}

// handleRecoveryRegisterComplete commits the replacement credential and
// spends the recovery code.
func (h *Handler) handleRecoveryRegisterComplete(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	var payload struct {
		Credential json.RawMessage `json:"credential"`
		Nickname   string          `json:"nickname"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}
	if len(payload.Credential) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_BODY",
			Message: "credential is required",
		}})
		return
	}
	clientID, ok := sessioncookie.ReadClient(r)
	if !ok {
		writeError(w, ceremony.ErrChallengeNotFound)
		return
	}
	result, err := h.ceremonies.FinishRecoveryRegistration(r.Context(), clientID, payload.Credential, payload.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeComplete(w, r, result)
}

// handleLogout revokes the authenticated session and clears ceremony
// state. Logging out without a session still succeeds.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	clientID, _ := sessioncookie.ReadClient(r)
	sessionID, _ := sessioncookie.ReadSession(r)
	if err := h.ceremonies.Logout(r.Context(), clientID, sessionID); err != nil {
		log.Printf("web: logout: %v", err)
	}
	sessioncookie.ClearSession(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleSession reports the authenticated user for the session cookie.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	sessionID, ok := sessioncookie.ReadSession(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
			Code:    "SESSION_NOT_FOUND",
			Message: "no active session",
		}})
		return
	}
	_, account, err := h.sessions.Resolve(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserPayload(account)})
}
