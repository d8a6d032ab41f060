// Package sessioncookie centralizes auth cookie behavior.
//
// Two cookies back the flows: the client cookie identifies a browser
// session before sign-in and keys pending ceremony state; the session
// cookie carries the authenticated web session and is only ever written
// by a completed ceremony, so the pre-login identifier never becomes an
// authenticated one.
package sessioncookie

import (
	"net/http"
	"strings"
)

// ClientName is the pre-authentication browser session cookie.
const ClientName = "repset_client"

// SessionName is the authenticated web session cookie.
const SessionName = "repset_session"

func isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func read(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func write(w http.ResponseWriter, r *http.Request, name string, value string) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    strings.TrimSpace(value),
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clear(w http.ResponseWriter, r *http.Request, name string) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// ReadClient returns the trimmed client cookie value when present.
func ReadClient(r *http.Request) (string, bool) {
	return read(r, ClientName)
}

// WriteClient sets the client cookie for the current request context.
func WriteClient(w http.ResponseWriter, r *http.Request, clientID string) {
	write(w, r, ClientName, clientID)
}

// ReadSession returns the trimmed session cookie value when present.
func ReadSession(r *http.Request) (string, bool) {
	return read(r, SessionName)
}

// WriteSession sets the session cookie for the current request context.
func WriteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	write(w, r, SessionName, sessionID)
}

// ClearSession expires the session cookie for the current request context.
func ClearSession(w http.ResponseWriter, r *http.Request) {
	clear(w, r, SessionName)
}
