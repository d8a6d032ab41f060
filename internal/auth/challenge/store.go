// Package challenge holds the per-client-session pending ceremony state.
//
// Challenges are secret, short-lived, and never outlive the browser
// session that requested them, so they live in memory keyed by the client
// session id instead of durable rows. Each session holds at most one
// pending ceremony; storing a new one overwrites the previous one, and a
// successful read consumes the entry so one signed response can be
// verified at most once.
package challenge

import (
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/repset/repset/internal/auth/passkey"
)

// Pending is the state of one in-flight ceremony between its begin and
// complete requests.
type Pending struct {
	Kind passkey.CeremonyKind
	// Email is the pending address for not-yet-created users
	// (registration) or the account address (login).
	Email string
	// UserID is set for ceremonies targeting an existing account.
	UserID string
	// UserHandle is the freshly generated handle for direct signup; the
	// account does not exist yet so the handle travels with the challenge.
	UserHandle string
	// RecoveryID ties a recovery-driven registration to its code.
	RecoveryID string
	// Session is the go-webauthn challenge material.
	Session webauthn.SessionData
}

type entry struct {
	pending   Pending
	expiresAt time.Time
}

type recoveryEntry struct {
	recoveryID string
	expiresAt  time.Time
}

// Store keeps pending ceremonies and recovery handles per client session.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	clock    func() time.Time
	pending  map[string]entry
	recovery map[string]recoveryEntry
}

// NewStore creates a challenge store whose entries expire after ttl.
func NewStore(ttl time.Duration, clock func() time.Time) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		ttl:      ttl,
		clock:    clock,
		pending:  make(map[string]entry),
		recovery: make(map[string]recoveryEntry),
	}
}

// Put stores the pending ceremony for a session, overwriting any previous
// one. Only the most recent ceremony per session is ever completable.
func (s *Store) Put(sessionID string, pending Pending) {
	if s == nil || sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = entry{
		pending:   pending,
		expiresAt: s.clock().Add(s.ttl),
	}
}

// Take returns and removes the pending ceremony for a session. Expired
// entries are dropped and reported as missing. The consuming read is what
// makes a replayed signed response fail on its second submission.
func (s *Store) Take(sessionID string) (Pending, bool) {
	if s == nil || sessionID == "" {
		return Pending{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pending[sessionID]
	if !ok {
		return Pending{}, false
	}
	delete(s.pending, sessionID)
	if !stored.expiresAt.After(s.clock()) {
		return Pending{}, false
	}
	return stored.pending, true
}

// PutRecoveryHandle records the confirmed recovery code for a session.
// The handle lives alongside the challenge slot so it survives the begin
// step of the replacement registration, and expires with the code window.
func (s *Store) PutRecoveryHandle(sessionID string, recoveryID string, expiresAt time.Time) {
	if s == nil || sessionID == "" || recoveryID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery[sessionID] = recoveryEntry{recoveryID: recoveryID, expiresAt: expiresAt}
}

// RecoveryHandle returns the live recovery handle for a session without
// consuming it; the begin and complete steps of the replacement
// registration both need it, and the commit transaction is what finally
// spends the code.
func (s *Store) RecoveryHandle(sessionID string) (string, bool) {
	if s == nil || sessionID == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.recovery[sessionID]
	if !ok {
		return "", false
	}
	if !stored.expiresAt.After(s.clock()) {
		delete(s.recovery, sessionID)
		return "", false
	}
	return stored.recoveryID, true
}

// Clear drops all ceremony state for a session. Called on ceremony
// completion (success or failure) and on logout.
func (s *Store) Clear(sessionID string) {
	if s == nil || sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
	delete(s.recovery, sessionID)
}
