// Package session manages durable authenticated web sessions.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
	apperrors "github.com/repset/repset/internal/platform/errors"
	"github.com/repset/repset/internal/platform/id"
)

// ErrNotFound indicates the session is missing, expired, or revoked.
// The three cases are indistinguishable to callers.
var ErrNotFound = apperrors.New(apperrors.CodeSessionNotFound, "web session not found")

// Config controls web session lifetime.
type Config struct {
	TTL time.Duration `env:"REPSET_WEB_SESSION_TTL" envDefault:"720h"`
}

// LoadConfigFromEnv returns session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil || cfg.TTL <= 0 {
		return Config{TTL: 720 * time.Hour}
	}
	return cfg
}

// Manager mints and resolves authenticated sessions.
type Manager struct {
	store       storage.WebSessionStore
	users       storage.UserStore
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewManager creates a session manager with production defaults.
func NewManager(store storage.WebSessionStore, users storage.UserStore) *Manager {
	return &Manager{
		store:       store,
		users:       users,
		config:      LoadConfigFromEnv(),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Establish mints a fresh authenticated session for a user. Ceremony
// completion is the only caller; the transport layer rotates the cookie
// so the pre-login session id never becomes an authenticated one.
func (m *Manager) Establish(ctx context.Context, userID string) (storage.WebSession, error) {
	if m == nil || m.store == nil {
		return storage.WebSession{}, fmt.Errorf("session store is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.WebSession{}, fmt.Errorf("user id is required")
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return storage.WebSession{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock().UTC()
	session := storage.WebSession{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	}
	if err := m.store.PutWebSession(ctx, session); err != nil {
		return storage.WebSession{}, fmt.Errorf("put web session: %w", err)
	}
	return session, nil
}

// Resolve returns the live session and its user, or ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (storage.WebSession, user.User, error) {
	if m == nil || m.store == nil || m.users == nil {
		return storage.WebSession{}, user.User{}, fmt.Errorf("session store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.WebSession{}, user.User{}, ErrNotFound
	}

	session, err := m.store.GetWebSession(ctx, sessionID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return storage.WebSession{}, user.User{}, ErrNotFound
		}
		return storage.WebSession{}, user.User{}, fmt.Errorf("get web session: %w", err)
	}
	now := m.clock().UTC()
	if session.RevokedAt != nil || !session.ExpiresAt.After(now) {
		return storage.WebSession{}, user.User{}, ErrNotFound
	}

	account, err := m.users.GetUser(ctx, session.UserID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return storage.WebSession{}, user.User{}, ErrNotFound
		}
		return storage.WebSession{}, user.User{}, fmt.Errorf("get session user: %w", err)
	}
	return session, account, nil
}

// Revoke invalidates a session. Revoking an unknown session succeeds.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session store is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := m.store.RevokeWebSession(ctx, sessionID, m.clock().UTC()); err != nil {
		if apperrors.GetCode(err) == apperrors.CodeNotFound {
			return nil
		}
		return fmt.Errorf("revoke web session: %w", err)
	}
	return nil
}

// WithClock overrides the manager clock for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	if clock != nil {
		m.clock = clock
	}
	return m
}
