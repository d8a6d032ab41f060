package session

import (
	"context"
	"testing"
	"time"

	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/user"
)

type fakeSessionStore struct {
	sessions map[string]storage.WebSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]storage.WebSession)}
}

func (f *fakeSessionStore) PutWebSession(_ context.Context, session storage.WebSession) error {
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionStore) GetWebSession(_ context.Context, id string) (storage.WebSession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return storage.WebSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) RevokeWebSession(_ context.Context, id string, revokedAt time.Time) error {
	session, ok := f.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &revokedAt
		f.sessions[id] = session
	}
	return nil
}

func (f *fakeSessionStore) DeleteExpiredWebSessions(_ context.Context, now time.Time) error {
	for id, session := range f.sessions {
		if !session.ExpiresAt.After(now) {
			delete(f.sessions, id)
		}
	}
	return nil
}

type fakeUserStore struct {
	users map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]user.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, u user.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (f *fakeUserStore) DeleteUser(_ context.Context, userID string) error {
	delete(f.users, userID)
	return nil
}

func newTestManager(now time.Time) (*Manager, *fakeSessionStore, *fakeUserStore) {
	sessions := newFakeSessionStore()
	users := newFakeUserStore()
	manager := NewManager(sessions, users).WithClock(func() time.Time { return now })
	return manager, sessions, users
}

func TestEstablishAndResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager, _, users := newTestManager(now)
	users.users["user-1"] = user.User{ID: "user-1", Email: "lifter@example.com"}

	session, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if session.UserID != "user-1" {
		t.Fatalf("session user = %q", session.UserID)
	}
	if !session.ExpiresAt.After(now) {
		t.Fatalf("session should expire in the future, got %v", session.ExpiresAt)
	}

	resolved, account, err := manager.Resolve(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID != session.ID {
		t.Fatalf("resolved id = %q, want %q", resolved.ID, session.ID)
	}
	if account.Email != "lifter@example.com" {
		t.Fatalf("account email = %q", account.Email)
	}
}

func TestResolveUnknownSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(now)

	if _, _, err := manager.Resolve(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Resolve unknown = %v, want ErrNotFound", err)
	}
}

func TestResolveExpiredSession(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sessions := newFakeSessionStore()
	users := newFakeUserStore()
	manager := NewManager(sessions, users).WithClock(func() time.Time { return current })
	users.users["user-1"] = user.User{ID: "user-1"}

	session, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	current = session.ExpiresAt
	if _, _, err := manager.Resolve(context.Background(), session.ID); err != ErrNotFound {
		t.Fatalf("Resolve expired = %v, want ErrNotFound", err)
	}
}

func TestRevokeEndsSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager, _, users := newTestManager(now)
	users.users["user-1"] = user.User{ID: "user-1"}

	session, err := manager.Establish(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if err := manager.Revoke(context.Background(), session.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, err := manager.Resolve(context.Background(), session.ID); err != ErrNotFound {
		t.Fatalf("Resolve revoked = %v, want ErrNotFound", err)
	}
}

func TestRevokeUnknownSessionSucceeds(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager, _, _ := newTestManager(now)

	if err := manager.Revoke(context.Background(), "missing"); err != nil {
		t.Fatalf("Revoke unknown = %v, want nil", err)
	}
	if err := manager.Revoke(context.Background(), ""); err != nil {
		t.Fatalf("Revoke empty = %v, want nil", err)
	}
}
