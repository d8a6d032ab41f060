// Package app composes the auth service into a runnable HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/repset/repset/internal/auth/ceremony"
	"github.com/repset/repset/internal/auth/challenge"
	"github.com/repset/repset/internal/auth/mail"
	"github.com/repset/repset/internal/auth/passkey"
	"github.com/repset/repset/internal/auth/recovery"
	"github.com/repset/repset/internal/auth/session"
	authsqlite "github.com/repset/repset/internal/auth/storage/sqlite"
	"github.com/repset/repset/internal/platform/otel"
	"github.com/repset/repset/internal/web"
)

const sessionCleanupInterval = time.Hour

// Server hosts the auth HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	sessions   *session.Manager
}

// New creates a configured server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	challenges := challenge.NewStore(passkeyConfig.ChallengeTTL, time.Now)
	issuer := recovery.NewIssuer(store)
	sessions := session.NewManager(store, store)

	service := ceremony.NewService(ceremony.Dependencies{
		Users:       store,
		Credentials: store,
		Commits:     store,
		Challenges:  challenges,
		Recovery:    issuer,
		Sessions:    sessions,
		Mailer:      mail.LogMailer{},
		Config:      passkeyConfig,
	})

	handler := web.NewHandler(service)
	httpServer := &http.Server{Handler: handler.Routes()}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
		sessions:   sessions,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	server, err := New(httpAddr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	otelShutdown, err := otel.Setup(serverCtx, "repset-auth")
	if err != nil {
		log.Printf("otel setup: %v", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	s.startSessionCleanup(serverCtx)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startSessionCleanup deletes expired web sessions on a fixed interval so
// the sessions table does not grow without bound.
func (s *Server) startSessionCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.DeleteExpiredWebSessions(ctx, time.Now().UTC()); err != nil {
					log.Printf("delete expired web sessions: %v", err)
				}
			}
		}
	}()
}

func openStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("REPSET_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "repset.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
