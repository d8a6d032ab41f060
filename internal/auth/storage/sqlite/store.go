// Package sqlite implements auth persistence over a single SQLite file.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/repset/repset/internal/auth/storage"
	"github.com/repset/repset/internal/auth/storage/sqlite/migrations"
	"github.com/repset/repset/internal/platform/storage/sqlitemigrate"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func millisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	restored := fromMillis(value.Int64)
	return &restored
}

// Store implements auth persistence over SQLite.
//
// A single SQLite file backs identity state so ceremony commits can run
// inside one transaction with shared visibility boundaries.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the raw database handle for maintenance callers.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens an auth SQLite store and applies bundled migrations.
//
// This keeps startup and schema evolution in one place, instead of requiring
// callers to coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// isUniqueViolation narrows a constraint error to a specific unique
// column so callers can map collisions to the right sentinel.
func isUniqueViolation(err error, column string) bool {
	return isConstraintError(err) && strings.Contains(err.Error(), column)
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CredentialStore = (*Store)(nil)
var _ storage.RecoveryCodeStore = (*Store)(nil)
var _ storage.WebSessionStore = (*Store)(nil)
var _ storage.CeremonyCommitStore = (*Store)(nil)
