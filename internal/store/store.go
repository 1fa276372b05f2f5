// Package store provides the storage backends behind the service contracts.
//
// Two implementations are available and selected once at startup via
// STORAGE_BACKEND:
//
//   - SQL:    GORM over SQLite, delegating to the repo package.
//   - Memory: mutex-guarded maps for local development and tests.
//
// Both report missing rows as repo.ErrNotFound and duplicate idempotency keys
// as repo.ErrDuplicate, so services behave identically on either backend.
package store

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-digest-backend/internal/repo"
)

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Backend is the full persistence surface used by the HTTP layer and the
// scheduler.
type Backend interface {
	SettingsBackend
	HistoryBackend
	IdempotencyBackend
}

// Open builds the backend named by kind. For "sqlite" the database at dbPath
// is opened and migrated; the returned *gorm.DB is nil for "memory".
func Open(kind, dbPath string) (Backend, *gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", BackendSQLite:
		db, err := repo.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := repo.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return NewSQL(db), db, nil
	case BackendMemory:
		return NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
