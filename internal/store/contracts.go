package store

import (
	"context"
	"time"

	"github.com/tbourn/go-digest-backend/internal/services"
)

// SettingsBackend is services.SettingsStore.
type SettingsBackend = services.SettingsStore

// HistoryBackend extends services.HistoryStore with the aggregates used for
// conditional list responses.
type HistoryBackend interface {
	services.HistoryStore

	// HistoryStats returns the row count and newest SentAt (nil when empty).
	HistoryStats(ctx context.Context, userID string) (int64, *time.Time, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// IdempotencyBackend extends services.IdempotencyStore with housekeeping.
type IdempotencyBackend interface {
	services.IdempotencyStore

	PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)
}

var (
	_ Backend = (*SQL)(nil)
	_ Backend = (*Memory)(nil)
)
