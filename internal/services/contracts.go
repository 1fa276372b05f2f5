// Package services – collaborator contracts
//
// The services depend only on these interfaces. Storage implementations live
// in internal/store (GORM/SQLite and in-memory), the content provider in
// internal/grounding, and the push dispatcher in internal/push.
//
// Not-found conditions are reported by stores as repo.ErrNotFound; services
// translate them into ErrSettingsNotFound / ErrDigestNotFound.
package services

import (
	"context"
	"time"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// SettingsStore persists one DigestSettings record per user.
type SettingsStore interface {
	// GetSettings returns the user's settings or repo.ErrNotFound.
	GetSettings(ctx context.Context, userID string) (*domain.DigestSettings, error)

	// UpsertSettings inserts or replaces the record keyed by s.UserID. The
	// stored identity (ID, CreatedAt) is written back into s.
	UpsertSettings(ctx context.Context, s *domain.DigestSettings) error

	// SetPushToken replaces the token of an existing record.
	SetPushToken(ctx context.Context, userID, token string) error

	// ListDue returns enabled records with a push token whose UTC hour
	// equals utcHour.
	ListDue(ctx context.Context, utcHour int) ([]domain.DigestSettings, error)
}

// HistoryStore persists generated digests.
type HistoryStore interface {
	CreateHistory(ctx context.Context, h *domain.DigestHistory) error
	GetHistory(ctx context.Context, id, userID string) (*domain.DigestHistory, error)
	ListHistoryPage(ctx context.Context, userID string, offset, limit int) ([]domain.DigestHistory, error)
	CountHistory(ctx context.Context, userID string) (int64, error)

	// MarkRead sets ReadAt once and reports whether this call set it.
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// SetNotificationID stores the push ticket id of an accepted notification.
	SetNotificationID(ctx context.Context, id, userID, notificationID string) error
}

// IdempotencyStore records replayable outcomes of side-effecting requests.
type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// ContentProvider generates a grounded digest for a set of topics.
type ContentProvider interface {
	Generate(ctx context.Context, topics []string, language, customPrompt string) (*domain.DigestContent, error)
}

// ProviderPinger runs a cheap end-to-end check against the content provider.
type ProviderPinger interface {
	Ping(ctx context.Context) (*domain.DigestContent, error)
}

// Notifier delivers the "digest ready" push. It never returns an error:
// failures come back as tickets with status "error".
type Notifier interface {
	SendDigest(ctx context.Context, token, digestID, title, preview string) domain.PushTicket
}
