package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/repo"
)

// SQL adapts the repo free functions to the service contracts.
type SQL struct {
	DB *gorm.DB
}

// NewSQL returns a SQL backend over db. The schema must already be migrated.
func NewSQL(db *gorm.DB) *SQL { return &SQL{DB: db} }

func (s *SQL) GetSettings(ctx context.Context, userID string) (*domain.DigestSettings, error) {
	return repo.GetSettings(ctx, s.DB, userID)
}

func (s *SQL) UpsertSettings(ctx context.Context, st *domain.DigestSettings) error {
	return repo.UpsertSettings(ctx, s.DB, st)
}

func (s *SQL) SetPushToken(ctx context.Context, userID, token string) error {
	return repo.SetPushToken(ctx, s.DB, userID, token)
}

func (s *SQL) ListDue(ctx context.Context, utcHour int) ([]domain.DigestSettings, error) {
	return repo.ListDueSettings(ctx, s.DB, utcHour)
}

func (s *SQL) CreateHistory(ctx context.Context, h *domain.DigestHistory) error {
	return repo.CreateHistory(ctx, s.DB, h)
}

func (s *SQL) GetHistory(ctx context.Context, id, userID string) (*domain.DigestHistory, error) {
	return repo.GetHistory(ctx, s.DB, id, userID)
}

func (s *SQL) ListHistoryPage(ctx context.Context, userID string, offset, limit int) ([]domain.DigestHistory, error) {
	return repo.ListHistoryPage(ctx, s.DB, userID, offset, limit)
}

func (s *SQL) CountHistory(ctx context.Context, userID string) (int64, error) {
	return repo.CountHistory(ctx, s.DB, userID)
}

func (s *SQL) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return repo.MarkHistoryRead(ctx, s.DB, id, userID, at)
}

func (s *SQL) SetNotificationID(ctx context.Context, id, userID, notificationID string) error {
	return repo.SetHistoryNotification(ctx, s.DB, id, userID, notificationID)
}

func (s *SQL) HistoryStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.HistoryStats(ctx, s.DB, userID)
}

func (s *SQL) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return repo.UnreadCount(ctx, s.DB, userID)
}

func (s *SQL) GetIdempotency(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.DB, userID, scope, key, now)
}

func (s *SQL) CreateIdempotency(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, s.DB, userID, scope, key, resourceID, status, ttl)
}

func (s *SQL) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, now)
}
