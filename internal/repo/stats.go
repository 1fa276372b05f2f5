// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (weak ETags) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// HistoryStats returns aggregate metadata for a user's digests: the total
// number of rows and the greatest SentAt among them (nil when no rows).
//
// A read marker does not change the stats; list responses carry readAt, so
// callers that need read state in the ETag must fold it in themselves.
func HistoryStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxSentAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.DigestHistory{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest sent_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		SentAt time.Time
	}
	if err = q.Select("sent_at").Order("sent_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.SentAt, nil
}

// UnreadCount returns how many of userID's digests have not been opened.
func UnreadCount(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DigestHistory{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&n).Error
	return n, err
}
