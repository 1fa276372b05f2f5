// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DigestHistory model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// CreateHistory inserts a history record. ID and SentAt are filled in when
// zero.
func CreateHistory(ctx context.Context, db *gorm.DB, h *domain.DigestHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.SentAt.IsZero() {
		h.SentAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(h).Error
}

// GetHistory fetches a single digest by id and owner, or ErrNotFound.
func GetHistory(ctx context.Context, db *gorm.DB, id, userID string) (*domain.DigestHistory, error) {
	var h domain.DigestHistory
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CountHistory returns the number of digests stored for userID.
func CountHistory(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DigestHistory{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListHistoryPage returns a page of digests for userID, newest first
// (sent_at DESC, id DESC).
func ListHistoryPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.DigestHistory, error) {
	out := []domain.DigestHistory{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sent_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetHistoryNotification records the push ticket id for a delivered digest.
// ErrNotFound is returned when the digest does not exist for userID.
func SetHistoryNotification(ctx context.Context, db *gorm.DB, id, userID, notificationID string) error {
	res := db.WithContext(ctx).
		Model(&domain.DigestHistory{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("notification_id", notificationID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkHistoryRead sets read_at once. It reports whether this call performed
// the transition; a second call leaves the original timestamp untouched.
// ErrNotFound is returned when the digest does not exist for userID.
func MarkHistoryRead(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DigestHistory{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Distinguish "already read" from "missing".
	if _, err := GetHistory(ctx, db, id, userID); err != nil {
		return false, err
	}
	return false, nil
}
