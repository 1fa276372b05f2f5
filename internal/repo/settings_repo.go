// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DigestSettings model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. They follow the "thin repository" approach: no
// business logic (validation and UTC recomputation belong to the services
// package), only persistence and query composition.
//
// Error semantics:
//   - When settings are not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - GetSettings(ctx, db, userID) -> *domain.DigestSettings, error
//   - UpsertSettings(ctx, db, s) -> error
//     Inserts or, on user_id conflict, overwrites every editable and
//     derived column in one statement.
//   - SetPushToken(ctx, db, userID, token) -> error
//     Updates only the push token; ErrNotFound when the user has no row.
//   - ListDueSettings(ctx, db, utcHour) -> []domain.DigestSettings, error
//     Eligibility query for one scheduler tick.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the store and service layers.
var ErrNotFound = gorm.ErrRecordNotFound

// settingsUpsertColumns are overwritten when a row for the user already exists.
var settingsUpsertColumns = []string{
	"enabled", "schedule_time", "timezone", "topics", "custom_prompt",
	"language", "push_token", "utc_hour", "utc_minute", "updated_at",
}

// GetSettings fetches the settings row for userID or returns ErrNotFound.
func GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.DigestSettings, error) {
	var s domain.DigestSettings
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSettings writes s keyed by its UserID. A missing ID is generated and
// timestamps are set in UTC. On conflict the existing row keeps its ID and
// CreatedAt; s is refreshed from the stored row afterwards.
func UpsertSettings(ctx context.Context, db *gorm.DB, s *domain.DigestSettings) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(settingsUpsertColumns),
		}).
		Create(s).Error
	if err != nil {
		return err
	}

	stored, err := GetSettings(ctx, db, s.UserID)
	if err != nil {
		return err
	}
	*s = *stored
	return nil
}

// SetPushToken updates the push token of an existing settings row.
func SetPushToken(ctx context.Context, db *gorm.DB, userID, token string) error {
	res := db.WithContext(ctx).
		Model(&domain.DigestSettings{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"push_token": token, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueSettings returns enabled settings with a non-empty push token whose
// cached UTC trigger hour equals utcHour, ordered by user id for stable runs.
// An empty slice is a normal outcome.
func ListDueSettings(ctx context.Context, db *gorm.DB, utcHour int) ([]domain.DigestSettings, error) {
	out := []domain.DigestSettings{}
	err := db.WithContext(ctx).
		Where("enabled = ? AND utc_hour = ?", true, utcHour).
		Where("push_token IS NOT NULL AND TRIM(push_token) <> ''").
		Order("user_id ASC").
		Find(&out).Error
	return out, err
}
