// Package domain defines the persistence models for daily digests: per-user
// schedule settings and the history of generated digests. These types are
// mapped with GORM and shared across the repository, store, and service layers.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-digest-backend/internal/schedule"
)

// Defaults applied to settings created for a user on first access.
const (
	DefaultScheduleTime = "08:00"
	DefaultTimezone     = "Asia/Jakarta"
	DefaultLanguage     = "id"
	DefaultTopic        = "technology"
)

// DigestSettings holds one user's digest schedule and content preferences.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: registered or guest identity; unique.
//   - Enabled: the scheduler skips disabled users.
//   - ScheduleTime: local delivery time, HH:mm.
//   - Timezone: identifier resolved through schedule.ResolveOffset.
//   - Topics: ordered topic ids (1..5), stored as a JSON array.
//   - CustomPrompt: optional extra instruction for the content provider.
//   - Language: one of SupportedLanguages.
//   - PushToken: optional device push destination.
//   - UTCHour / UTCMinute: derived trigger, recomputed on every write of
//     ScheduleTime or Timezone (see RecomputeUTC). Never client-editable.
type DigestSettings struct {
	ID           string                      `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID       string                      `json:"userId"       gorm:"type:varchar(128);not null;uniqueIndex:ux_digest_settings_user"`
	Enabled      bool                        `json:"enabled"      gorm:"not null;default:false;index:idx_digest_due,priority:1"`
	ScheduleTime string                      `json:"scheduleTime" gorm:"type:varchar(5);not null;default:'08:00'"`
	Timezone     string                      `json:"timezone"     gorm:"type:varchar(64);not null;default:'Asia/Jakarta'"`
	Topics       datatypes.JSONSlice[string] `json:"topics"       gorm:"not null"`
	CustomPrompt string                      `json:"customPrompt,omitempty" gorm:"type:text"`
	Language     string                      `json:"language"     gorm:"type:varchar(8);not null;default:'id'"`
	PushToken    string                      `json:"pushToken,omitempty"    gorm:"type:varchar(255)"`
	UTCHour      int                         `json:"utcHour"      gorm:"not null;default:0;index:idx_digest_due,priority:2"`
	UTCMinute    int                         `json:"utcMinute"    gorm:"not null;default:0"`
	CreatedAt    time.Time                   `json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

// TableName returns the database table name for DigestSettings.
func (DigestSettings) TableName() string { return "digest_settings" }

// NewDefaultSettings returns the settings a user starts with: disabled,
// 08:00 Asia/Jakarta, technology, Indonesian.
func NewDefaultSettings(userID string) *DigestSettings {
	s := &DigestSettings{
		UserID:       userID,
		Enabled:      false,
		ScheduleTime: DefaultScheduleTime,
		Timezone:     DefaultTimezone,
		Topics:       datatypes.JSONSlice[string]{DefaultTopic},
		Language:     DefaultLanguage,
	}
	_ = s.RecomputeUTC()
	return s
}

// RecomputeUTC refreshes UTCHour/UTCMinute from ScheduleTime and Timezone.
// Every write path that touches either field must call it before persisting.
func (s *DigestSettings) RecomputeUTC() error {
	t, err := schedule.Convert(s.ScheduleTime, s.Timezone)
	if err != nil {
		return err
	}
	s.UTCHour, s.UTCMinute = t.Hour, t.Minute
	return nil
}

// HasPushToken reports whether a non-blank push destination is registered.
func (s *DigestSettings) HasPushToken() bool {
	return strings.TrimSpace(s.PushToken) != ""
}

// DueAt is the eligibility predicate for a scheduler tick at utcHour.
// Minutes are not compared: the trigger cadence is hourly.
func (s *DigestSettings) DueAt(utcHour int) bool {
	return s.Enabled && s.HasPushToken() && s.UTCHour == utcHour
}

// Clone returns a deep copy (Topics is copied).
func (s *DigestSettings) Clone() *DigestSettings {
	if s == nil {
		return nil
	}
	c := *s
	c.Topics = append(datatypes.JSONSlice[string](nil), s.Topics...)
	return &c
}

// Source is a grounding citation returned with generated content.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DigestHistory is one generated digest delivered (or offered) to a user.
// Records are immutable after creation except for the single ReadAt
// transition from unset to set.
type DigestHistory struct {
	ID             string                      `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID         string                      `json:"userId"    gorm:"type:varchar(128);not null;index;index:idx_history_user_sent,priority:1"`
	Title          string                      `json:"title"     gorm:"type:varchar(255);not null"`
	Content        string                      `json:"content"   gorm:"type:text;not null"`
	Topics         datatypes.JSONSlice[string] `json:"topics"    gorm:"not null"`
	Language       string                      `json:"language"  gorm:"type:varchar(8);not null;default:'id'"`
	Sources        datatypes.JSONSlice[Source] `json:"sources"`
	SentAt         time.Time                   `json:"sentAt"    gorm:"not null;index;index:idx_history_user_sent,priority:2,sort:desc"`
	ReadAt         *time.Time                  `json:"readAt,omitempty"`
	NotificationID *string                     `json:"notificationId,omitempty" gorm:"type:varchar(128)"` // accepted push ticket id; nil when no push went out
	CreatedAt      time.Time                   `json:"createdAt"`
}

// TableName returns the database table name for DigestHistory.
func (DigestHistory) TableName() string { return "digest_history" }

// Clone returns a deep copy of the record.
func (h *DigestHistory) Clone() *DigestHistory {
	if h == nil {
		return nil
	}
	c := *h
	c.Topics = append(datatypes.JSONSlice[string](nil), h.Topics...)
	c.Sources = append(datatypes.JSONSlice[Source](nil), h.Sources...)
	if h.ReadAt != nil {
		t := *h.ReadAt
		c.ReadAt = &t
	}
	if h.NotificationID != nil {
		id := *h.NotificationID
		c.NotificationID = &id
	}
	return &c
}

// DigestContent is what a content provider returns for one generation.
type DigestContent struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// Push ticket statuses.
const (
	TicketOK    = "ok"
	TicketError = "error"
)

// PushTicket is the delivery receipt returned by a notification dispatcher.
type PushTicket struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the dispatcher accepted the message.
func (t PushTicket) OK() bool { return t.Status == TicketOK }
