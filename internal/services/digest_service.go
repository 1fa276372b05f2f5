// Package services – DigestService
//
// DigestService implements the user-facing digest operations: the options
// catalog, settings read/update (with UTC trigger recomputation in the same
// write), push token registration, history listing and detail (with the
// one-time read marker), and on-demand test generation.
//
// Settings are created lazily: the first read or write for a user persists a
// default record, so every later path can assume one row per user.
package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/repo"
	"github.com/tbourn/go-digest-backend/internal/schedule"
)

// History paging limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// DefaultIdempotencyTTL bounds how long a test generation can be replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// Options is the static catalog offered to clients.
type Options struct {
	Topics    []domain.Topic    `json:"topics"`
	Languages []domain.Language `json:"languages"`
	Timezones []string          `json:"timezones"`
}

// SettingsPatch carries a partial settings update. Nil fields keep their
// stored value; UTC fields are always derived, never patched.
type SettingsPatch struct {
	Enabled      *bool
	ScheduleTime *string
	Timezone     *string
	Topics       []string
	CustomPrompt *string
	Language     *string
	PushToken    *string
}

// TestRequest is the input of GenerateTest. Topics and Language fall back to
// ["technology"] and "id".
type TestRequest struct {
	UserID         string
	Topics         []string
	Language       string
	CustomPrompt   string
	IdempotencyKey string
}

// TestResult is the outcome of GenerateTest. DigestID is set only when the
// digest was stored for a user; Replayed marks an idempotent replay.
type TestResult struct {
	Content  *domain.DigestContent
	DigestID string
	Replayed bool
}

// DigestService coordinates settings, history, and the content provider.
type DigestService struct {
	Settings SettingsStore
	History  HistoryStore
	Provider ContentProvider
	Notifier Notifier

	// Optional collaborators.
	Pinger ProviderPinger
	Idem   IdempotencyStore

	IdemTTL time.Duration
	Now     func() time.Time
}

// NewDigestService constructs a DigestService with default replay TTL.
func NewDigestService(settings SettingsStore, history HistoryStore, provider ContentProvider, notifier Notifier) *DigestService {
	return &DigestService{
		Settings: settings,
		History:  history,
		Provider: provider,
		Notifier: notifier,
		IdemTTL:  DefaultIdempotencyTTL,
		Now:      time.Now,
	}
}

// Options returns the topic and language catalog plus known timezones.
func (s *DigestService) Options() Options {
	return Options{
		Topics:    append([]domain.Topic(nil), domain.DigestTopics...),
		Languages: append([]domain.Language(nil), domain.DigestLanguages...),
		Timezones: schedule.KnownTimezones(),
	}
}

// GetSettings returns the user's settings, creating and persisting the
// defaults on first access.
func (s *DigestService) GetSettings(ctx context.Context, userID string) (*domain.DigestSettings, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}
	return s.loadOrCreate(ctx, userID)
}

// UpdateSettings merges p onto the stored (or default) settings, validates the
// result, recomputes the UTC trigger, and writes everything in one upsert.
func (s *DigestService) UpdateSettings(ctx context.Context, userID string, p SettingsPatch) (*domain.DigestSettings, error) {
	tr := otel.Tracer("services/DigestService")
	ctx, span := tr.Start(ctx, "UpdateSettings",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}

	cur, err := s.Settings.GetSettings(ctx, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		cur = domain.NewDefaultSettings(userID)
	case err != nil:
		return nil, err
	}
	next := cur.Clone()
	applyPatch(next, p)

	if err := domain.ValidateSettings(next); err != nil {
		return nil, err
	}
	if err := next.RecomputeUTC(); err != nil {
		return nil, &domain.ValidationError{Field: "scheduleTime", Reason: "must be in HH:mm format"}
	}
	if err := s.Settings.UpsertSettings(ctx, next); err != nil {
		return nil, &PersistenceError{Op: "upsert settings", Err: err}
	}

	log.Info().
		Str("user_id", userID).
		Str("schedule", next.ScheduleTime).
		Str("timezone", next.Timezone).
		Int("utc_hour", next.UTCHour).
		Int("utc_minute", next.UTCMinute).
		Msg("digest settings updated")
	return next, nil
}

// RegisterPushToken stores token for userID, creating default settings when
// the user has none.
func (s *DigestService) RegisterPushToken(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" {
		return ErrMissingUserID
	}
	if token == "" {
		return ErrMissingPushToken
	}

	err := s.Settings.SetPushToken(ctx, userID, token)
	if errors.Is(err, repo.ErrNotFound) {
		st := domain.NewDefaultSettings(userID)
		st.PushToken = token
		err = s.Settings.UpsertSettings(ctx, st)
	}
	if err != nil {
		return &PersistenceError{Op: "set push token", Err: err}
	}
	log.Info().Str("user_id", userID).Msg("push token registered")
	return nil
}

// ListHistory returns a newest-first page of the user's digests and the
// total count. limit defaults to DefaultHistoryLimit and is clamped to
// [1, MaxHistoryLimit]; a negative offset is treated as zero. The effective
// limit and offset are returned for pagination metadata.
func (s *DigestService) ListHistory(ctx context.Context, userID string, limit, offset int) (items []domain.DigestHistory, total int64, effLimit, effOffset int, err error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, 0, 0, ErrMissingUserID
	}
	effLimit, effOffset = clampPage(limit, offset)

	total, err = s.History.CountHistory(ctx, userID)
	if err != nil {
		return nil, 0, effLimit, effOffset, err
	}
	if total == 0 {
		return []domain.DigestHistory{}, 0, effLimit, effOffset, nil
	}
	items, err = s.History.ListHistoryPage(ctx, userID, effOffset, effLimit)
	return items, total, effLimit, effOffset, err
}

// GetDigest returns one digest and sets its read marker on the first read.
func (s *DigestService) GetDigest(ctx context.Context, userID, digestID string) (*domain.DigestHistory, error) {
	h, err := s.History.GetHistory(ctx, digestID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDigestNotFound
		}
		return nil, err
	}
	if h.ReadAt != nil {
		return h, nil
	}

	now := s.now().UTC()
	changed, err := s.History.MarkRead(ctx, digestID, userID, now)
	if err != nil {
		return nil, &PersistenceError{Op: "mark read", Err: err}
	}
	if changed {
		h.ReadAt = &now
		return h, nil
	}
	// Lost a race with a concurrent reader; return the stored marker.
	return s.History.GetHistory(ctx, digestID, userID)
}

// GenerateTest generates a digest on demand. With a user id the digest is
// stored and, when the user has a push token, announced once (a failed push
// does not fail the call). A repeated IdempotencyKey for the same user
// replays the stored digest instead of generating a new one.
func (s *DigestService) GenerateTest(ctx context.Context, req TestRequest) (*TestResult, error) {
	tr := otel.Tracer("services/DigestService")
	ctx, span := tr.Start(ctx, "GenerateTest",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	userID := strings.TrimSpace(req.UserID)
	key := strings.TrimSpace(req.IdempotencyKey)
	topics := req.Topics
	if len(topics) == 0 {
		topics = []string{domain.DefaultTopic}
	}
	lang := req.Language
	if lang == "" {
		lang = domain.DefaultLanguage
	}

	if res, ok := s.replay(ctx, userID, key); ok {
		span.SetAttributes(attribute.Bool("idempotency.replayed", true))
		return res, nil
	}

	content, err := s.Provider.Generate(ctx, topics, lang, req.CustomPrompt)
	if err != nil {
		return nil, err
	}
	res := &TestResult{Content: content}
	if userID == "" {
		return res, nil
	}

	h := &domain.DigestHistory{
		UserID:   userID,
		Title:    content.Title,
		Content:  content.Content,
		Topics:   append([]string(nil), topics...),
		Language: lang,
		Sources:  append([]domain.Source(nil), content.Sources...),
		SentAt:   s.now().UTC(),
	}
	if err := s.History.CreateHistory(ctx, h); err != nil {
		return nil, &PersistenceError{Op: "create history", Err: err}
	}
	res.DigestID = h.ID
	log.Info().Str("user_id", userID).Str("digest_id", h.ID).Msg("test digest saved")

	if st, err := s.Settings.GetSettings(ctx, userID); err == nil && st.HasPushToken() && s.Notifier != nil {
		ticket := s.Notifier.SendDigest(ctx, st.PushToken, h.ID, h.Title, Preview(h.Content))
		digestNotifications.WithLabelValues(ticket.Status).Inc()
		if !ticket.OK() {
			log.Warn().Str("user_id", userID).Str("digest_id", h.ID).Str("reason", ticket.Message).Msg("test digest notification rejected")
		}
		recordTicket(ctx, s.History, h, ticket)
	}

	if key != "" && s.Idem != nil {
		if _, err := s.Idem.CreateIdempotency(ctx, userID, domain.ScopeDigestTest, key, h.ID, http.StatusOK, s.idemTTL()); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("user_id", userID).Msg("idempotency record not stored")
		}
	}
	return res, nil
}

// PingProvider runs the provider's connectivity check.
func (s *DigestService) PingProvider(ctx context.Context) (*domain.DigestContent, error) {
	if s.Pinger == nil {
		return nil, errors.New("content provider does not support ping")
	}
	return s.Pinger.Ping(ctx)
}

// replay returns the digest recorded under (userID, key) if any.
func (s *DigestService) replay(ctx context.Context, userID, key string) (*TestResult, bool) {
	if s.Idem == nil || userID == "" || key == "" {
		return nil, false
	}
	rec, err := s.Idem.GetIdempotency(ctx, userID, domain.ScopeDigestTest, key, s.now().UTC())
	if err != nil {
		return nil, false
	}
	h, err := s.History.GetHistory(ctx, rec.ResourceID, userID)
	if err != nil {
		return nil, false
	}
	return &TestResult{
		Content: &domain.DigestContent{
			Title:   h.Title,
			Content: h.Content,
			Sources: append([]domain.Source(nil), h.Sources...),
		},
		DigestID: h.ID,
		Replayed: true,
	}, true
}

func (s *DigestService) loadOrCreate(ctx context.Context, userID string) (*domain.DigestSettings, error) {
	st, err := s.Settings.GetSettings(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	st = domain.NewDefaultSettings(userID)
	if err := s.Settings.UpsertSettings(ctx, st); err != nil {
		return nil, &PersistenceError{Op: "create default settings", Err: err}
	}
	return st, nil
}

func applyPatch(st *domain.DigestSettings, p SettingsPatch) {
	if p.Enabled != nil {
		st.Enabled = *p.Enabled
	}
	if p.ScheduleTime != nil {
		st.ScheduleTime = strings.TrimSpace(*p.ScheduleTime)
	}
	if p.Timezone != nil {
		st.Timezone = strings.TrimSpace(*p.Timezone)
	}
	if p.Topics != nil {
		topics := make([]string, 0, len(p.Topics))
		for _, t := range p.Topics {
			topics = append(topics, strings.TrimSpace(t))
		}
		st.Topics = topics
	}
	if p.CustomPrompt != nil {
		st.CustomPrompt = strings.TrimSpace(*p.CustomPrompt)
	}
	if p.Language != nil {
		if code, ok := domain.NormalizeLanguage(*p.Language); ok {
			st.Language = code
		} else {
			st.Language = *p.Language
		}
	}
	if p.PushToken != nil {
		st.PushToken = strings.TrimSpace(*p.PushToken)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *DigestService) idemTTL() time.Duration {
	if s.IdemTTL > 0 {
		return s.IdemTTL
	}
	return DefaultIdempotencyTTL
}

func (s *DigestService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
