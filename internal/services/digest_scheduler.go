// Package services – DigestScheduler
//
// DigestScheduler is the batch core of digest delivery. For one UTC hour it
// selects every eligible user, generates a grounded digest for each, records
// it in history, and pushes a "digest ready" notification.
//
// Processing is strictly sequential: one user at a time, with a pacing
// limiter between users so the content provider is never hit in bursts.
// A failure for one user is counted and logged at the user boundary and
// never aborts the pass. Runs are not deduplicated: two passes for the same
// hour produce two history records per eligible user.
//
// Observability: RunForHour and every per-user step are traced with
// OpenTelemetry and counted in Prometheus (see metrics.go).
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/grounding"
	"github.com/tbourn/go-digest-backend/internal/repo"
)

// DefaultPreview is the notification body used when a digest has no
// suitable first line.
const DefaultPreview = "Rangkuman berita terbaru"

// DefaultPaceInterval spaces consecutive users within a pass.
const DefaultPaceInterval = time.Second

// errNoContent is wrapped in a *grounding.GenerationError when a provider
// answers without content and without an error.
var errNoContent = errors.New("provider returned no content")

// RunSummary aggregates the outcome of one pass. Skipped counts users that
// were never attempted because the caller's context ended mid-pass.
type RunSummary struct {
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
	Skipped      int `json:"skipped,omitempty"`
}

// DigestScheduler runs scheduled and manual digest generation.
type DigestScheduler struct {
	Settings SettingsStore
	History  HistoryStore
	Provider ContentProvider
	Notifier Notifier

	// PaceInterval is the minimum gap between two users of a pass.
	// Zero or negative disables pacing.
	PaceInterval time.Duration

	// Now is overridable in tests.
	Now func() time.Time
}

// NewDigestScheduler wires a scheduler with the default pace interval.
func NewDigestScheduler(settings SettingsStore, history HistoryStore, provider ContentProvider, notifier Notifier) *DigestScheduler {
	return &DigestScheduler{
		Settings:     settings,
		History:      history,
		Provider:     provider,
		Notifier:     notifier,
		PaceInterval: DefaultPaceInterval,
		Now:          time.Now,
	}
}

// UsersDueAt returns the settings of every user eligible at utcHour: enabled,
// with a push token, and whose cached UTC hour equals utcHour. An empty
// result is normal.
func (s *DigestScheduler) UsersDueAt(ctx context.Context, utcHour int) ([]domain.DigestSettings, error) {
	if utcHour < 0 || utcHour > 23 {
		return nil, ErrInvalidHour
	}
	rows, err := s.Settings.ListDue(ctx, utcHour)
	if err != nil {
		return nil, err
	}
	// The store query is authoritative, but the predicate is cheap and keeps
	// alternative stores honest.
	out := make([]domain.DigestSettings, 0, len(rows))
	for i := range rows {
		if rows[i].DueAt(utcHour) {
			out = append(out, rows[i])
		}
	}
	log.Info().Int("utc_hour", utcHour).Int("users", len(out)).Msg("digest users selected")
	return out, nil
}

// RunForHour executes one pass for utcHour. A selection failure is returned
// as an error; per-user failures only increase FailedCount.
//
// ctx is checked between users only. When it ends mid-pass the remaining
// users are reported as Skipped and ctx.Err() is returned with the partial
// summary.
func (s *DigestScheduler) RunForHour(ctx context.Context, utcHour int) (RunSummary, error) {
	started := time.Now()
	defer func() { digestRunDuration.Observe(time.Since(started).Seconds()) }()

	tr := otel.Tracer("services/DigestScheduler")
	ctx, span := tr.Start(ctx, "RunForHour",
		trace.WithAttributes(attribute.Int("digest.utc_hour", utcHour)),
	)
	defer span.End()

	logger := log.With().Int("utc_hour", utcHour).Logger()
	logger.Info().Msg("digest pass started")

	users, err := s.UsersDueAt(ctx, utcHour)
	if err != nil {
		digestRuns.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "selection failed")
		logger.Error().Err(err).Msg("digest selection failed")
		return RunSummary{}, err
	}
	if len(users) == 0 {
		digestRuns.WithLabelValues("empty").Inc()
		logger.Info().Msg("no users due at this hour")
		return RunSummary{}, nil
	}

	pace := s.newPacer()
	var sum RunSummary
	for i := range users {
		if i > 0 {
			if err := s.waitTurn(ctx, pace); err != nil {
				sum.Skipped = len(users) - i
				digestUsers.WithLabelValues("skipped").Add(float64(sum.Skipped))
				digestRuns.WithLabelValues("cancelled").Inc()
				span.SetAttributes(attribute.Int("digest.skipped", sum.Skipped))
				logger.Warn().Err(err).
					Int("success", sum.SuccessCount).
					Int("failed", sum.FailedCount).
					Int("skipped", sum.Skipped).
					Msg("digest pass stopped early")
				return sum, err
			}
		}

		u := &users[i]
		if _, err := s.processGuarded(ctx, u); err != nil {
			sum.FailedCount++
			digestUsers.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Str("user_id", u.UserID).Msg("digest failed for user")
			continue
		}
		sum.SuccessCount++
		digestUsers.WithLabelValues("success").Inc()
		logger.Info().Str("user_id", u.UserID).Msg("digest sent")
	}

	digestRuns.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("digest.success", sum.SuccessCount),
		attribute.Int("digest.failed", sum.FailedCount),
	)
	logger.Info().
		Int("success", sum.SuccessCount).
		Int("failed", sum.FailedCount).
		Dur("took", time.Since(started)).
		Msg("digest pass complete")
	return sum, nil
}

// TriggerForUser processes one user immediately, ignoring Enabled and the
// schedule. It returns ErrSettingsNotFound when the user has no settings;
// any other failure is reported as (false, err).
func (s *DigestScheduler) TriggerForUser(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrMissingUserID
	}
	st, err := s.Settings.GetSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrSettingsNotFound
		}
		return false, err
	}
	if _, err := s.processGuarded(ctx, st); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("manual digest failed")
		return false, err
	}
	return true, nil
}

// processGuarded runs processOne and turns a panic into an error, so one
// user's failure stays inside the user boundary.
func (s *DigestScheduler) processGuarded(ctx context.Context, st *domain.DigestSettings) (h *domain.DigestHistory, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("user_id", st.UserID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("digest processing panicked")
			h, err = nil, fmt.Errorf("process digest for %s: panic: %v", st.UserID, r)
		}
	}()
	return s.processOne(ctx, st)
}

// processOne generates, records, and announces a single user's digest.
// A failed push is logged and counted but does not fail the user.
func (s *DigestScheduler) processOne(ctx context.Context, st *domain.DigestSettings) (*domain.DigestHistory, error) {
	tr := otel.Tracer("services/DigestScheduler")
	ctx, span := tr.Start(ctx, "processOne",
		trace.WithAttributes(attribute.String("user.id", st.UserID)),
	)
	defer span.End()

	content, err := s.Provider.Generate(ctx, append([]string(nil), st.Topics...), st.Language, st.CustomPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		return nil, err
	}
	if content == nil {
		err := &grounding.GenerationError{Err: errNoContent}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		return nil, err
	}

	h := &domain.DigestHistory{
		UserID:   st.UserID,
		Title:    content.Title,
		Content:  content.Content,
		Topics:   append([]string(nil), st.Topics...),
		Language: st.Language,
		Sources:  append([]domain.Source(nil), content.Sources...),
		SentAt:   s.now().UTC(),
	}
	if err := s.History.CreateHistory(ctx, h); err != nil {
		perr := &PersistenceError{Op: "create history", Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, "persist")
		return nil, perr
	}
	span.SetAttributes(attribute.String("digest.id", h.ID))

	if st.HasPushToken() {
		ticket := s.Notifier.SendDigest(ctx, st.PushToken, h.ID, h.Title, Preview(h.Content))
		digestNotifications.WithLabelValues(ticket.Status).Inc()
		if !ticket.OK() {
			log.Warn().
				Str("user_id", st.UserID).
				Str("digest_id", h.ID).
				Str("reason", ticket.Message).
				Msg("digest notification rejected")
		}
		recordTicket(ctx, s.History, h, ticket)
	}
	return h, nil
}

// recordTicket links an accepted push ticket to its digest. A failed write
// is logged only; the digest and the notification already exist.
func recordTicket(ctx context.Context, store HistoryStore, h *domain.DigestHistory, ticket domain.PushTicket) {
	if !ticket.OK() || ticket.ID == "" {
		return
	}
	if err := store.SetNotificationID(ctx, h.ID, h.UserID, ticket.ID); err != nil {
		log.Warn().Err(err).Str("digest_id", h.ID).Msg("notification id not stored")
		return
	}
	id := ticket.ID
	h.NotificationID = &id
}

// Preview returns the first non-blank line of content that is not a Markdown
// heading, trimmed, or DefaultPreview when there is none.
func Preview(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.TrimSpace(line)
	}
	return DefaultPreview
}

// newPacer returns a limiter whose initial token is already spent, so the
// first Wait blocks for a full interval. Nil when pacing is disabled.
func (s *DigestScheduler) newPacer() *rate.Limiter {
	if s.PaceInterval <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Every(s.PaceInterval), 1)
	l.Allow()
	return l
}

func (s *DigestScheduler) waitTurn(ctx context.Context, pace *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pace == nil {
		return nil
	}
	return pace.Wait(ctx)
}

func (s *DigestScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
