// Digest HTTP handlers.
//
// This file exposes the REST endpoints of the digest subsystem:
//   - GET  /digest/options
//   - GET  /digest/settings/{userId}
//   - POST /digest/settings
//   - POST /digest/push-token
//   - GET  /digest/history/{userId}             (paginated, weak ETag)
//   - GET  /digest/history/{userId}/{digestId}  (marks read)
//   - POST /digest/test                         (Idempotency-Key aware)
//   - GET  /digest/test-grounding
//   - POST /digest/trigger/{userId}
//   - GET  /digest/cron
//
// Handlers are transport-thin: they decode input, call the digest service or
// scheduler, and translate results into the response envelope.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/http/middleware"
	"github.com/tbourn/go-digest-backend/internal/services"
	"github.com/tbourn/go-digest-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DigestService is the user-facing digest API consumed by the handlers.
type DigestService interface {
	Options() services.Options
	GetSettings(ctx context.Context, userID string) (*domain.DigestSettings, error)
	UpdateSettings(ctx context.Context, userID string, p services.SettingsPatch) (*domain.DigestSettings, error)
	RegisterPushToken(ctx context.Context, userID, token string) error
	ListHistory(ctx context.Context, userID string, limit, offset int) ([]domain.DigestHistory, int64, int, int, error)
	GetDigest(ctx context.Context, userID, digestID string) (*domain.DigestHistory, error)
	GenerateTest(ctx context.Context, req services.TestRequest) (*services.TestResult, error)
	PingProvider(ctx context.Context) (*domain.DigestContent, error)
}

// Scheduler runs digest passes.
type Scheduler interface {
	RunForHour(ctx context.Context, utcHour int) (services.RunSummary, error)
	TriggerForUser(ctx context.Context, userID string) (bool, error)
}

// HistoryStats feeds the history ETag. Optional.
type HistoryStats interface {
	HistoryStats(ctx context.Context, userID string) (int64, *time.Time, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

//
// Handler wiring
//

// Handlers groups the digest endpoints.
type Handlers struct {
	svc   DigestService
	sched Scheduler
	stats HistoryStats

	// Now is the clock used to pick the cron hour.
	Now func() time.Time
}

// New constructs Handlers. stats may be nil, which disables ETags.
func New(svc DigestService, sched Scheduler, stats HistoryStats) *Handlers {
	return &Handlers{svc: svc, sched: sched, stats: stats, Now: time.Now}
}

//
// DTOs
//

// UpdateSettingsRequest is the body of POST /digest/settings. Omitted fields
// keep their stored value.
type UpdateSettingsRequest struct {
	UserID       string   `json:"userId" example:"guest_8f14e45f"`
	Enabled      *bool    `json:"enabled,omitempty" example:"true"`
	ScheduleTime *string  `json:"scheduleTime,omitempty" example:"07:30"`
	Timezone     *string  `json:"timezone,omitempty" example:"Asia/Jakarta"`
	Topics       []string `json:"topics,omitempty" example:"technology,business"`
	CustomPrompt *string  `json:"customPrompt,omitempty" example:"Fokus pada startup lokal"`
	Language     *string  `json:"language,omitempty" example:"id"`
	PushToken    *string  `json:"pushToken,omitempty" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
}

// PushTokenRequest is the body of POST /digest/push-token.
type PushTokenRequest struct {
	UserID    string `json:"userId" example:"guest_8f14e45f"`
	PushToken string `json:"pushToken" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
}

// TestDigestRequest is the body of POST /digest/test. Every field is optional.
type TestDigestRequest struct {
	UserID       string   `json:"userId,omitempty" example:"guest_8f14e45f"`
	Topics       []string `json:"topics,omitempty" example:"technology"`
	Language     string   `json:"language,omitempty" example:"id"`
	CustomPrompt string   `json:"customPrompt,omitempty"`
}

// TestDigestResponse is the data of POST /digest/test.
type TestDigestResponse struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Sources  []domain.Source `json:"sources"`
	DigestID string          `json:"digestId,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

// TriggerResponse is the body of POST /digest/trigger/{userId}.
type TriggerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

//
// Helpers
//

// bindJSON decodes the body through gin's body cache (the identity
// middleware may already have consumed it). An empty body decodes to the
// zero value.
func bindJSON(c *gin.Context, dst any) error {
	err := c.ShouldBindBodyWith(dst, binding.JSON)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

//
// Handlers
//

// Options godoc
// @ID          digestOptions
// @Summary     Topic, language and timezone catalog
// @Tags        Digest
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=services.Options}
// @Router      /digest/options [get]
func (h *Handlers) Options(c *gin.Context) {
	ok(c, h.svc.Options())
}

// GetSettings godoc
// @ID          getDigestSettings
// @Summary     Get a user's digest settings
// @Description Returns the stored settings; defaults are created on first access.
// @Tags        Digest
// @Produce     json
// @Param       userId  path  string  true  "User ID"  example(guest_8f14e45f)
// @Success     200  {object}  handlers.SuccessResponse{data=domain.DigestSettings}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /digest/settings/{userId} [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	st, err := h.svc.GetSettings(c.Request.Context(), c.Param("userId"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, st)
}

// UpdateSettings godoc
// @ID          updateDigestSettings
// @Summary     Create or update digest settings
// @Description Merges the given fields, validates them, and recomputes the UTC trigger.
// @Tags        Digest
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.UpdateSettingsRequest  true  "Settings patch"
// @Success     200  {object}  handlers.SuccessResponse{data=domain.DigestSettings}
// @Failure     400  {object}  handlers.ErrorResponse  "Missing userId or invalid field"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /digest/settings [post]
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId is required")
		return
	}

	st, err := h.svc.UpdateSettings(c.Request.Context(), req.UserID, services.SettingsPatch{
		Enabled:      req.Enabled,
		ScheduleTime: req.ScheduleTime,
		Timezone:     req.Timezone,
		Topics:       req.Topics,
		CustomPrompt: req.CustomPrompt,
		Language:     req.Language,
		PushToken:    req.PushToken,
	})
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, st)
}

// RegisterPushToken godoc
// @ID          registerPushToken
// @Summary     Register a device push token
// @Tags        Digest
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.PushTokenRequest  true  "User and token"
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /digest/push-token [post]
func (h *Handlers) RegisterPushToken(c *gin.Context) {
	var req PushTokenRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.PushToken) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId and pushToken are required")
		return
	}
	if err := h.svc.RegisterPushToken(c.Request.Context(), req.UserID, req.PushToken); err != nil {
		failFromService(c, err)
		return
	}
	okMessage(c, "Push token registered", nil)
}

// ListHistory godoc
// @ID          listDigestHistory
// @Summary     List a user's digests (newest first)
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Digest
// @Produce     json
// @Param       userId         path    string  true   "User ID"
// @Param       limit          query   int     false  "Page size"  minimum(1) maximum(100) default(20)
// @Param       offset         query   int     false  "Items to skip"  minimum(0) default(0)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.SuccessResponse{data=[]domain.DigestHistory,pagination=handlers.Pagination}
// @Header      200  {string}  ETag  "Weak ETag for the user's history"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /digest/history/{userId} [get]
func (h *Handlers) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	uid := c.Param("userId")
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultHistoryLimit)
	offset := utils.AtoiDefault(c.Query("offset"), 0)

	// ETag covers the whole collection, so page parameters are folded in.
	// Opening a digest flips readAt, tracked through the unread count.
	if etag, ok := h.historyETag(c, uid, limit, offset); ok {
		c.Header("ETag", etag)
		if utils.ETagMatches(c.GetHeader("If-None-Match"), etag) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, effLimit, effOffset, err := h.svc.ListHistory(ctx, uid, limit, offset)
	if err != nil {
		failFromService(c, err)
		return
	}
	okPage(c, items, Pagination{Total: total, Limit: effLimit, Offset: effOffset})
}

func (h *Handlers) historyETag(c *gin.Context, uid string, limit, offset int) (string, bool) {
	if h.stats == nil {
		return "", false
	}
	ctx := c.Request.Context()
	count, newest, err := h.stats.HistoryStats(ctx, uid)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("history stats unavailable; no etag")
		return "", false
	}
	unread, err := h.stats.UnreadCount(ctx, uid)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("unread count unavailable; no etag")
		return "", false
	}
	return utils.WeakETag(fmt.Sprintf("history:%d:%d", limit, offset), uid, count, unread, newest), true
}

// GetDigest godoc
// @ID          getDigest
// @Summary     Get one digest
// @Description Returns the digest and marks it read on first access.
// @Tags        Digest
// @Produce     json
// @Param       userId    path  string  true  "User ID"
// @Param       digestId  path  string  true  "Digest ID"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse{data=domain.DigestHistory}
// @Failure     404  {object}  handlers.ErrorResponse  "Digest not found"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /digest/history/{userId}/{digestId} [get]
func (h *Handlers) GetDigest(c *gin.Context) {
	d, err := h.svc.GetDigest(c.Request.Context(), c.Param("userId"), c.Param("digestId"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, d)
}

// TestDigest godoc
// @ID          testDigest
// @Summary     Generate a digest now
// @Description Bypasses the schedule. With userId the digest is stored and announced once.
// @Description A repeated Idempotency-Key for the same user replays the stored digest.
// @Tags        Digest
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Replay key"
// @Param       body  body  handlers.TestDigestRequest  false  "Generation options"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.TestDigestResponse}
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse  "Content provider failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Content provider not configured"
// @Router      /digest/test [post]
func (h *Handlers) TestDigest(c *gin.Context) {
	var req TestDigestRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	lang := strings.TrimSpace(req.Language)
	if code, known := domain.NormalizeLanguage(lang); known {
		lang = code
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.svc.GenerateTest(c.Request.Context(), services.TestRequest{
		UserID:         req.UserID,
		Topics:         req.Topics,
		Language:       lang,
		CustomPrompt:   req.CustomPrompt,
		IdempotencyKey: key,
	})
	if err != nil {
		failFromService(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	ok(c, TestDigestResponse{
		Title:    res.Content.Title,
		Content:  res.Content.Content,
		Sources:  nonNilSources(res.Content.Sources),
		DigestID: res.DigestID,
		Replayed: res.Replayed,
	})
}

// TestGrounding godoc
// @ID          testGrounding
// @Summary     Check the content provider
// @Tags        Digest
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=domain.DigestContent}
// @Failure     502  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /digest/test-grounding [get]
func (h *Handlers) TestGrounding(c *gin.Context) {
	res, err := h.svc.PingProvider(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, res)
}

// TriggerForUser godoc
// @ID          triggerDigest
// @Summary     Process one user immediately
// @Description Ignores the enabled flag and the schedule. Requires Authorization: Bearer <CRON_SECRET>.
// @Tags        Digest
// @Produce     json
// @Security    CronBearer
// @Param       userId         path    string  true  "User ID"
// @Param       Authorization  header  string  true  "Bearer <CRON_SECRET>"
// @Success     200  {object}  handlers.TriggerResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or wrong bearer"
// @Failure     404  {object}  handlers.ErrorResponse  "Settings not found"
// @Router      /digest/trigger/{userId} [post]
func (h *Handlers) TriggerForUser(c *gin.Context) {
	uid := c.Param("userId")
	done, err := h.sched.TriggerForUser(c.Request.Context(), uid)
	switch {
	case errors.Is(err, services.ErrSettingsNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Settings not found")
		return
	case errors.Is(err, services.ErrMissingUserID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case err != nil:
		c.JSON(http.StatusOK, TriggerResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{Success: done})
}

// RunCron godoc
// @ID          runDigestCron
// @Summary     Run the digest pass for the current UTC hour
// @Description Called hourly by the platform cron with Authorization: Bearer <CRON_SECRET>.
// @Tags        Digest
// @Produce     json
// @Param       Authorization  header  string  false  "Bearer <CRON_SECRET>"
// @Success     200  {object}  handlers.SuccessResponse{data=services.RunSummary}
// @Failure     401  {object}  handlers.ErrorResponse  "Strict cron auth only"
// @Failure     500  {object}  handlers.ErrorResponse  "Selection failed"
// @Router      /digest/cron [get]
func (h *Handlers) RunCron(c *gin.Context) {
	hour := h.now().UTC().Hour()
	lg := middleware.LoggerFrom(c)
	lg.Info().Int("utc_hour", hour).Msg("cron triggered")

	// The pass outlives a dropped cron connection; per-user pacing still
	// observes this context between users.
	ctx := context.WithoutCancel(c.Request.Context())
	sum, err := h.sched.RunForHour(ctx, hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSchedulerFailed, err.Error())
		return
	}
	okMessage(c, fmt.Sprintf("Scheduler completed for UTC hour %d", hour), sum)
}

func nonNilSources(s []domain.Source) []domain.Source {
	if s == nil {
		return []domain.Source{}
	}
	return s
}
