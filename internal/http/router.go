// Package httpapi wires the HTTP transport (Gin) to the digest services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting, and compression.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-digest-backend/docs" // swagger spec registration
	"github.com/tbourn/go-digest-backend/internal/config"
	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/http/handlers"
	"github.com/tbourn/go-digest-backend/internal/http/middleware"
	"github.com/tbourn/go-digest-backend/internal/services"
	"github.com/tbourn/go-digest-backend/internal/store"
)

// Deps are the application services the routes are bound to.
type Deps struct {
	Store     store.Backend
	Service   *services.DigestService
	Scheduler *services.DigestScheduler
}

// BuildDeps assembles the digest service and scheduler over one backend.
// pinger may be nil; then /digest/test-grounding reports an error.
func BuildDeps(be store.Backend, provider services.ContentProvider, pinger services.ProviderPinger, notifier services.Notifier, cfg config.Config) Deps {
	svc := services.NewDigestService(be, be, provider, notifier)
	svc.Pinger = pinger
	svc.Idem = be
	if cfg.IdempotencyTTL > 0 {
		svc.IdemTTL = cfg.IdempotencyTTL
	}

	sched := services.NewDigestScheduler(be, be, provider, notifier)
	sched.PaceInterval = cfg.Digest.PaceInterval

	return Deps{Store: be, Service: svc, Scheduler: sched}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per digest user or IP, bypass on replay)
//  9. CORS and security headers
//  10. gzip
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Expo-Access-Token"},
	}))

	// 4) Panic recovery to the JSON error envelope
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope:  domain.ScopeDigestTest,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := deps.Store.GetIdempotency(ctx, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (allow all if none configured)
	corsHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match",
	}
	exposed := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotent-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even without an Origin header (health checks, curl).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// 10) Compression; generated digests are several KiB of text. The cron
	// routes stay uncompressed so NoWriteDeadline reaches the connection.
	base := strings.TrimSuffix(cfg.APIBasePath, "/")
	cronPaths := []string{base + "/digest/cron", base + "/cron/digest"}
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths(append([]string{"/metrics"}, cronPaths...))))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Service, deps.Scheduler, deps.Store)
	cronAuth := middleware.CronAuth(cfg.Digest.CronSecret, cfg.Digest.CronAuthStrict)
	triggerAuth := middleware.TriggerAuth(cfg.Digest.CronSecret)

	api := groupWithPrefix(r, cfg.APIBasePath)
	digest := api.Group("/digest")
	{
		digest.GET("/options", h.Options)

		// Responses echo push tokens.
		settings := digest.Group("", middleware.NoStore())
		settings.GET("/settings/:userId", h.GetSettings)
		settings.POST("/settings", h.UpdateSettings)
		settings.POST("/push-token", h.RegisterPushToken)

		digest.GET("/history/:userId", h.ListHistory)
		digest.GET("/history/:userId/:digestId", h.GetDigest)

		digest.POST("/test", h.TestDigest)
		digest.GET("/test-grounding", h.TestGrounding)
		digest.POST("/trigger/:userId", triggerAuth, h.TriggerForUser)

		digest.GET("/cron", cronAuth, middleware.NoWriteDeadline(), h.RunCron)
	}
	// Platform cron alias.
	api.GET("/cron/digest", cronAuth, middleware.NoWriteDeadline(), h.RunCron)
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
