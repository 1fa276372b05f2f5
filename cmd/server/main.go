// Command server runs the digest backend: the /digest HTTP API and,
// optionally, the in-process hourly scheduler.
//
//	@title						Digest Backend API
//	@version					1.0
//	@description				Daily news digest scheduling, generation, and history.
//	@BasePath					/api
//	@securityDefinitions.apikey	CronBearer
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-digest-backend/internal/config"
	"github.com/tbourn/go-digest-backend/internal/grounding"
	httpapi "github.com/tbourn/go-digest-backend/internal/http"
	"github.com/tbourn/go-digest-backend/internal/observability"
	"github.com/tbourn/go-digest-backend/internal/push"
	"github.com/tbourn/go-digest-backend/internal/scheduler"
	"github.com/tbourn/go-digest-backend/internal/store"
	"github.com/tbourn/go-digest-backend/internal/sysutil"
)

// version is set at build time via ldflags.
var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := config.MustLoad()
	sysutil.SetupLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty, "server")
	gin.SetMode(cfg.GinMode)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version), "server")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	be, db, err := store.Open(cfg.StorageBackend, cfg.DBPath)
	if err != nil {
		return err
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
	}

	gemini := grounding.New(grounding.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.UpstreamTimeout,
	})
	if !gemini.Configured() {
		log.Warn().Msg("GEMINI_API_KEY not set; digest generation will fail until configured")
	}
	expo := push.New(push.Config{
		URL:         cfg.Push.URL,
		AccessToken: cfg.Push.AccessToken,
		Timeout:     cfg.UpstreamTimeout,
	})
	if cfg.Digest.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET not set; cron endpoint is unauthenticated")
	}

	deps := httpapi.BuildDeps(be, gemini, gemini, expo, cfg)

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.StorageBackend).
			Str("model", gemini.Model()).
			Str("version", version).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(sctx)
	})

	if cfg.Digest.SchedulerEnabled {
		runner, err := scheduler.New(cfg.Digest.SchedulerCron, deps.Scheduler)
		if err != nil {
			return err
		}
		runner.AfterPass = func(ctx context.Context, tick time.Time) {
			n, err := be.PurgeExpiredIdempotency(ctx, tick.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				return
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("expired idempotency keys removed")
			}
		}
		g.Go(func() error { return runner.Run(gctx) })
		log.Info().Str("cron", runner.Expr()).Msg("in-process scheduler enabled")
	}

	return g.Wait()
}
