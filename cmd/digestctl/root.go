package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-digest-backend/internal/config"
	"github.com/tbourn/go-digest-backend/internal/grounding"
	httpapi "github.com/tbourn/go-digest-backend/internal/http"
	"github.com/tbourn/go-digest-backend/internal/observability"
	"github.com/tbourn/go-digest-backend/internal/push"
	"github.com/tbourn/go-digest-backend/internal/store"
	"github.com/tbourn/go-digest-backend/internal/sysutil"
)

// app is the state shared by subcommands. Storage and upstream clients are
// opened only by the commands that need them.
type app struct {
	out, errOut io.Writer
	jsonOut     bool
	verbose     bool

	cfg      config.Config
	be       store.Backend
	deps     httpapi.Deps
	shutdown []func()
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "digestctl",
		Short: "Operate the news digest scheduler",
		Long: `digestctl runs digest scheduler passes and inspects schedules.

Configuration is read from the environment (and .env) exactly as the server
reads it, so a pass run here hits the same database and upstreams.

Examples:
  digestctl run                       # pass for the current UTC hour
  digestctl run --hour 1              # pass for 01:00 UTC
  digestctl trigger --user guest_42   # one user's digest now
  digestctl convert --time 08:00 --tz Asia/Jakarta
  digestctl next --cron "0 * * * *" --count 3`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(a),
		newTriggerCmd(a),
		newPurgeCmd(a),
		newConvertCmd(a),
		newNextCmd(a),
		newTimezonesCmd(a),
	)
	return root
}

// open loads configuration and wires storage, upstream clients, and tracing.
// Callers defer close even when open fails; it releases whatever was opened.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	sysutil.SetupLogging(a.errOut, level, cfg.LogPretty || !a.jsonOut, "digestctl")

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, "digestctl")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	a.shutdown = append(a.shutdown, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	})

	be, db, err := store.Open(cfg.StorageBackend, cfg.DBPath)
	if err != nil {
		return err
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			a.shutdown = append(a.shutdown, func() { _ = sqlDB.Close() })
		}
	}
	a.be = be

	gemini := grounding.New(grounding.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.UpstreamTimeout,
	})
	expo := push.New(push.Config{
		URL:         cfg.Push.URL,
		AccessToken: cfg.Push.AccessToken,
		Timeout:     cfg.UpstreamTimeout,
	})
	a.deps = httpapi.BuildDeps(be, gemini, gemini, expo, cfg)
	return nil
}

func (a *app) close() {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		a.shutdown[i]()
	}
	a.shutdown = nil
}

// emit writes v as indented JSON when --json is set, otherwise the line
// produced by text.
func (a *app) emit(v any, text func() string) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(a.out, text())
	return err
}
