// Package scheduler drives digest passes from inside the process, as an
// alternative to an external cron calling GET /digest/cron.
//
// The Runner evaluates a cron expression in UTC, sleeps until the next tick,
// and runs one pass for the tick's UTC hour. Passes never overlap: the single
// runner goroutine waits for a pass to finish before computing the next tick,
// and ticks that elapse during a long pass are skipped rather than queued.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-digest-backend/internal/services"
)

// DefaultExpr fires at the top of every hour.
const DefaultExpr = "0 * * * *"

// maxSleep caps a single wait so wall-clock jumps are noticed.
const maxSleep = 60 * time.Second

// HourRunner runs one scheduler pass. *services.DigestScheduler satisfies it.
type HourRunner interface {
	RunForHour(ctx context.Context, utcHour int) (services.RunSummary, error)
}

// Runner fires HourRunner passes on a cron schedule.
type Runner struct {
	expr string
	job  HourRunner

	// AfterPass, when set, runs after every pass (housekeeping).
	AfterPass func(ctx context.Context, tick time.Time)

	now func() time.Time
}

// Validate reports whether expr is a 5-field cron expression, or a 6-field
// one with a leading seconds field.
func Validate(expr string) error {
	n := len(strings.Fields(expr))
	if n != 5 && n != 6 {
		return fmt.Errorf("invalid cron expression %q: expected 5 fields (minute hour day-of-month month day-of-week)", expr)
	}
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// Next returns the first tick of expr strictly after from, evaluated in UTC.
func Next(expr string, from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, from.UTC(), false)
}

// New validates expr and returns a Runner for job.
func New(expr string, job HourRunner) (*Runner, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultExpr
	}
	if err := Validate(expr); err != nil {
		return nil, err
	}
	return &Runner{expr: expr, job: job, now: time.Now}, nil
}

// Expr returns the cron expression in use.
func (r *Runner) Expr() string { return r.expr }

// Run blocks until ctx is cancelled. The pass context is ctx itself, so a
// shutdown stops the current pass at its next between-users checkpoint.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Str("cron", r.expr).Msg("digest scheduler started")
	defer log.Info().Msg("digest scheduler stopped")

	for {
		tick, err := Next(r.expr, r.now())
		if err != nil {
			return fmt.Errorf("next tick: %w", err)
		}
		if !r.sleepUntil(ctx, tick) {
			return nil
		}

		hour := tick.UTC().Hour()
		sum, err := r.runPass(ctx, hour)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int("utc_hour", hour).Msg("scheduled digest pass failed")
		} else {
			log.Info().
				Int("utc_hour", hour).
				Int("success", sum.SuccessCount).
				Int("failed", sum.FailedCount).
				Int("skipped", sum.Skipped).
				Msg("scheduled digest pass finished")
		}
		if r.AfterPass != nil && ctx.Err() == nil {
			r.AfterPass(ctx, tick)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runPass calls the job and converts a panic into an error so the runner
// goroutine survives it.
func (r *Runner) runPass(ctx context.Context, hour int) (sum services.RunSummary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("digest pass panicked: %v", p)
		}
	}()
	return r.job.RunForHour(ctx, hour)
}

// sleepUntil waits for t in bounded steps. It returns false when ctx ends
// first.
func (r *Runner) sleepUntil(ctx context.Context, t time.Time) bool {
	for {
		d := t.Sub(r.now())
		if d <= 0 {
			return true
		}
		if d > maxSleep {
			d = maxSleep
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
