package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-digest-backend/internal/schedule"
	"github.com/tbourn/go-digest-backend/internal/scheduler"
	"github.com/tbourn/go-digest-backend/internal/services"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		hour int
		pace time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduler pass",
		Long: `Generate and deliver digests for every enabled user whose schedule
falls in the given UTC hour. Defaults to the current UTC hour, like the cron
endpoint does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("hour") && (hour < 0 || hour > 23) {
				return fmt.Errorf("--hour must be in [0,23], got %d", hour)
			}
			defer a.close()
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("hour") {
				hour = time.Now().UTC().Hour()
			}
			if cmd.Flags().Changed("pace") {
				a.deps.Scheduler.PaceInterval = pace
			}

			sum, err := a.deps.Scheduler.RunForHour(cmd.Context(), hour)
			if err != nil {
				return err
			}
			return a.emit(struct {
				UTCHour int `json:"utcHour"`
				services.RunSummary
			}{hour, sum}, func() string {
				return fmt.Sprintf("UTC hour %02d: %d sent, %d failed, %d skipped",
					hour, sum.SuccessCount, sum.FailedCount, sum.Skipped)
			})
		},
	}
	cmd.Flags().IntVar(&hour, "hour", 0, "UTC hour to run (default: current UTC hour)")
	cmd.Flags().DurationVar(&pace, "pace", services.DefaultPaceInterval, "delay between users")
	return cmd
}

func newTriggerCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Generate and deliver one user's digest now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			ok, err := a.deps.Scheduler.TriggerForUser(cmd.Context(), userID)
			if errors.Is(err, services.ErrSettingsNotFound) {
				return fmt.Errorf("no digest settings for user %q", userID)
			}
			out := struct {
				UserID  string `json:"userId"`
				Success bool   `json:"success"`
				Error   string `json:"error,omitempty"`
			}{UserID: userID, Success: ok}
			if err != nil {
				out.Error = err.Error()
			}
			if eerr := a.emit(out, func() string {
				if err != nil {
					return fmt.Sprintf("%s: failed: %v", userID, err)
				}
				return userID + ": digest sent"
			}); eerr != nil {
				return eerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired idempotency records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			n, err := a.be.PurgeExpiredIdempotency(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			return a.emit(map[string]int64{"purged": n}, func() string {
				return fmt.Sprintf("purged %d expired idempotency records", n)
			})
		},
	}
}

func newConvertCmd(a *app) *cobra.Command {
	var localTime, tz string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a local HH:mm schedule to its UTC trigger",
		Example: `  digestctl convert --time 08:00 --tz Asia/Jakarta   # 01:00 UTC
  digestctl convert --time 00:30 --tz Asia/Tokyo     # 15:30 UTC`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			utc, err := schedule.Convert(localTime, tz)
			if err != nil {
				return err
			}
			offset := schedule.ResolveOffset(tz)
			return a.emit(struct {
				Time     string `json:"scheduleTime"`
				Timezone string `json:"timezone"`
				Offset   int    `json:"offsetHours"`
				Known    bool   `json:"knownTimezone"`
				schedule.UTCTime
			}{localTime, tz, offset, schedule.IsKnownTimezone(tz), utc}, func() string {
				line := fmt.Sprintf("%s %s (UTC%+d) -> %s UTC", localTime, tz, offset, utc)
				if !schedule.IsKnownTimezone(tz) {
					line += "  [unknown zone, default offset]"
				}
				return line
			})
		},
	}
	cmd.Flags().StringVar(&localTime, "time", "", "local time as HH:mm (required)")
	cmd.Flags().StringVar(&tz, "tz", "Asia/Jakarta", "IANA timezone name")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newNextCmd(a *app) *cobra.Command {
	var (
		expr  string
		from  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show upcoming ticks of a scheduler cron expression",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := scheduler.Validate(expr); err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be >= 1")
			}
			ref := time.Now().UTC()
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				ref = t.UTC()
			}

			ticks := make([]time.Time, 0, count)
			for i := 0; i < count; i++ {
				t, err := scheduler.Next(expr, ref)
				if err != nil {
					return err
				}
				ticks = append(ticks, t)
				ref = t
			}
			return a.emit(ticks, func() string {
				lines := make([]string, len(ticks))
				for i, t := range ticks {
					lines[i] = fmt.Sprintf("%s  (UTC hour %02d)", t.Format(time.RFC3339), t.Hour())
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVar(&expr, "cron", scheduler.DefaultExpr, "cron expression, evaluated in UTC")
	cmd.Flags().StringVar(&from, "from", "", "reference time, RFC3339 (default: now)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ticks")
	return cmd
}

func newTimezonesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timezones",
		Short: "List timezones with a fixed UTC offset",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			zones := schedule.KnownTimezones()
			type zone struct {
				Name   string `json:"name"`
				Offset int    `json:"offsetHours"`
			}
			out := make([]zone, len(zones))
			for i, z := range zones {
				out[i] = zone{Name: z, Offset: schedule.ResolveOffset(z)}
			}
			return a.emit(out, func() string {
				lines := make([]string, len(out))
				for i, z := range out {
					lines[i] = fmt.Sprintf("%-22s UTC%+d", z.Name, z.Offset)
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}
