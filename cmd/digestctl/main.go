// Command digestctl is the operator CLI for the digest backend: one-shot
// scheduler passes, manual triggers, housekeeping, and schedule arithmetic.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	// A pass interrupted mid-way stops at the next user boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
