// ABOUTME: Entry point for coven-sessions, the session store admin CLI
// ABOUTME: Inspects, resets and simulates session resolution against a shared state directory

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden with -ldflags "-X main.version=..." in release builds.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
