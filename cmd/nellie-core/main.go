// Command nellie-core is a minimal wiring demonstration, not a CLI: it
// takes no flags and serves no network listener. It exists so this module
// has a go build-able entry point, showing an external front-end the
// construction order pkg/nellie.Engine expects: load config, build the
// Engine, run it until a signal arrives, then shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nellielabs/nellie/internal/config"
	"github.com/nellielabs/nellie/pkg/nellie"
)

// shutdownGrace bounds how long main waits for Engine.Shutdown to drain
// in-flight indexing before giving up and exiting anyway.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.WatchDirs) == 0 {
		cfg.WatchDirs = []string{cwd}
	}

	engine, err := nellie.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := engine.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down engine: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
