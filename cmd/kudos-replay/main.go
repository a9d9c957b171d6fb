package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/kudos/internal/replay"
	"github.com/okian/kudos/pkg/logger"
)

// Default configuration constants.
const (
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultTimeout = 30 * time.Second
	defaultRunTime = 10 * time.Minute
	defaultUsers   = 100
	defaultEvents  = 10000
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the service")
		mode    = flag.String("mode", replay.ModeReprocess, "reprocess: re-dispatch pending events; load: submit synthetic events")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		limit   = flag.Int("limit", 0, "Maximum pending events to reprocess (0 for all)")
		dryRun  = flag.Bool("dry-run", false, "List pending events without reprocessing them")
		users   = flag.Int("users", defaultUsers, "Synthetic users in load mode")
		events  = flag.Int("events", defaultEvents, "Events to submit in load mode")
		team    = flag.String("team", "", "Team for synthetic users in load mode")
		verbose = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTime)
	defer cancel()

	stats, err := replay.Run(ctx, replay.Config{
		BaseURL: *baseURL,
		Mode:    *mode,
		Workers: *workers,
		Timeout: *timeout,
		Limit:   *limit,
		DryRun:  *dryRun,
		Users:   *users,
		Events:  *events,
		TeamID:  *team,
	})
	if err != nil {
		logger.Get().Error(ctx, "replay failed", logger.Error(err))
		os.Exit(1)
	}
	if stats.Failed > 0 {
		os.Exit(2)
	}
}
