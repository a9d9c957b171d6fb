package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/kudos/internal/adapters/http/api"
	"github.com/okian/kudos/internal/adapters/http/swagger"
	"github.com/okian/kudos/internal/adapters/notify"
	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/adapters/repository/postgres"
	"github.com/okian/kudos/internal/adapters/repository/sqlite"
	app "github.com/okian/kudos/internal/app"
	"github.com/okian/kudos/internal/config"
	"github.com/okian/kudos/internal/domain/catalog"
	"github.com/okian/kudos/pkg/logger"
	"github.com/okian/kudos/pkg/metrics"
	"github.com/okian/kudos/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	serviceMetricsInterval    = 15 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "kudos exited", logger.Error(err))
		os.Exit(1)
	}
}

// run serves the API until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "store close failed", logger.Error(err))
		}
	}()

	cat, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := openPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	svc := app.New(store, cat,
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithTeamWorkerCount(cfg.TeamWorkerCount),
		app.WithTeamQueueSize(cfg.TeamQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithPublisher(publisher),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(serr))
	}
	if serr := svc.Stop(shutdownCtx); serr != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(serr))
	}
	log.Info(ctx, "server stopped")
	return err
}

// newMux registers the business API and the OpenAPI document.
func newMux(ctx context.Context, svc *app.Service, cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	stats := func(ctx context.Context) any { return svc.GetStats(ctx) }
	api.NewServer(svc, stats, cfg.MaxLeaderboardLimit).Register(ctx, mux)
	return mux
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithMaxAttempts(cfg.TxMaxAttempts))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL, postgres.WithMaxAttempts(cfg.TxMaxAttempts))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return repository.NewMemoryStore(repository.WithMaxAttempts(cfg.TxMaxAttempts)), nil
	}
}

// loadCatalog reads rules_path, or the embedded catalog when unset.
func loadCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.RulesPath == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(ctx, cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", cfg.RulesPath, err)
	}
	return cat, nil
}

// openPublisher connects to Redis when redis_addr is set.
func openPublisher(ctx context.Context, cfg *config.Config) (notify.Publisher, error) {
	if cfg.RedisAddr == "" {
		return notify.Nop{}, nil
	}
	p, err := notify.Dial(ctx, cfg.RedisAddr, notify.WithChannel(cfg.RedisChannel))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes gauges that are not updated inline.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates the leaderboard and pending event gauges.
func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	metrics.UpdateLeaderboardUsers(svc.GetStats(ctx).RankedUsers)
	// PendingEvents with no limit refreshes the pending gauge
	if _, err := svc.PendingEvents(ctx, 0); err != nil {
		logger.Get().Debug(ctx, "pending events refresh failed", logger.Error(err))
	}
}
