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

	"github.com/okian/scoreboard/internal/adapters/auth"
	"github.com/okian/scoreboard/internal/adapters/feed"
	"github.com/okian/scoreboard/internal/adapters/http/api"
	"github.com/okian/scoreboard/internal/adapters/rankindex"
	"github.com/okian/scoreboard/internal/adapters/rankindex/redisindex"
	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/adapters/storage/memory"
	"github.com/okian/scoreboard/internal/adapters/storage/postgres"
	"github.com/okian/scoreboard/internal/adapters/storage/seed"
	"github.com/okian/scoreboard/internal/adapters/storage/sqlite"
	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/config"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// The logger is not configured yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithFormat(cfg.LogFormat, os.Stdout); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "scoreboard exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// app holds the wired process components.
type app struct {
	store   storage.Store
	index   rankindex.Index
	hub     *feed.Hub
	svc     *service.Service
	handler http.Handler
}

// build wires storage, the rank index, auth, the service and the router.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	metrics.SetEnabled(cfg.MetricsEnabled)
	metrics.SetRefreshInterval(cfg.MetricsRefresh())

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.LegacySeedFile != "" {
		n, err := seed.LoadLegacyUsers(ctx, cfg.LegacySeedFile, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info(ctx, "legacy users imported", logger.Int("count", n), logger.String("file", cfg.LegacySeedFile))
	}
	index, err := openIndex(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tokenOpts := []auth.Option{}
	if cfg.TokenIssuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(cfg.TokenIssuer))
	}
	hub := feed.NewHub(feed.WithLogger(log.Named("feed")))

	svc, err := service.New(service.Dependencies{
		Store:  store,
		Index:  index,
		Tokens: auth.NewJWTResolver([]byte(cfg.TokenSecret), tokenOpts...),
		Legacy: auth.NewLegacyVerifier(store, cfg.LegacyAPIKey),
	},
		service.WithLogger(log.Named("service")),
		service.WithPolicy(cfg.Policy()),
		service.WithDefaultMax(cfg.DefaultLeaderboardMax),
		service.WithMaxLimit(cfg.MaxLeaderboardLimit),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithReindexQueueSize(cfg.ReindexQueueSize),
		service.WithReindexWorkers(cfg.ReindexWorkers),
		service.WithPublisher(hub),
	)
	if err != nil {
		closeIndex(index)
		_ = store.Close()
		return nil, err
	}

	server := api.NewServer(svc,
		api.WithLogger(log.Named("api")),
		api.WithRequestTimeout(cfg.RequestTimeout()),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithFeed(hub),
		api.WithStats(svc),
	)
	return &app{
		store:   store,
		index:   index,
		hub:     hub,
		svc:     svc,
		handler: server.Router(ctx),
	}, nil
}

func (a *app) close() {
	a.hub.Close()
	closeIndex(a.index)
	_ = a.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
	case config.StorageMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage_driver %q", config.ErrInvalidConfig, cfg.StorageDriver)
	}
}

func openIndex(ctx context.Context, cfg *config.Config, log logger.Logger) (rankindex.Index, error) {
	switch cfg.RankBackend {
	case config.RankRedis:
		return redisindex.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redisindex.WithKeyPrefix(cfg.RedisPrefix))
	case config.RankTreap:
		return rankindex.NewTreapIndex(rankindex.WithLogger(log.Named("rankindex"))), nil
	default:
		return nil, fmt.Errorf("%w: unknown rank_backend %q", config.ErrInvalidConfig, cfg.RankBackend)
	}
}

func closeIndex(index rankindex.Index) {
	if c, ok := index.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, a.svc)

	// No write timeout: feed connections stay open. Other requests carry
	// the configured request deadline.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("storage", cfg.StorageDriver),
			logger.String("rank_backend", cfg.RankBackend),
			logger.String("policy", cfg.ScorePolicy),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := a.svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// startSystemMetricsUpdater refreshes process gauges until ctx ends.
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

// startServiceMetricsUpdater refreshes service gauges until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

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

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if n, ok := stats["reindexQueued"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["reindexWorkers"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
	if n, ok := stats["dirtyLevels"].(int); ok {
		metrics.UpdateDirtyLevels(n)
	}
}
