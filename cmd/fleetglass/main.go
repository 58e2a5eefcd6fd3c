package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fleetglass/fleetglass/internal/app"
	"github.com/fleetglass/fleetglass/internal/capability"
	"github.com/fleetglass/fleetglass/internal/nodelink"
	"github.com/fleetglass/fleetglass/internal/observability"
	"github.com/fleetglass/fleetglass/internal/platform/cache"
	"github.com/fleetglass/fleetglass/internal/platform/db"
	"github.com/fleetglass/fleetglass/internal/policy"
	"github.com/fleetglass/fleetglass/internal/shared"
	"github.com/fleetglass/fleetglass/internal/source"
	"github.com/fleetglass/fleetglass/internal/source/staticsource"
	"github.com/fleetglass/fleetglass/jobs"
)

// buildSource maps a configured kind to its implementation. Real
// infrastructure plugins register themselves out of process; "static"
// is the only kind compiled in.
func buildSource(kind, name string) (source.Source, bool) {
	switch kind {
	case "static":
		return staticsource.New(name), true
	default:
		return nil, false
	}
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 10})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var snapshots *source.SnapshotStore
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, snapshot mirror disabled", slog.Any("error", err))
	} else {
		snapshots = source.NewSnapshotStore(redisClient, cfg.SnapshotTTL)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	store := policy.NewSQLStore(dbpool)
	evaluator := policy.NewEvaluator(store,
		policy.WithCacheTTL(cfg.PermissionCacheTTL),
		policy.WithLogger(logger),
		policy.WithMetrics(metrics))
	authz := policy.Middleware{Evaluator: evaluator, Logger: logger}

	auditLogger := shared.NewAuditLogger(dbpool)
	registry := capability.NewRegistry(
		capability.WithChecker(evaluator),
		capability.WithAudit(auditLogger),
		capability.WithMetrics(metrics),
		capability.WithLogger(logger))

	aggregator := source.NewAggregator(logger,
		source.WithInventoryTTL(cfg.InventoryCacheTTL),
		source.WithHealthTTL(cfg.HealthCacheTTL),
		source.WithMetrics(metrics))

	sourcesCfg, err := source.LoadConfig(cfg.SourcesConfig)
	if err != nil {
		logger.Error("load sources config", slog.Any("error", err))
		os.Exit(1)
	}
	settings := make(map[string]map[string]any, len(sourcesCfg.Sources))
	for _, sc := range sourcesCfg.Sources {
		src, ok := buildSource(sc.Kind, sc.Name)
		if !ok {
			logger.Warn("unknown source kind, skipping",
				slog.String("name", sc.Name), slog.String("kind", sc.Kind))
			continue
		}
		if err := aggregator.RegisterPlugin(src, sc.Priority); err != nil {
			logger.Error("register source", slog.String("name", sc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		if err := source.RegisterCapabilities(registry, src, capability.DefaultPriority); err != nil {
			logger.Error("register source capabilities", slog.String("name", sc.Name), slog.Any("error", err))
			os.Exit(1)
		}
		settings[sc.Name] = sc.Settings
	}
	for name, err := range aggregator.InitializePlugins(ctx, settings) {
		logger.Warn("source failed to initialize", slog.String("name", name), slog.Any("error", err))
	}
	aggregator.StartHealthCheckScheduler(cfg.HealthCheckInterval)
	defer aggregator.StopHealthCheckScheduler()

	linker := nodelink.NewLinker(aggregator, registry,
		nodelink.WithCertSource(cfg.CanonicalCertSource),
		nodelink.WithLogger(logger))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	router := app.NewRouter(app.RouterParams{
		Middleware: app.MiddlewareConfig{
			Logger:  logger,
			Config:  cfg,
			Metrics: metrics,
		},
		CapabilityHandler: capability.NewHandler(logger, registry, authz),
		SourceHandler:     source.NewHandler(logger, aggregator, snapshots, authz),
		NodeHandler:       nodelink.NewHandler(logger, linker, authz),
		JobsHandler:       jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
