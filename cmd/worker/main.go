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
	"github.com/redis/go-redis/v9"

	"github.com/fleetglass/fleetglass/internal/app"
	jobmetrics "github.com/fleetglass/fleetglass/internal/jobs"
	"github.com/fleetglass/fleetglass/internal/observability"
	"github.com/fleetglass/fleetglass/internal/source"
	"github.com/fleetglass/fleetglass/internal/source/staticsource"
	"github.com/fleetglass/fleetglass/jobs"
)

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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())

	// The worker has no API surface, so its job and source gauges get
	// their own scrape listener.
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logger.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		if err := metricsServer.Close(); err != nil {
			logger.Warn("metrics server close", slog.Any("error", err))
		}
	}()

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
		settings[sc.Name] = sc.Settings
	}
	for name, err := range aggregator.InitializePlugins(ctx, settings) {
		logger.Warn("source failed to initialize", slog.String("name", name), slog.Any("error", err))
	}

	snapshots := source.NewSnapshotStore(redisClient, cfg.SnapshotTTL)

	sweepTask, err := jobs.NewSourceHealthSweepTask(time.Now())
	if err != nil {
		logger.Error("build health sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewInventoryWarmupTask(time.Now())
	if err != nil {
		logger.Error("build inventory warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSourceHealthSweep, Handler: jobs.NewSourceHealthSweepHandler(aggregator, jm, logger)},
			{Type: jobs.TaskInventoryWarmup, Handler: jobs.NewInventoryWarmupHandler(aggregator, snapshots, jm, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "* * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "*/5 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
