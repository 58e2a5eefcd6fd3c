package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetglass/fleetglass/internal/jobs"
	"github.com/fleetglass/fleetglass/internal/source"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSourceHealthSweep runs an uncached health check round.
	TaskSourceHealthSweep = "source:health_sweep"
	// TaskInventoryWarmup refreshes the aggregate inventory cache.
	TaskInventoryWarmup = "inventory:warmup"
)

// SweepPayload carries scheduling metadata for periodic tasks.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSourceHealthSweepTask constructs the health sweep task.
func NewSourceHealthSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSourceHealthSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewInventoryWarmupTask constructs the inventory warmup task.
func NewInventoryWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryWarmup, body, asynq.Queue(QueueDefault)), nil
}

// NewSourceHealthSweepHandler processes TaskSourceHealthSweep: every
// source is checked uncached, which refreshes the aggregator's health
// cache and gauges.
func NewSourceHealthSweepHandler(agg *source.Aggregator, jm *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := jm.Track("source_health_sweep")
		statuses := agg.HealthCheckAll(ctx, false)
		unhealthy := 0
		for _, status := range statuses {
			if !status.Healthy {
				unhealthy++
			}
		}
		if logger != nil {
			logger.Info("health sweep complete",
				slog.Int("sources", len(statuses)), slog.Int("unhealthy", unhealthy))
		}
		return tracker.End(nil)
	}
}

// NewInventoryWarmupHandler processes TaskInventoryWarmup: the aggregate
// is recomputed so interactive requests keep hitting a warm cache. The
// refreshed aggregate is mirrored when a snapshot store is provided.
func NewInventoryWarmupHandler(agg *source.Aggregator, snapshots *source.SnapshotStore, jm *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := jm.Track("inventory_warmup")
		inv, err := agg.AggregatedInventory(ctx, false)
		if err != nil {
			if logger != nil {
				logger.Error("inventory warmup failed", slog.Any("error", err))
			}
			return tracker.End(err)
		}
		if snapshots != nil {
			if err := snapshots.Save(ctx, inv); err != nil && logger != nil {
				logger.Warn("snapshot mirror failed", slog.Any("error", err))
			}
		}
		if logger != nil {
			logger.Info("inventory warmup complete",
				slog.Int("nodes", len(inv.Nodes)), slog.Int("groups", len(inv.Groups)))
		}
		return tracker.End(nil)
	}
}
