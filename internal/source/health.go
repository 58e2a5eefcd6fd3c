package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type scheduler struct {
	mu       sync.Mutex
	running  bool
	inFlight bool
	stop     chan struct{}
	done     chan struct{}
}

// HealthCheckAll queries every plugin's health concurrently. A check
// failure is captured as an unhealthy status, never propagated. With
// useCache the cached map is returned only when every registered plugin
// still has a fresh entry.
func (a *Aggregator) HealthCheckAll(ctx context.Context, useCache bool) map[string]HealthStatus {
	plugins := a.snapshot()

	if useCache {
		cached := make(map[string]HealthStatus, len(plugins))
		fresh := true
		for _, p := range plugins {
			status, ok := a.healthCache.Get(p.src.Name())
			if !ok {
				fresh = false
				break
			}
			cached[p.src.Name()] = status
		}
		if fresh && len(plugins) > 0 {
			return cached
		}
	}

	results := make([]HealthStatus, len(plugins))
	var g errgroup.Group
	for i, p := range plugins {
		g.Go(func() error {
			results[i] = a.checkOne(ctx, p.src)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]HealthStatus, len(plugins))
	for i, p := range plugins {
		name := p.src.Name()
		out[name] = results[i]
		a.healthCache.Set(name, results[i])
		if a.metrics != nil {
			a.metrics.SetSourceHealth(name, results[i].Healthy)
		}
	}
	return out
}

func (a *Aggregator) checkOne(ctx context.Context, src Source) HealthStatus {
	if !src.Initialized() {
		return HealthStatus{Healthy: false, Message: "not initialized", LastCheck: a.now()}
	}
	status, err := src.HealthCheck(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("health check failed", slog.String("source", src.Name()), slog.Any("error", err))
		}
		return HealthStatus{Healthy: false, Message: err.Error(), LastCheck: a.now()}
	}
	if status.LastCheck.IsZero() {
		status.LastCheck = a.now()
	}
	return status
}

// StartHealthCheckScheduler begins periodic uncached health sweeps.
// A non-positive interval falls back to DefaultHealthCheckInterval.
// Starting while running is a no-op. A sweep that outlives the interval
// suppresses the next tick instead of overlapping it.
func (a *Aggregator) StartHealthCheckScheduler(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	a.sched.mu.Lock()
	defer a.sched.mu.Unlock()
	if a.sched.running {
		return
	}
	a.sched.running = true
	a.sched.stop = make(chan struct{})
	a.sched.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.sched.mu.Lock()
				if a.sched.inFlight {
					a.sched.mu.Unlock()
					continue
				}
				a.sched.inFlight = true
				a.sched.mu.Unlock()

				a.HealthCheckAll(context.Background(), false)

				a.sched.mu.Lock()
				a.sched.inFlight = false
				a.sched.mu.Unlock()
			}
		}
	}(a.sched.stop, a.sched.done)
}

// StopHealthCheckScheduler halts the periodic sweeps and waits for the
// scheduler goroutine to exit. Stopping while not running is a no-op.
func (a *Aggregator) StopHealthCheckScheduler() {
	a.sched.mu.Lock()
	if !a.sched.running {
		a.sched.mu.Unlock()
		return
	}
	a.sched.running = false
	stop := a.sched.stop
	done := a.sched.done
	a.sched.mu.Unlock()

	close(stop)
	<-done
}
