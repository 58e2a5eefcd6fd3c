package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/fleetglass/fleetglass/internal/jobs"
	"github.com/fleetglass/fleetglass/internal/source"
)

type stubSource struct {
	name        string
	initialized bool
	nodes       []source.Node
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Initialize(context.Context, map[string]any) error {
	s.initialized = true
	return nil
}
func (s *stubSource) Initialized() bool { return s.initialized }
func (s *stubSource) Inventory(context.Context) ([]source.Node, error) {
	return s.nodes, nil
}
func (s *stubSource) Groups(context.Context) ([]source.Group, error) {
	return nil, nil
}
func (s *stubSource) NodeFacts(context.Context, string) (map[string]any, error) {
	return nil, nil
}
func (s *stubSource) HealthCheck(context.Context) (source.HealthStatus, error) {
	return source.HealthStatus{Healthy: true}, nil
}
func (s *stubSource) ExecuteAction(context.Context, source.Action) (any, error) {
	return nil, nil
}

type recordingSink struct {
	mu           sync.Mutex
	health       map[string]bool
	aggregations int
}

func (r *recordingSink) ObserveAggregation(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregations++
}

func (r *recordingSink) SetSourceHealth(source string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		r.health = make(map[string]bool)
	}
	r.health[source] = healthy
}

func testDeps(t *testing.T) (*source.Aggregator, *recordingSink, *jobmetrics.Metrics) {
	t.Helper()
	sink := &recordingSink{}
	agg := source.NewAggregator(slog.New(slog.DiscardHandler), source.WithMetrics(sink))
	require.NoError(t, agg.RegisterPlugin(&stubSource{
		name: "puppet", initialized: true,
		nodes: []source.Node{{ID: "n1"}},
	}, 10))
	return agg, sink, jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestHealthSweepHandler(t *testing.T) {
	agg, sink, jm := testDeps(t)
	handler := NewSourceHealthSweepHandler(agg, jm, slog.New(slog.DiscardHandler))

	task, err := NewSourceHealthSweepTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))

	// The sweep refreshes the health gauge for every source.
	require.Equal(t, map[string]bool{"puppet": true}, sink.health)
}

func TestInventoryWarmupHandler(t *testing.T) {
	agg, sink, jm := testDeps(t)
	handler := NewInventoryWarmupHandler(agg, nil, jm, slog.New(slog.DiscardHandler))

	task, err := NewInventoryWarmupTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))

	// The warmup leaves a fresh aggregate behind and times the pass.
	inv, err := agg.AggregatedInventory(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, inv.Nodes, 1)
	require.Equal(t, 1, sink.aggregations)
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	agg, _, jm := testDeps(t)

	bad := asynq.NewTask(TaskSourceHealthSweep, []byte("{"))
	err := NewSourceHealthSweepHandler(agg, jm, nil)(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)

	bad = asynq.NewTask(TaskInventoryWarmup, []byte("{"))
	err = NewInventoryWarmupHandler(agg, nil, jm, nil)(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
