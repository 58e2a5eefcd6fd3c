package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fleetglass/fleetglass/internal/platform/cache"
)

// Default cache lifetimes. Overridable per aggregator.
const (
	DefaultInventoryTTL = 2 * time.Minute
	DefaultHealthTTL    = 30 * time.Second
)

// DefaultHealthCheckInterval is the scheduler cadence used when the
// configured interval is zero or negative.
const DefaultHealthCheckInterval = time.Minute

// MetricsSink receives aggregation timings and per-source health
// samples. *observability.Metrics satisfies this.
type MetricsSink interface {
	ObserveAggregation(d time.Duration)
	SetSourceHealth(source string, healthy bool)
}

const inventoryCacheKey = "inventory"

type plugin struct {
	src      Source
	priority int
}

// Aggregator owns the registered source plugins and produces the merged
// inventory view. Per-source failures are data, never fatal: a failing
// source shows up in Inventory.Sources and the rest still aggregate.
type Aggregator struct {
	mu      sync.RWMutex
	plugins []plugin

	inventoryCache *cache.Store[Inventory]
	healthCache    *cache.Store[HealthStatus]
	flight         singleflight.Group
	validate       *validator.Validate
	logger         *slog.Logger
	metrics        MetricsSink
	now            func() time.Time

	sched scheduler
}

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*aggregatorConfig)

type aggregatorConfig struct {
	inventoryTTL time.Duration
	healthTTL    time.Duration
	metrics      MetricsSink
	now          func() time.Time
}

// WithInventoryTTL overrides the aggregate inventory cache lifetime.
func WithInventoryTTL(ttl time.Duration) AggregatorOption {
	return func(c *aggregatorConfig) { c.inventoryTTL = ttl }
}

// WithHealthTTL overrides the per-source health cache lifetime.
func WithHealthTTL(ttl time.Duration) AggregatorOption {
	return func(c *aggregatorConfig) { c.healthTTL = ttl }
}

// WithNow overrides the time source for cache expiry and timestamps.
func WithNow(now func() time.Time) AggregatorOption {
	return func(c *aggregatorConfig) { c.now = now }
}

// WithMetrics attaches health and aggregation instruments. Every
// uncached aggregation pass and every health check feeds the sink.
func WithMetrics(metrics MetricsSink) AggregatorOption {
	return func(c *aggregatorConfig) { c.metrics = metrics }
}

// NewAggregator builds an empty aggregator.
func NewAggregator(logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	cfg := aggregatorConfig{
		inventoryTTL: DefaultInventoryTTL,
		healthTTL:    DefaultHealthTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	clock := func() time.Time { return cfg.now() }
	return &Aggregator{
		inventoryCache: cache.NewStore[Inventory](cfg.inventoryTTL, cache.WithClock[Inventory](clock)),
		healthCache:    cache.NewStore[HealthStatus](cfg.healthTTL, cache.WithClock[HealthStatus](clock)),
		validate:       validator.New(),
		logger:         logger,
		metrics:        cfg.metrics,
		now:            cfg.now,
	}
}

// RegisterPlugin adds a source with its dedup priority. Registration
// order decides iteration order everywhere the priority does not.
func (a *Aggregator) RegisterPlugin(src Source, priority int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.plugins {
		if p.src.Name() == src.Name() {
			return fmt.Errorf("source: plugin %q already registered", src.Name())
		}
	}
	a.plugins = append(a.plugins, plugin{src: src, priority: priority})
	return nil
}

// Plugins returns the registered sources in registration order.
func (a *Aggregator) Plugins() []Source {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Source, 0, len(a.plugins))
	for _, p := range a.plugins {
		out = append(out, p.src)
	}
	return out
}

// PluginByName returns the named source, or nil.
func (a *Aggregator) PluginByName(name string) Source {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.plugins {
		if p.src.Name() == name {
			return p.src
		}
	}
	return nil
}

// InitializePlugins initializes every plugin best-effort: a failure is
// recorded in the returned map and the remaining plugins still run.
func (a *Aggregator) InitializePlugins(ctx context.Context, settings map[string]map[string]any) map[string]error {
	failures := make(map[string]error)
	for _, p := range a.snapshot() {
		name := p.src.Name()
		if err := p.src.Initialize(ctx, settings[name]); err != nil {
			failures[name] = err
			if a.logger != nil {
				a.logger.Error("source initialization failed", slog.String("source", name), slog.Any("error", err))
			}
		}
	}
	return failures
}

func (a *Aggregator) snapshot() []plugin {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]plugin, len(a.plugins))
	copy(out, a.plugins)
	return out
}

// sourceResult is what one concurrent per-source query produced.
type sourceResult struct {
	nodes  []Node
	groups []Group
	status SourceStatus
}

// AggregatedInventory returns the merged cross-source view. With
// useCache a fresh cached aggregate is returned unchanged; otherwise
// every initialized plugin is queried concurrently and the results are
// validated, deduplicated, linked, and cached. Concurrent uncached
// callers share one aggregation pass.
func (a *Aggregator) AggregatedInventory(ctx context.Context, useCache bool) (Inventory, error) {
	if useCache {
		if cached, ok := a.inventoryCache.Get(inventoryCacheKey); ok {
			return cached, nil
		}
	}

	v, err, _ := a.flight.Do(inventoryCacheKey, func() (any, error) {
		return a.aggregate(ctx)
	})
	if err != nil {
		return Inventory{}, err
	}
	inv := v.(Inventory)
	return inv, nil
}

func (a *Aggregator) aggregate(ctx context.Context) (Inventory, error) {
	started := time.Now()
	plugins := a.snapshot()
	results := make([]sourceResult, len(plugins))

	var g errgroup.Group
	for i, p := range plugins {
		g.Go(func() error {
			results[i] = a.querySource(ctx, p.src)
			return nil
		})
	}
	// Goroutines never return errors; failures land in their status.
	_ = g.Wait()

	inv := Inventory{
		Sources:     make(map[string]SourceStatus, len(plugins)),
		GeneratedAt: a.now(),
	}

	var allNodes []Node
	var allGroups []Group
	priorities := make(map[string]int, len(plugins))
	for i, p := range plugins {
		name := p.src.Name()
		priorities[name] = p.priority
		inv.Sources[name] = results[i].status
		allNodes = append(allNodes, results[i].nodes...)
		allGroups = append(allGroups, a.validGroups(name, results[i].groups, results[i].nodes)...)
	}

	inv.Nodes = dedupNodes(allNodes, priorities)
	inv.Groups = linkGroups(allGroups)

	a.inventoryCache.Set(inventoryCacheKey, inv)
	if a.metrics != nil {
		a.metrics.ObserveAggregation(time.Since(started))
	}
	return inv, nil
}

// querySource fetches one source's nodes and groups, tagging each record
// with the source name. Group failure degrades to nodes-only; inventory
// failure or an uninitialized plugin yields unavailable.
func (a *Aggregator) querySource(ctx context.Context, src Source) sourceResult {
	name := src.Name()
	if !src.Initialized() {
		return sourceResult{status: SourceStatus{Status: StatusUnavailable, Error: "not initialized"}}
	}

	nodes, err := src.Inventory(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Error("source inventory failed", slog.String("source", name), slog.Any("error", err))
		}
		return sourceResult{status: SourceStatus{Status: StatusUnavailable, Error: err.Error()}}
	}
	for i := range nodes {
		nodes[i].Source = name
	}

	res := sourceResult{
		nodes:  nodes,
		status: SourceStatus{Status: StatusOK, NodeCount: len(nodes)},
	}

	groups, err := src.Groups(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("source groups failed, keeping nodes only", slog.String("source", name), slog.Any("error", err))
		}
		res.status.Status = StatusDegraded
		res.status.Error = err.Error()
		return res
	}
	for i := range groups {
		groups[i].Source = name
	}
	res.groups = groups
	res.status.GroupCount = len(groups)
	return res
}

// validGroups validates and sanitizes one source's groups: invalid or
// duplicate-id groups are dropped with a log line, names are cleaned,
// and members absent from the source's node set are flagged but kept.
func (a *Aggregator) validGroups(sourceName string, groups []Group, nodes []Node) []Group {
	validIDs := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		validIDs[n.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(groups))
	out := make([]Group, 0, len(groups))
	for _, grp := range groups {
		if err := a.validate.Struct(grp); err != nil || grp.Nodes == nil {
			if a.logger != nil {
				a.logger.Warn("dropping invalid group",
					slog.String("source", sourceName), slog.String("group_id", grp.ID))
			}
			continue
		}
		if _, dup := seen[grp.ID]; dup {
			if a.logger != nil {
				a.logger.Warn("dropping duplicate group id",
					slog.String("source", sourceName), slog.String("group_id", grp.ID))
			}
			continue
		}
		seen[grp.ID] = struct{}{}

		grp.Name = SanitizeName(grp.Name)
		grp.MissingNodes = nil
		for _, id := range grp.Nodes {
			if _, ok := validIDs[id]; !ok {
				grp.MissingNodes = append(grp.MissingNodes, id)
			}
		}
		out = append(out, grp)
	}
	return out
}

// dedupNodes keeps one node per id in first-occurrence order. On an id
// collision the copy from the higher-priority source wins in place.
func dedupNodes(nodes []Node, priorities map[string]int) []Node {
	index := make(map[string]int, len(nodes))
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		at, ok := index[n.ID]
		if !ok {
			index[n.ID] = len(out)
			out = append(out, n)
			continue
		}
		if priorities[n.Source] > priorities[out[at].Source] {
			out[at] = n
		}
	}
	return out
}

// linkGroups merges same-named groups across sources. A name reported by
// one source passes through unchanged; two or more sources produce a
// linked group with the union of members, union of sources, and merged
// metadata where the later-processed source wins on key collision.
func linkGroups(groups []Group) []AggregatedGroup {
	byName := make(map[string][]Group, len(groups))
	order := make([]string, 0, len(groups))
	for _, grp := range groups {
		if _, ok := byName[grp.Name]; !ok {
			order = append(order, grp.Name)
		}
		byName[grp.Name] = append(byName[grp.Name], grp)
	}

	out := make([]AggregatedGroup, 0, len(order))
	for _, name := range order {
		members := byName[name]
		if len(members) == 1 {
			grp := members[0]
			out = append(out, AggregatedGroup{
				ID:       grp.ID,
				Name:     grp.Name,
				Sources:  []string{grp.Source},
				Nodes:    grp.Nodes,
				Metadata: grp.Metadata,
			})
			continue
		}

		linked := AggregatedGroup{
			ID:     "linked:" + name,
			Name:   name,
			Linked: true,
		}
		seenNodes := make(map[string]struct{})
		seenSources := make(map[string]struct{})
		for _, grp := range members {
			if _, ok := seenSources[grp.Source]; !ok {
				seenSources[grp.Source] = struct{}{}
				linked.Sources = append(linked.Sources, grp.Source)
			}
			for _, id := range grp.Nodes {
				if _, ok := seenNodes[id]; ok {
					continue
				}
				seenNodes[id] = struct{}{}
				linked.Nodes = append(linked.Nodes, id)
			}
			for k, v := range grp.Metadata {
				if linked.Metadata == nil {
					linked.Metadata = make(map[string]string)
				}
				linked.Metadata[k] = v
			}
		}
		out = append(out, linked)
	}
	return out
}

// ClearInventoryCache drops the cached aggregate immediately.
func (a *Aggregator) ClearInventoryCache() {
	a.inventoryCache.Delete(inventoryCacheKey)
}

// ClearHealthCheckCache drops every cached health result.
func (a *Aggregator) ClearHealthCheckCache() {
	a.healthCache.Clear()
}

// ClearAllCaches drops both caches.
func (a *Aggregator) ClearAllCaches() {
	a.ClearInventoryCache()
	a.ClearHealthCheckCache()
}
