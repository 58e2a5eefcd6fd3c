package source

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name        string
	initialized bool
	nodes       []Node
	groups      []Group
	invErr      error
	groupErr    error
	healthErr   error
	healthy     bool
	checks      atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Initialize(context.Context, map[string]any) error {
	f.initialized = true
	return nil
}
func (f *fakeSource) Initialized() bool { return f.initialized }
func (f *fakeSource) Inventory(context.Context) ([]Node, error) {
	if f.invErr != nil {
		return nil, f.invErr
	}
	return f.nodes, nil
}
func (f *fakeSource) Groups(context.Context) ([]Group, error) {
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	return f.groups, nil
}
func (f *fakeSource) NodeFacts(context.Context, string) (map[string]any, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeSource) HealthCheck(context.Context) (HealthStatus, error) {
	f.checks.Add(1)
	if f.healthErr != nil {
		return HealthStatus{}, f.healthErr
	}
	return HealthStatus{Healthy: f.healthy}, nil
}
func (f *fakeSource) ExecuteAction(context.Context, Action) (any, error) {
	return nil, errors.New("not implemented")
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDedupKeepsHighestPrioritySource(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "ansible", initialized: true,
		nodes: []Node{{ID: "n1", Name: "from-ansible"}},
	}, 5))
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "puppet", initialized: true,
		nodes: []Node{{ID: "n1", Name: "from-puppet"}},
	}, 10))
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "ca", initialized: true,
		nodes: []Node{{ID: "n2"}},
	}, 1))

	inv, err := agg.AggregatedInventory(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, inv.Nodes, 2)
	require.Equal(t, "n1", inv.Nodes[0].ID)
	require.Equal(t, "puppet", inv.Nodes[0].Source)
	require.Equal(t, "n2", inv.Nodes[1].ID)
}

func TestDedupIdempotentAndOrderPreserving(t *testing.T) {
	priorities := map[string]int{"a": 1, "b": 2}
	nodes := []Node{
		{ID: "x", Source: "a"},
		{ID: "y", Source: "a"},
		{ID: "x", Source: "b"},
		{ID: "z", Source: "b"},
	}

	once := dedupNodes(nodes, priorities)
	twice := dedupNodes(once, priorities)
	require.Equal(t, once, twice)

	ids := make([]string, len(once))
	for i, n := range once {
		ids[i] = n.ID
	}
	require.Equal(t, []string{"x", "y", "z"}, ids)
	require.Equal(t, "b", once[0].Source)

	unique := dedupNodes([]Node{{ID: "a"}, {ID: "b"}}, nil)
	require.Len(t, unique, 2)
}

func TestUninitializedSourceIsUnavailable(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{name: "cold"}, 1))
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "warm", initialized: true, nodes: []Node{{ID: "n1"}},
	}, 1))

	inv, err := agg.AggregatedInventory(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, inv.Sources["cold"].Status)
	require.Zero(t, inv.Sources["cold"].NodeCount)
	require.Equal(t, StatusOK, inv.Sources["warm"].Status)
	require.Len(t, inv.Nodes, 1)
}

func TestGroupFailureDegradesToNodesOnly(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "puppet", initialized: true,
		nodes:    []Node{{ID: "n1"}},
		groupErr: errors.New("timeout"),
	}, 1))

	inv, err := agg.AggregatedInventory(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, StatusDegraded, inv.Sources["puppet"].Status)
	require.Equal(t, "timeout", inv.Sources["puppet"].Error)
	require.Len(t, inv.Nodes, 1)
	require.Empty(t, inv.Groups)
}

func TestInventoryFailureIsUnavailable(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "puppet", initialized: true, invErr: errors.New("refused"),
	}, 1))

	inv, err := agg.AggregatedInventory(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, inv.Sources["puppet"].Status)
	require.Empty(t, inv.Nodes)
}

func TestGroupValidationAndSanitization(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{
		name: "puppet", initialized: true,
		nodes: []Node{{ID: "n1"}},
		groups: []Group{
			{ID: "g1", Name: "<b>web; servers</b>", Nodes: []string{"n1", "ghost"}},
			{ID: "", Name: "no-id", Nodes: []string{}},
			{ID: "g2", Name: "nil-members", Nodes: nil},
			{ID: "g1", Name: "duplicate-id", Nodes: []string{}},
			{ID: "g3", Name: "<script></script>", Nodes: []string{}},
		},
	}, 1))

	inv, err := agg.AggregatedInventory(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, inv.Groups, 2)

	byID := map[string]AggregatedGroup{}
	for _, g := range inv.Groups {
		byID[g.ID] = g
	}
	require.Equal(t, "web servers", byID["g1"].Name)
	// Wholly-stripped names fall back to the placeholder.
	require.Equal(t, PlaceholderName, byID["g3"].Name)
}

func TestMissingMembersFlaggedButKept(t *testing.T) {
	agg := NewAggregator(discard())
	groups := agg.validGroups("puppet",
		[]Group{{ID: "g1", Name: "web", Source: "puppet", Nodes: []string{"n1", "gone"}}},
		[]Node{{ID: "n1"}})
	require.Len(t, groups, 1)
	require.Equal(t, []string{"n1", "gone"}, groups[0].Nodes)
	require.Equal(t, []string{"gone"}, groups[0].MissingNodes)
}

func TestGroupLinking(t *testing.T) {
	a := Group{ID: "p-web", Name: "web", Source: "puppet", Nodes: []string{"n1", "n2"}, Metadata: map[string]string{"env": "prod", "owner": "infra"}}
	b := Group{ID: "a-web", Name: "web", Source: "ansible", Nodes: []string{"n2", "n3"}, Metadata: map[string]string{"env": "staging"}}
	solo := Group{ID: "db", Name: "db", Source: "puppet", Nodes: []string{"n4"}}

	linked := linkGroups([]Group{a, b, solo})
	require.Len(t, linked, 2)

	web := linked[0]
	require.Equal(t, "linked:web", web.ID)
	require.True(t, web.Linked)
	require.ElementsMatch(t, []string{"n1", "n2", "n3"}, web.Nodes)
	require.LessOrEqual(t, len(web.Nodes), len(a.Nodes)+len(b.Nodes))
	require.ElementsMatch(t, []string{"puppet", "ansible"}, web.Sources)
	// Later source wins on metadata collisions.
	require.Equal(t, "staging", web.Metadata["env"])
	require.Equal(t, "infra", web.Metadata["owner"])

	require.False(t, linked[1].Linked)
	require.Equal(t, "db", linked[1].ID)

	// Commutative up to ordering within the merged sets.
	reversed := linkGroups([]Group{b, a, solo})
	require.ElementsMatch(t, web.Nodes, reversed[0].Nodes)
	require.ElementsMatch(t, web.Sources, reversed[0].Sources)
	require.Equal(t, web.ID, reversed[0].ID)
}

func TestInventoryCache(t *testing.T) {
	clock := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{name: "puppet", initialized: true, nodes: []Node{{ID: "n1"}}}
	agg := NewAggregator(discard(),
		WithInventoryTTL(time.Minute),
		WithNow(func() time.Time { return clock }))
	require.NoError(t, agg.RegisterPlugin(src, 1))

	first, err := agg.AggregatedInventory(context.Background(), true)
	require.NoError(t, err)

	src.nodes = append(src.nodes, Node{ID: "n2"})
	cached, err := agg.AggregatedInventory(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, first.GeneratedAt, cached.GeneratedAt)
	require.Len(t, cached.Nodes, 1)

	clock = clock.Add(2 * time.Minute)
	refreshed, err := agg.AggregatedInventory(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, refreshed.Nodes, 2)

	src.nodes = src.nodes[:1]
	agg.ClearInventoryCache()
	flushed, err := agg.AggregatedInventory(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, flushed.Nodes, 1)
}

func TestInitializePluginsBestEffort(t *testing.T) {
	good := &fakeSource{name: "good"}
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(failingInit{&fakeSource{name: "bad"}}, 1))
	require.NoError(t, agg.RegisterPlugin(good, 1))

	failures := agg.InitializePlugins(context.Background(), nil)
	require.Len(t, failures, 1)
	require.Contains(t, failures, "bad")
	require.True(t, good.Initialized())
}

type failingInit struct {
	*fakeSource
}

func (f failingInit) Initialize(context.Context, map[string]any) error {
	return errors.New("bad credentials")
}

func TestDuplicatePluginRejected(t *testing.T) {
	agg := NewAggregator(discard())
	require.NoError(t, agg.RegisterPlugin(&fakeSource{name: "puppet"}, 1))
	require.Error(t, agg.RegisterPlugin(&fakeSource{name: "puppet"}, 2))
}
