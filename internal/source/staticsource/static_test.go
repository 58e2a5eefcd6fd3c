package staticsource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetglass/fleetglass/internal/source"
)

func testSettings() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{
				"id":   "n1",
				"name": "web-01",
				"uri":  "https://web-01.example.com:8140",
				"facts": map[string]any{
					"os": "debian",
				},
			},
			map[string]any{"id": "n2", "name": "db-01"},
		},
		"groups": []any{
			map[string]any{
				"id":    "g1",
				"name":  "webservers",
				"nodes": []any{"n1"},
			},
		},
	}
}

func TestStaticSource(t *testing.T) {
	src := New("static")
	ctx := context.Background()

	require.False(t, src.Initialized())
	require.NoError(t, src.Initialize(ctx, testSettings()))
	require.True(t, src.Initialized())

	nodes, err := src.Inventory(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, "web-01", nodes[0].Name)

	groups, err := src.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []string{"n1"}, groups[0].Nodes)

	facts, err := src.NodeFacts(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "debian", facts["os"])
	_, err = src.NodeFacts(ctx, "ghost")
	require.Error(t, err)

	health, err := src.HealthCheck(ctx)
	require.NoError(t, err)
	require.True(t, health.Healthy)

	_, err = src.ExecuteAction(ctx, source.Action{Capability: "nodes.restart"})
	require.Error(t, err)
}

func TestStaticSourceRejectsNodeWithoutID(t *testing.T) {
	src := New("static")
	err := src.Initialize(context.Background(), map[string]any{
		"nodes": []any{map[string]any{"name": "anonymous"}},
	})
	require.Error(t, err)
	require.False(t, src.Initialized())
}
