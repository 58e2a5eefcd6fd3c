package source

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSnapshotStore(client, time.Minute)

	ctx := context.Background()
	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	inv := Inventory{
		Nodes:   []Node{{ID: "n1", Name: "web-01", Source: "puppet"}},
		Sources: map[string]SourceStatus{"puppet": {Status: StatusOK, NodeCount: 1}},
	}
	require.NoError(t, store.Save(ctx, inv))

	loaded, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inv.Nodes, loaded.Nodes)
	require.Equal(t, StatusOK, loaded.Sources["puppet"].Status)

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
