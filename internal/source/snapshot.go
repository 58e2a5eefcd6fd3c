package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "fleetglass:inventory:snapshot"

// SnapshotStore mirrors the latest aggregate inventory into redis so
// operational tooling can inspect it out of process. It is a best-effort
// mirror: the in-process cache stays authoritative.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore builds a snapshot mirror with the given retention.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

// Save writes the inventory as JSON under a fixed key.
func (s *SnapshotStore) Save(ctx context.Context, inv Inventory) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("source: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("source: store snapshot: %w", err)
	}
	return nil
}

// Load reads the last mirrored inventory. A missing key reports
// (zero, false, nil).
func (s *SnapshotStore) Load(ctx context.Context) (Inventory, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Inventory{}, false, nil
	}
	if err != nil {
		return Inventory{}, false, fmt.Errorf("source: load snapshot: %w", err)
	}
	var inv Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Inventory{}, false, fmt.Errorf("source: decode snapshot: %w", err)
	}
	return inv, true, nil
}
