package cache

import (
	"sync"
	"time"
)

// Store is a thread-safe TTL cache keyed by string. The clock is
// injectable so expiry behaviour stays deterministic under test.
// Entries are evicted lazily on read; Purge removes them eagerly.
type Store[V any] struct {
	mu         sync.RWMutex
	items      map[string]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Option customises a Store.
type Option[V any] func(*Store[V])

// WithClock overrides the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(s *Store[V]) { s.now = now }
}

// NewStore creates a Store with the given default TTL.
func NewStore[V any](defaultTTL time.Duration, opts ...Option[V]) *Store[V] {
	s := &Store[V]{
		items:      make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value for key if present and unexpired.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := s.items[key]; ok && s.now().After(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the default TTL.
func (s *Store[V]) Set(key string, value V) {
	s.SetWithTTL(key, value, s.defaultTTL)
}

// SetWithTTL stores a value with a specific TTL.
func (s *Store[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Delete removes a key.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Clear removes all entries.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]entry[V])
}

// Keys returns the keys of all unexpired entries.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	keys := make([]string, 0, len(s.items))
	for k, e := range s.items {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Has reports whether key is present and unexpired.
func (s *Store[V]) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Purge removes all expired entries and returns how many were dropped.
func (s *Store[V]) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	purged := 0
	for k, e := range s.items {
		if now.After(e.expiresAt) {
			delete(s.items, k)
			purged++
		}
	}
	return purged
}
