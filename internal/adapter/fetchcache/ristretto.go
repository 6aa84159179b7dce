package fetchcache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxEntries bounds the in-process cache.
const DefaultMaxEntries = 1024

// RistrettoStore keeps entries in process memory. Each entry costs 1, so the
// capacity is a number of collections rather than bytes.
type RistrettoStore struct {
	cache *ristretto.Cache[string, Entry]
	ttl   time.Duration
}

// NewRistrettoStore creates an in-memory store holding up to maxEntries
// collections. A zero ttl keeps entries until they are evicted.
func NewRistrettoStore(maxEntries int64, ttl time.Duration) (*RistrettoStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &RistrettoStore{cache: cache, ttl: ttl}, nil
}

// Get looks up key.
func (s *RistrettoStore) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := s.cache.Get(key)
	return e, ok, nil
}

// Set stores e and waits for the write to become visible.
func (s *RistrettoStore) Set(_ context.Context, key string, e Entry) error {
	if s.ttl > 0 {
		s.cache.SetWithTTL(key, e, 1, s.ttl)
	} else {
		s.cache.Set(key, e, 1)
	}
	s.cache.Wait()
	return nil
}

// Close stops the cache's background goroutines.
func (s *RistrettoStore) Close() error {
	s.cache.Close()
	return nil
}
