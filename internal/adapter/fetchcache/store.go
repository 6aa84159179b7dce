// Package fetchcache memoises converted feature collections by request URL and
// coalesces concurrent fetches of the same URL.
package fetchcache

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Entry is a successfully fetched collection.
type Entry struct {
	Collection *geojson.FeatureCollection `json:"collection"`
	FetchedAt  time.Time                  `json:"fetched_at"`
}

// Store is the interface for caching fetched collections by request URL.
type Store interface {
	// Get returns the entry for key. A miss is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores a successful result.
	Set(ctx context.Context, key string, e Entry) error

	Close() error
}
