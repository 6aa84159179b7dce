package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"

	"go.ngs.io/areamap-api/internal/metrics"
)

// ErrPending is returned when the caller stops waiting before the fetch
// finishes. The fetch keeps running and its result is cached.
var ErrPending = errors.New("fetchcache: fetch still pending")

// DefaultTimeout bounds a single detached fetch.
const DefaultTimeout = 60 * time.Second

// Source fetches and converts one request URL.
type Source interface {
	Fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error)
}

// Status describes what the fetcher knows about a key.
type Status string

const (
	StatusUnknown Status = ""
	StatusLoading Status = "loading"
	StatusCached  Status = "cached"
	StatusError   Status = "error"
)

// Result is the outcome of Get.
type Result struct {
	Collection *geojson.FeatureCollection
	FetchedAt  time.Time
	Cached     bool // Served from the store without fetching.
}

// Fetcher serves collections from a Store and fetches misses from a Source.
// Concurrent misses for the same key share one fetch; failures are not cached.
type Fetcher struct {
	src     Source
	store   Store
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
	log     logr.Logger

	mu      sync.Mutex
	waiting map[string]int  // Callers between DoChan and its result, per key.
	failed  map[string]bool // Cached is read from the store.
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(l logr.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = l }
}

// WithClock replaces time.Now for FetchedAt stamps.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a fetcher over src and store.
func NewFetcher(src Source, store Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		src:     src,
		store:   store,
		timeout: DefaultTimeout,
		now:     time.Now,
		log:     logr.Discard(),
		waiting: make(map[string]int),
		failed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the collection for key, fetching it on a cache miss. If ctx ends
// first, Get returns an error wrapping ErrPending while the fetch continues.
func (f *Fetcher) Get(ctx context.Context, key string) (Result, error) {
	if e, ok := f.lookup(ctx, key); ok {
		metrics.CacheHitsTotal.Inc()
		return Result{Collection: e.Collection, FetchedAt: e.FetchedAt, Cached: true}, nil
	}
	metrics.CacheMissesTotal.Inc()

	// Loading is visible before the fetch goroutine is scheduled.
	f.begin(key)
	fetchCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		return f.load(fetchCtx, key)
	})

	select {
	case res := <-ch:
		f.settle(key, res.Err)
		if res.Shared {
			metrics.FetchSharedTotal.Inc()
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		e := res.Val.(Entry)
		return Result{Collection: e.Collection, FetchedAt: e.FetchedAt}, nil
	case <-ctx.Done():
		go func() {
			res := <-ch
			f.settle(key, res.Err)
		}()
		return Result{}, fmt.Errorf("%w: %w", ErrPending, ctx.Err())
	}
}

// Status reports whether key is being fetched, cached or last failed.
func (f *Fetcher) Status(ctx context.Context, key string) Status {
	f.mu.Lock()
	loading, failed := f.waiting[key] > 0, f.failed[key]
	f.mu.Unlock()
	if loading {
		return StatusLoading
	}
	if _, ok := f.lookup(ctx, key); ok {
		return StatusCached
	}
	if failed {
		return StatusError
	}
	return StatusUnknown
}

func (f *Fetcher) lookup(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := f.store.Get(ctx, key)
	if err != nil {
		f.log.Error(err, "cache_get_error", "key", key)
		return Entry{}, false
	}
	return e, ok
}

func (f *Fetcher) load(ctx context.Context, key string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	fc, err := f.src.Fetch(ctx, key)
	if err != nil {
		f.log.Error(err, "fetch_failed", "key", key)
		return Entry{}, err
	}
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	e := Entry{Collection: fc, FetchedAt: f.now()}
	if err := f.store.Set(ctx, key, e); err != nil {
		f.log.Error(err, "cache_set_error", "key", key)
	}
	f.log.V(1).Info("fetched", "key", key, "features", len(fc.Features))

	return e, nil
}

func (f *Fetcher) begin(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiting[key]++
}

// settle records the outcome seen by one caller of Get.
func (f *Fetcher) settle(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waiting[key]--; f.waiting[key] <= 0 {
		delete(f.waiting, key)
	}
	if err != nil {
		f.failed[key] = true
	} else {
		delete(f.failed, key)
	}
}
