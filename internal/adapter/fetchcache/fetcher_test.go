package fetchcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

type fakeSource struct {
	calls atomic.Int32
	gate  chan struct{} // When set, Fetch blocks until it is closed.
	fail  atomic.Bool
}

func (s *fakeSource) Fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail.Load() {
		return nil, errUpstream
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{139.77, 35.67}))
	return fc, nil
}

func newTestFetcher(t *testing.T, src Source) *Fetcher {
	t.Helper()
	store, err := NewRistrettoStore(16, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewFetcher(src, store)
}

func TestFetcher_CachesSuccess(t *testing.T) {
	src := &fakeSource{}
	f := newTestFetcher(t, src)
	ctx := context.Background()

	first, err := f.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Collection.Features, 1)
	assert.False(t, first.FetchedAt.IsZero())

	second, err := f.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.FetchedAt, second.FetchedAt)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, StatusCached, f.Status(ctx, "u1"))
}

func TestFetcher_KeysAreIndependent(t *testing.T) {
	src := &fakeSource{}
	f := newTestFetcher(t, src)
	ctx := context.Background()

	_, err := f.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = f.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestFetcher_FailureNotCached(t *testing.T) {
	src := &fakeSource{}
	src.fail.Store(true)
	f := newTestFetcher(t, src)
	ctx := context.Background()

	_, err := f.Get(ctx, "u1")
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StatusError, f.Status(ctx, "u1"))

	src.fail.Store(false)
	res, err := f.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, StatusCached, f.Status(ctx, "u1"))
}

func TestFetcher_SharesInFlightFetch(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	f := newTestFetcher(t, src)

	const n = 5
	var wg sync.WaitGroup
	results := make([]Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Get(context.Background(), "u1")
		}(i)
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0].Collection, results[i].Collection)
	}
}

func TestFetcher_PendingKeepsFetching(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	f := newTestFetcher(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrPending)
	assert.Equal(t, StatusLoading, f.Status(context.Background(), "u1"))

	close(src.gate)
	require.Eventually(t, func() bool {
		return f.Status(context.Background(), "u1") == StatusCached
	}, time.Second, 5*time.Millisecond)

	res, err := f.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFetcher_Clock(t *testing.T) {
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewRistrettoStore(16, 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	f := NewFetcher(&fakeSource{}, store, WithClock(func() time.Time { return at }))
	res, err := f.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, at, res.FetchedAt)
}

func TestFetcher_StatusUnknown(t *testing.T) {
	f := newTestFetcher(t, &fakeSource{})
	assert.Equal(t, StatusUnknown, f.Status(context.Background(), "never"))
}

func TestFetcher_LoadingBeforeFetchStarts(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	f := newTestFetcher(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrPending)
	assert.Equal(t, StatusLoading, f.Status(context.Background(), "u1"))

	close(src.gate)
	require.Eventually(t, func() bool {
		return f.Status(context.Background(), "u1") == StatusCached
	}, time.Second, 5*time.Millisecond)
}
