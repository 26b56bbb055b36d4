package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls atomic.Int32
	gate  chan struct{}

	mu    sync.Mutex
	err   error
	batch *Batch
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*Batch, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	hits, joins, ok, failed atomic.Int32
}

func (m *countingMetrics) CacheHit()    { m.hits.Add(1) }
func (m *countingMetrics) CacheJoined() { m.joins.Add(1) }
func (m *countingMetrics) RefreshObserved(_ time.Duration, _ int, _ time.Time, err error) {
	if err != nil {
		m.failed.Add(1)
		return
	}
	m.ok.Add(1)
}

func oneVehicleBatch() *Batch {
	return &Batch{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Positions: []PositionUpdate{position("T1", "66-1", -27.4, 153.0)},
	}
}

func newTestCache(f Fetcher, clock *fakeClock, m CacheMetrics) *Cache {
	return NewCache(f, NewMerger(MergeOptions{}), CacheOptions{
		TTL:     DefaultTTL,
		Now:     clock.Now,
		Metrics: m,
	})
}

func TestCache_SingleFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), batch: oneVehicleBatch()}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := &countingMetrics{}
	c := newTestCache(f, clock, m)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*Snapshot, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap, err := c.Get(context.Background())
			assert.NoError(t, err)
			results[n] = snap
		}(n)
	}

	require.Eventually(t, func() bool {
		return m.joins.Load() == callers-1
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateRefreshing, c.State())
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, snap := range results {
		require.NotNil(t, snap)
		assert.Same(t, results[0], snap)
	}
	assert.Len(t, results[0].Vehicles, 1)
	assert.NotEmpty(t, results[0].ID)
	assert.Equal(t, StateReady, c.State())
}

func TestCache_TTL(t *testing.T) {
	f := &fakeFetcher{batch: oneVehicleBatch()}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := &countingMetrics{}
	c := newTestCache(f, clock, m)

	first, err := c.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Millisecond)
	again, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int32(1), m.hits.Load())

	clock.Advance(2 * time.Millisecond)
	fresh, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCache_FailureServesStale(t *testing.T) {
	f := &fakeFetcher{batch: oneVehicleBatch()}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := &countingMetrics{}
	c := newTestCache(f, clock, m)

	good, err := c.Get(context.Background())
	require.NoError(t, err)

	f.fail(errors.New("upstream down"))
	clock.Advance(DefaultTTL + time.Second)

	stale, err := c.Get(context.Background())
	require.Error(t, err)
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
	assert.Same(t, good, stale)
	assert.Same(t, good, c.Last())

	// the failure is not cached, the next call retries
	_, err = c.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
	assert.Equal(t, int32(2), m.failed.Load())

	f.fail(nil)
	recovered, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, good, recovered)
}

func TestCache_FailureWithoutSnapshot(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	c := newTestCache(f, &fakeClock{now: time.Now()}, nil)

	snap, err := c.Get(context.Background())
	assert.Nil(t, snap)
	require.Error(t, err)
	assert.Equal(t, StateEmpty, c.State())
	assert.Equal(t, time.Duration(-1), c.Age())
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context) (*Batch, error) { panic("decoder bug") }

func TestCache_PanicReleasesSlot(t *testing.T) {
	c := newTestCache(panickingFetcher{}, &fakeClock{now: time.Now()}, nil)

	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder bug")
	assert.Equal(t, StateEmpty, c.State())
}

func TestCache_CallerCancel(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), batch: oneVehicleBatch()}
	c := newTestCache(f, &fakeClock{now: time.Now()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := c.Get(ctx)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, context.Canceled)

	// the refresh keeps running for other callers
	close(f.gate)
	snap, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_OnRefresh(t *testing.T) {
	f := &fakeFetcher{batch: oneVehicleBatch()}
	c := newTestCache(f, &fakeClock{now: time.Now()}, nil)

	got := make(chan *Snapshot, 1)
	c.OnRefresh(func(s *Snapshot) { got <- s })

	snap, err := c.Get(context.Background())
	require.NoError(t, err)

	select {
	case published := <-got:
		assert.Same(t, snap, published)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}
