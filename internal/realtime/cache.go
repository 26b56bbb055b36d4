package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mini-transit-live/server/internal/logger"
)

// DefaultTTL is how long a snapshot is served without contacting upstream
const DefaultTTL = 10 * time.Second

// Fetcher reads one decoded batch from upstream
type Fetcher interface {
	Fetch(ctx context.Context) (*Batch, error)
}

// CacheMetrics receives cache events. A nil CacheMetrics is allowed.
type CacheMetrics interface {
	CacheHit()
	CacheJoined()
	RefreshObserved(d time.Duration, vehicles int, feedTime time.Time, err error)
}

// State is the lifecycle of the cache
type State int

const (
	StateEmpty State = iota
	StateRefreshing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// CacheOptions configures a Cache
type CacheOptions struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
	Metrics      CacheMetrics
	Logger       logger.Logger
}

// refresh is the pending result shared by every caller that arrives while
// an upstream read is in flight.
type refresh struct {
	done     chan struct{}
	snapshot *Snapshot
	err      error
}

// Cache is a single-flight, time-boxed cache over Fetcher + Merger.
// At most one upstream read is outstanding at any time. A failed refresh
// caches nothing and leaves the previous snapshot in place.
type Cache struct {
	fetcher      Fetcher
	merger       *Merger
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	metrics      CacheMetrics
	log          logger.Logger

	mu        sync.Mutex
	snapshot  *Snapshot
	fetchedAt time.Time
	inflight  *refresh
	listeners []func(*Snapshot)
}

func NewCache(fetcher Fetcher, merger *Merger, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Cache{
		fetcher:      fetcher,
		merger:       merger,
		ttl:          opts.TTL,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		metrics:      opts.Metrics,
		log:          opts.Logger.With("feed-cache"),
	}
}

// OnRefresh registers fn to run after every successful refresh.
// Listeners run on the refresh goroutine after waiters are released.
func (c *Cache) OnRefresh(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Get returns the current snapshot, refreshing it when it is older than the TTL.
//
// When the refresh fails every waiter receives the same *FetchError together
// with the last good snapshot, which may be nil. Callers that can tolerate
// stale data use the snapshot when it is non-nil.
//
// ctx only bounds how long this caller waits; the refresh itself is never
// cancelled by a caller.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.snapshot != nil && c.now().Sub(c.fetchedAt) <= c.ttl {
		snap := c.snapshot
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.CacheHit()
		}
		return snap, nil
	}

	r := c.inflight
	if r == nil {
		r = &refresh{done: make(chan struct{})}
		c.inflight = r
		go c.refresh(r)
	} else if c.metrics != nil {
		c.metrics.CacheJoined()
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return c.Last(), ctx.Err()
	}
}

// Last returns the most recent successful snapshot regardless of age
func (c *Cache) Last() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// State reports the lifecycle state; an expired snapshot still counts as ready
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inflight != nil:
		return StateRefreshing
	case c.snapshot != nil:
		return StateReady
	default:
		return StateEmpty
	}
}

// Age is the time since the last successful refresh, or -1 if there was none
func (c *Cache) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return -1
	}
	return c.now().Sub(c.fetchedAt)
}

func (c *Cache) refresh(r *refresh) {
	start := c.now()
	snap, err := c.load()

	c.mu.Lock()
	c.inflight = nil
	if err != nil {
		r.err = err
		r.snapshot = c.snapshot
	} else {
		c.snapshot = snap
		c.fetchedAt = c.now()
		r.snapshot = snap
	}
	listeners := append(([]func(*Snapshot))(nil), c.listeners...)
	c.mu.Unlock()
	close(r.done)

	elapsed := c.now().Sub(start)
	if c.metrics != nil {
		vehicles := 0
		var feedTime time.Time
		if snap != nil {
			vehicles = len(snap.Vehicles)
			feedTime = snap.Timestamp
		}
		c.metrics.RefreshObserved(elapsed, vehicles, feedTime, err)
	}

	if err != nil {
		c.log.Warn("feed refresh failed", "error", err, "elapsed", elapsed.String())
		return
	}
	c.log.Debug("feed refreshed", "vehicles", len(snap.Vehicles), "snapshot", snap.ID, "elapsed", elapsed.String())
	for _, fn := range listeners {
		fn(snap)
	}
}

// load runs one fetch + merge. A panic in the fetcher is turned into a
// FetchError so the in-flight slot is always released.
func (c *Cache) load() (snap *Snapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			snap = nil
			err = &FetchError{Cause: fmt.Errorf("panic during refresh: %v", p)}
		}
	}()

	ctx := context.Background()
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	batch, err := c.fetcher.Fetch(ctx)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Cause: err}
		}
		return nil, err
	}

	return &Snapshot{
		ID:        uuid.NewString(),
		Timestamp: batch.Timestamp,
		FetchedAt: c.now(),
		Vehicles:  c.merger.Merge(batch.Positions, batch.Delays),
	}, nil
}

// Run keeps the cache warm by requesting a snapshot every interval until
// ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Get(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("background refresh failed", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.log.Info("refresh loop stopped")
			return
		}
	}
}
