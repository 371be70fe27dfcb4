package cache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/query-cache/api"
	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/engine"
	"github.com/krisalay/query-cache/eviction"
	"github.com/krisalay/query-cache/expiration"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/refresh"
	"github.com/krisalay/query-cache/store"
	"github.com/krisalay/query-cache/types"
)

var _ api.QueryCache = (*Client)(nil)

// Options configures a Client. The zero value is usable.
type Options struct {
	// Shards is the number of lock domains in the store. Default 16.
	Shards int

	// MaxEntries softly bounds the number of entries. Zero means unbounded.
	MaxEntries int

	// Eviction picks which unobserved entry makes room when MaxEntries is hit.
	Eviction eviction.PolicyType

	// DefaultCacheTime applies to entries created without a query config
	// (plain Subscribe, SetQueryData).
	DefaultCacheTime time.Duration

	// MaxConcurrentFetches caps fetchers running at once. Zero means unlimited.
	MaxConcurrentFetches int64

	Clock     clock.Clock
	Metrics   types.Metrics
	Logger    logrus.FieldLogger
	Staleness expiration.Strategy

	// Focus, when set, triggers a refetch of every observed query that opted
	// into RefetchOnRefocus each time it fires.
	Focus refresh.Signal
}

/*
Client is the query cache.
This struct is the orchestrator that connects:
- the store (entries, subscriptions, garbage collection)
- the engine (staleness, transitions, metrics)
- the in-flight registry (one fetch per key)
- observers and the focus signal
*/
type Client struct {
	store  *store.Store
	engine *engine.CacheEngine

	// sf is the in-flight registry. A key is registered exactly while its
	// entry reports IsFetching.
	sf singleflight.Group

	// sem gates fetcher concurrency; nil when unlimited.
	sem *semaphore.Weighted

	clock  clock.Clock
	logger logrus.FieldLogger

	// ctx is cancelled on Close, which cancels every fetch still running.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	observers map[*Observer]struct{}
	stopFocus func()

	closed atomic.Bool
}

// trigger says which of the ensure-fresh checks a request skips.
type trigger int

const (
	// triggerEnsure honors gating and staleness.
	triggerEnsure trigger = iota

	// triggerForce honors gating but ignores staleness (refocus, invalidation, interval).
	triggerForce

	// triggerManual ignores both: an explicit refetch always runs.
	triggerManual
)

func NewClient(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		store: store.New(store.Options{
			Shards:           opts.Shards,
			Capacity:         opts.MaxEntries,
			Eviction:         opts.Eviction,
			DefaultCacheTime: opts.DefaultCacheTime,
			Clock:            opts.Clock,
			Metrics:          opts.Metrics,
			Logger:           opts.Logger,
		}),
		engine:    engine.NewCacheEngine(opts.Staleness, opts.Clock, opts.Metrics, opts.Logger),
		clock:     opts.Clock,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[*Observer]struct{}),
	}
	if opts.MaxConcurrentFetches > 0 {
		c.sem = semaphore.NewWeighted(opts.MaxConcurrentFetches)
	}
	if opts.Focus != nil {
		c.stopFocus = opts.Focus.Subscribe(c.refocus)
	}
	return c
}

/*
Get retrieves the snapshot of rawKey. Unknown keys report an idle entry.
*/
func (c *Client) Get(rawKey any) (types.Entry, error) {
	k, err := c.resolve(rawKey)
	if err != nil {
		return types.Entry{}, err
	}
	return c.store.Get(k), nil
}

// GetQueryData returns the entry's data and whether it has any.
func (c *Client) GetQueryData(rawKey any) (any, bool) {
	snap, err := c.Get(rawKey)
	if err != nil || !snap.HasData() {
		return nil, false
	}
	return snap.Data, true
}

func (c *Client) Subscribe(rawKey any, listener func(types.Entry)) (func(), error) {
	k, err := c.resolve(rawKey)
	if err != nil {
		return nil, err
	}
	return c.store.Subscribe(k, listener), nil
}

/*
EnsureFresh runs the ensure-fresh algorithm for rawKey and returns the
snapshot right after the decision. It never waits for the fetcher.

ctx is the parent of the fetch context: its values reach the fetcher but its
cancellation does not, since the result is shared by every caller of the key.
*/
func (c *Client) EnsureFresh(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig) (types.Entry, error) {
	k, err := c.prepare(rawKey, fetcher, cfg)
	if err != nil {
		return types.Entry{}, err
	}
	snap := c.ensure(ctx, k, fetcher, cfg, triggerEnsure).snap
	return snap, nil
}

/*
Fetch is EnsureFresh that waits for the outstanding fetch, started or
attached to, and returns the settled snapshot. Cancelling ctx stops the wait
only; it returns the current snapshot together with ctx.Err().
*/
func (c *Client) Fetch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig) (types.Entry, error) {
	return c.run(ctx, rawKey, fetcher, cfg, triggerEnsure)
}

/*
Refetch starts a fetch regardless of staleness and gating and waits for it.
A fetch already in flight is joined instead.
*/
func (c *Client) Refetch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig) (types.Entry, error) {
	return c.run(ctx, rawKey, fetcher, cfg, triggerManual)
}

/*
Prefetch fetches rawKey into the cache without observing it. The entry is
collected after cfg.CacheTime unless someone subscribes first.
*/
func (c *Client) Prefetch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig) error {
	_, err := c.Fetch(ctx, rawKey, fetcher, cfg)
	return err
}

/*
Invalidate marks rawKey stale and refetches it for every observer watching it.
Unwatched entries refetch on their next EnsureFresh.
*/
func (c *Client) Invalidate(ctx context.Context, rawKey any) error {
	k, err := c.resolve(rawKey)
	if err != nil {
		return err
	}
	c.store.Set(k, c.engine.Invalidate())
	c.refetchObservers(ctx, func(o *Observer) bool { return o.key == k })
	return nil
}

/*
InvalidatePrefix invalidates every entry whose key starts with the parts of
rawPrefix, so "posts" covers both ["posts"] and ["posts", 1].
*/
func (c *Client) InvalidatePrefix(ctx context.Context, rawPrefix any) error {
	prefix, err := c.resolve(rawPrefix)
	if err != nil {
		return err
	}
	n := 0
	for _, k := range c.store.Keys() {
		if !k.HasPrefix(prefix) {
			continue
		}
		if _, changed := c.store.Set(k, c.engine.Invalidate()); changed {
			n++
		}
	}
	c.logger.WithFields(logrus.Fields{
		"action": "invalidate",
		"prefix": prefix.String(),
		"count":  n,
	}).Debug("entries invalidated")

	c.refetchObservers(ctx, func(o *Observer) bool { return o.key.HasPrefix(prefix) })
	return nil
}

/*
RefetchAll refetches every enabled observed query and waits for all of them.
The first wait error (ctx cancellation) is returned; fetch failures land in
the entries as usual.
*/
func (c *Client) RefetchAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range c.watching(func(o *Observer) bool { return o.Config().IsEnabled() }) {
		g.Go(func() error {
			_, err := c.await(gctx, o.key, c.ensureObserver(gctx, o, triggerForce))
			return err
		})
	}
	return g.Wait()
}

/*
SetQueryData writes the value updater returns, as if a fetch had just
succeeded. updater receives the current data (nil if none).
*/
func (c *Client) SetQueryData(rawKey any, updater func(old any) any) (types.Entry, error) {
	k, err := c.resolve(rawKey)
	if err != nil {
		return types.Entry{}, err
	}
	snap, _ := c.store.Set(k, c.engine.Write(updater))
	return snap, nil
}

// RemoveQuery drops an unobserved, idle-fetch entry immediately.
func (c *Client) RemoveQuery(rawKey any) (bool, error) {
	k, err := c.resolve(rawKey)
	if err != nil {
		return false, err
	}
	return c.store.Remove(k), nil
}

// Len returns the number of entries currently held.
func (c *Client) Len() int { return c.store.Len() }

/*
Close cancels every running fetch, closes all observers, stops listening to
the focus signal and drops every entry. Further calls fail with ErrClosed.
*/
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()

	c.mu.Lock()
	stop := c.stopFocus
	observers := make([]*Observer, 0, len(c.observers))
	for o := range c.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, o := range observers {
		o.Close()
	}
	c.store.Clear()
	c.logger.WithField("action", "close").Debug("query cache closed")
}

func (c *Client) resolve(rawKey any) (key.Key, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	return key.Canonicalize(rawKey)
}

// prepare validates everything a fetching call needs before touching the store.
func (c *Client) prepare(rawKey any, fetcher types.Fetcher, cfg QueryConfig) (key.Key, error) {
	k, err := c.resolve(rawKey)
	if err != nil {
		return "", err
	}
	if fetcher == nil {
		return "", ErrNilFetcher
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (c *Client) run(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig, t trigger) (types.Entry, error) {
	k, err := c.prepare(rawKey, fetcher, cfg)
	if err != nil {
		return types.Entry{}, err
	}
	return c.await(ctx, k, c.ensure(ctx, k, fetcher, cfg, t))
}

// flight is the decision snapshot plus, when a fetch is outstanding, its result channel.
type flight struct {
	snap types.Entry
	done <-chan singleflight.Result
}

/*
ensure is the heart of the cache:

 1. Gating: a disabled query does nothing (unless the trigger is manual)
 2. Seeding: a never-fetched entry takes InitialData first
 3. Begin: attach to the fetch in flight, skip fresh data, or start a fetch

The in-flight registry is touched inside Begin, under the key's lock, so
"IsFetching" and "registered in sf" can never disagree.
*/
func (c *Client) ensure(ctx context.Context, k key.Key, fetcher types.Fetcher, cfg QueryConfig, t trigger) flight {
	if c.closed.Load() {
		return flight{snap: c.store.Get(k)}
	}
	c.store.SetCacheTime(k, cfg.CacheTime)

	if t != triggerManual && !cfg.IsEnabled() {
		return flight{snap: c.store.Get(k)}
	}

	if cfg.InitialData != nil && engine.Seedable(c.store.Get(k)) {
		if seed, ok := cfg.InitialData(); ok {
			c.store.Set(k, c.engine.Seed(seed))
		}
	}

	var done <-chan singleflight.Result
	fn := c.fetchFunc(ctx, k, fetcher)
	snap, _ := c.store.Set(k, c.engine.Begin(t != triggerEnsure, cfg.StaleTime, func(d engine.Decision) {
		if d == engine.Skip {
			return
		}
		done = c.sf.DoChan(k.String(), fn)
	}))
	return flight{snap: snap, done: done}
}

func (c *Client) await(ctx context.Context, k key.Key, f flight) (types.Entry, error) {
	if f.done == nil {
		return f.snap, nil
	}
	select {
	case res := <-f.done:
		if snap, ok := res.Val.(types.Entry); ok {
			return snap, nil
		}
		return c.store.Get(k), nil
	case <-ctx.Done():
		return c.store.Get(k), ctx.Err()
	}
}

/*
fetchFunc builds the function the in-flight registry runs for k. It calls
the fetcher, settles the entry and hands the settled snapshot to every
caller attached to the flight.
*/
func (c *Client) fetchFunc(ctx context.Context, k key.Key, fetcher types.Fetcher) func() (any, error) {
	parent := context.WithoutCancel(ctx)
	return func() (any, error) {
		fetchCtx, cancel := context.WithCancel(parent)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		data, err := c.call(fetchCtx, k, fetcher)

		snap, _ := c.store.Set(k, func(ent *types.Entry) bool {
			// Leave the registry in the same step that clears IsFetching.
			c.sf.Forget(k.String())
			if c.closed.Load() {
				return false
			}
			return c.engine.Settle(data, err)(ent)
		})
		return snap, nil
	}
}

func (c *Client) call(ctx context.Context, k key.Key, fetcher types.Fetcher) (any, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}
	return c.engine.Run(ctx, k, fetcher)
}

func (c *Client) register(o *Observer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.observers[o] = struct{}{}
	return true
}

func (c *Client) unregister(o *Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, o)
}

func (c *Client) watching(match func(*Observer) bool) []*Observer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Observer
	for o := range c.observers {
		if match(o) {
			out = append(out, o)
		}
	}
	return out
}

func (c *Client) ensureObserver(ctx context.Context, o *Observer, t trigger) flight {
	return c.ensure(ctx, o.key, o.fetcher, o.Config(), t)
}

func (c *Client) refetchObservers(ctx context.Context, match func(*Observer) bool) {
	for _, o := range c.watching(match) {
		c.ensureObserver(ctx, o, triggerForce)
	}
}

// refocus is the focus signal handler. It starts fetches and returns without waiting.
func (c *Client) refocus() {
	if c.closed.Load() {
		return
	}
	obs := c.watching(func(o *Observer) bool { return o.Config().RefetchOnRefocus })
	c.logger.WithFields(logrus.Fields{
		"action":    "refocus",
		"observers": len(obs),
	}).Debug("focus regained")

	for _, o := range obs {
		c.ensureObserver(c.ctx, o, triggerForce)
	}
}
