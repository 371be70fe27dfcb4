package cache

import (
	"context"
	"sync"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/types"
)

/*
Observer binds one subscriber to a query: a key, its fetcher and its config.

It is what a screen holds while it shows a query. While it is open the entry
is never collected, refocus and invalidation refetch it, and RefetchInterval
(if set) polls it.
*/
type Observer struct {
	client  *Client
	key     key.Key
	fetcher types.Fetcher

	mu          sync.Mutex
	cfg         QueryConfig
	unsubscribe func()
	poll        clock.Timer
	pollGen     uint64
	closed      bool
}

/*
Watch subscribes listener to rawKey and immediately runs EnsureFresh for it.
listener may be nil when the caller only reads snapshots.
*/
func (c *Client) Watch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg QueryConfig, listener func(types.Entry)) (*Observer, error) {
	k, err := c.prepare(rawKey, fetcher, cfg)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		listener = func(types.Entry) {}
	}

	o := &Observer{client: c, key: k, fetcher: fetcher, cfg: cfg}
	if !c.register(o) {
		return nil, ErrClosed
	}
	o.unsubscribe = c.store.Subscribe(k, listener)

	c.ensure(ctx, k, fetcher, cfg, triggerEnsure)
	o.schedule()
	return o, nil
}

func (o *Observer) Key() key.Key { return o.key }

// Snapshot returns the entry's current state.
func (o *Observer) Snapshot() types.Entry {
	return o.client.store.Get(o.key)
}

func (o *Observer) Config() QueryConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

/*
Ensure re-runs EnsureFresh with the current config. Call it when something
the Enabled predicate depends on has changed.
*/
func (o *Observer) Ensure(ctx context.Context) types.Entry {
	if o.isClosed() {
		return o.Snapshot()
	}
	return o.client.ensure(ctx, o.key, o.fetcher, o.Config(), triggerEnsure).snap
}

// Refetch forces a fetch, ignoring staleness and gating, and waits for it.
func (o *Observer) Refetch(ctx context.Context) (types.Entry, error) {
	if o.isClosed() {
		return o.Snapshot(), ErrClosed
	}
	return o.client.await(ctx, o.key, o.client.ensure(ctx, o.key, o.fetcher, o.Config(), triggerManual))
}

/*
SetConfig replaces the observer's config, restarts polling and re-evaluates
the query under the new config.
*/
func (o *Observer) SetConfig(ctx context.Context, cfg QueryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.cfg = cfg
	o.mu.Unlock()

	o.client.ensure(ctx, o.key, o.fetcher, cfg, triggerEnsure)
	o.schedule()
	return nil
}

/*
Close unsubscribes. The entry stays cached for its cache time; a fetch
already running is not cancelled.
*/
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopPoll()
	unsubscribe := o.unsubscribe
	o.mu.Unlock()

	unsubscribe()
	o.client.unregister(o)
}

func (o *Observer) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// schedule (re)arms the polling timer from the current config.
func (o *Observer) schedule() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopPoll()
	if o.closed || o.cfg.RefetchInterval <= 0 {
		return
	}
	gen := o.pollGen
	o.poll = o.client.clock.AfterFunc(o.cfg.RefetchInterval, func() { o.tick(gen) })
}

func (o *Observer) tick(gen uint64) {
	o.mu.Lock()
	if o.closed || o.pollGen != gen {
		o.mu.Unlock()
		return
	}
	cfg := o.cfg
	o.mu.Unlock()

	o.client.ensure(o.client.ctx, o.key, o.fetcher, cfg, triggerForce)
	o.schedule()
}

// stopPoll cancels the pending tick. Caller holds o.mu.
func (o *Observer) stopPoll() {
	if o.poll != nil {
		o.poll.Stop()
		o.poll = nil
	}
	o.pollGen++
}
