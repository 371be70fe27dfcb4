/*
Package store owns every cache entry.

It is the only place entries are mutated. Callers read immutable snapshots
with Get, change an entry through Set with a mutator, and observe changes
with Subscribe. Entries without subscribers are garbage collected once their
cache time elapses.
*/
package store

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/eviction"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/shard"
	"github.com/krisalay/query-cache/types"
)

// DefaultCacheTime is how long an unobserved entry survives when nobody set a cache time for it.
const DefaultCacheTime = 5 * time.Minute

// Listener receives the snapshot produced by a transition.
type Listener func(types.Entry)

// Mutator edits a working copy of an entry. Returning false discards the copy.
type Mutator func(*types.Entry) bool

// Options configures a Store. Zero values pick the defaults noted per field.
type Options struct {
	// Shards is the number of independent lock domains. Default 16.
	Shards int

	// Capacity bounds the number of entries (split evenly across shards).
	// Zero means unbounded. Only unobserved entries with no fetch outstanding
	// are ever evicted for capacity, so the bound is soft.
	Capacity int

	// Eviction picks capacity victims. Default LRU.
	Eviction eviction.PolicyType

	// DefaultCacheTime applies to entries nobody called SetCacheTime for.
	DefaultCacheTime time.Duration

	Clock   clock.Clock
	Metrics types.Metrics
	Logger  logrus.FieldLogger
}

type subscription struct {
	id uint64
	fn Listener
}

type notification struct {
	snap types.Entry
	subs []subscription
}

// record is the store-private state behind one key.
type record struct {
	entry types.Entry
	subs  []subscription

	cacheTime    time.Duration
	cacheTimeSet bool

	gcTimer clock.Timer
	gcGen   uint64

	// pending holds transitions not yet delivered; delivering marks that
	// some goroutine is draining it. Delivery per key is strictly ordered.
	pending    []notification
	delivering bool
}

// Store is a sharded map of records.
type Store struct {
	shards   []*shard.Shard[*record]
	selector shard.Selector

	perShardCap      int
	defaultCacheTime time.Duration

	clock   clock.Clock
	metrics types.Metrics
	logger  logrus.FieldLogger

	nextID atomic.Uint64
}

// New builds a Store from opts.
func New(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = 16
	}
	if opts.DefaultCacheTime <= 0 {
		opts.DefaultCacheTime = DefaultCacheTime
	}
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
	if opts.Eviction == "" {
		opts.Eviction = eviction.LRU
	}
	policy, err := eviction.ParsePolicyType(string(opts.Eviction))
	if err != nil {
		opts.Logger.WithError(err).Warn("falling back to LRU eviction")
		policy = eviction.LRU
	}
	opts.Eviction = policy

	shards := make([]*shard.Shard[*record], opts.Shards)
	for i := range shards {
		shards[i] = shard.NewShard[*record](eviction.NewEvictionPolicy(opts.Eviction))
	}

	perShard := 0
	if opts.Capacity > 0 {
		perShard = opts.Capacity / opts.Shards
		if perShard == 0 {
			perShard = 1
		}
	}

	return &Store{
		shards:           shards,
		selector:         shard.HashSelector{},
		perShardCap:      perShard,
		defaultCacheTime: opts.DefaultCacheTime,
		clock:            opts.Clock,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
	}
}

func (s *Store) shardFor(k key.Key) *shard.Shard[*record] {
	return s.shards[s.selector.Index(k.String(), len(s.shards))]
}

// Get returns a snapshot of k. Keys the store does not hold report an idle entry.
func (s *Store) Get(k key.Key) types.Entry {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Get(k.String())
	if !ok {
		return types.Idle(k)
	}
	return rec.entry
}

// Has reports whether the store currently holds k.
func (s *Store) Has(k key.Key) bool {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	_, ok := sh.Peek(k.String())
	return ok
}

/*
Set applies mutate to a working copy of k's entry and, if mutate returns true,
publishes the copy and notifies the key's subscribers.

The mutator runs under the key's shard lock, so the read-decide-write is
atomic with respect to every other Set on the key. It must be quick and must
not call back into the Store. Set never creates an entry for a no-op mutation.
*/
func (s *Store) Set(k key.Key, mutate Mutator) (types.Entry, bool) {
	sh := s.shardFor(k)
	sh.Mu.Lock()

	rec, ok := sh.Peek(k.String())
	current := types.Idle(k)
	if ok {
		current = rec.entry
	}

	next := current
	if !mutate(&next) {
		sh.Mu.Unlock()
		return current, false
	}
	next.Key = k

	if !ok {
		rec = s.create(sh, k)
	}
	rec.entry = next
	if len(rec.subs) == 0 && rec.gcTimer == nil {
		s.armGC(k, rec)
	}

	drain := s.enqueue(rec, next)
	sh.Mu.Unlock()

	if drain {
		s.drain(sh, rec)
	}
	return next, true
}

/*
Subscribe registers l for every future transition of k and returns the
unsubscribe handle. The entry is created if it does not exist yet and any
pending garbage collection is cancelled.

Listeners run after the mutation completed, in transition order. A listener
may call back into the store (including Set on the same key); such nested
transitions are delivered after the current listener returns.
*/
func (s *Store) Subscribe(k key.Key, l Listener) func() {
	sh := s.shardFor(k)
	sh.Mu.Lock()

	rec, ok := sh.Peek(k.String())
	if !ok {
		rec = s.create(sh, k)
	}
	id := s.nextID.Add(1)
	rec.subs = append(rec.subs, subscription{id: id, fn: l})
	s.disarmGC(rec)
	sh.Mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(k, id) })
	}
}

func (s *Store) unsubscribe(k key.Key, id uint64) {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Peek(k.String())
	if !ok {
		return
	}
	for i, sub := range rec.subs {
		if sub.id == id {
			rec.subs = append(rec.subs[:i:i], rec.subs[i+1:]...)
			break
		}
	}
	if len(rec.subs) == 0 {
		s.armGC(k, rec)
	}
}

// Subscribers returns the current subscriber count of k.
func (s *Store) Subscribers(k key.Key) int {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Peek(k.String())
	if !ok {
		return 0
	}
	return len(rec.subs)
}

/*
SetCacheTime raises the garbage collection delay of k to d (the longest
cache time any caller asked for wins) and, when nobody observes k, restarts
its collection timer.
*/
func (s *Store) SetCacheTime(k key.Key, d time.Duration) {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Peek(k.String())
	if !ok {
		rec = s.create(sh, k)
	}
	if !rec.cacheTimeSet || d > rec.cacheTime {
		rec.cacheTime = d
		rec.cacheTimeSet = true
	}
	if len(rec.subs) == 0 {
		s.armGC(k, rec)
	}
}

/*
EvictIfUnused removes k when nobody subscribes to it. An entry with a fetch
outstanding is kept; the fetch's settlement re-arms collection.
*/
func (s *Store) EvictIfUnused(k key.Key) bool {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Peek(k.String())
	if !ok || !evictable(rec) {
		return false
	}
	s.remove(sh, k, rec)
	return true
}

// Remove is EvictIfUnused for explicit removal requests.
func (s *Store) Remove(k key.Key) bool {
	return s.EvictIfUnused(k)
}

// Keys lists every key currently held.
func (s *Store) Keys() []key.Key {
	var keys []key.Key
	for _, sh := range s.shards {
		sh.Mu.Lock()
		for k := range sh.Items {
			keys = append(keys, key.Key(k))
		}
		sh.Mu.Unlock()
	}
	return keys
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.Mu.Lock()
		n += sh.Size()
		sh.Mu.Unlock()
	}
	return n
}

// Clear drops every entry and stops all collection timers. Subscribers are not notified.
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.Mu.Lock()
		for k, rec := range sh.Items {
			s.disarmGC(rec)
			sh.Delete(k)
		}
		sh.Mu.Unlock()
	}
}

// create inserts an empty record, making room if the shard is over capacity.
// Caller holds sh.Mu.
func (s *Store) create(sh *shard.Shard[*record], k key.Key) *record {
	rec := &record{entry: types.Idle(k), cacheTime: s.defaultCacheTime}

	if s.perShardCap > 0 && sh.Size() >= s.perShardCap {
		victim := sh.Eviction.Evict(func(candidate string) bool {
			r, ok := sh.Items[candidate]
			return ok && evictable(r)
		})
		if victim != "" {
			if r, ok := sh.Items[victim]; ok {
				s.remove(sh, key.Key(victim), r)
			}
		}
	}

	sh.Put(k.String(), rec)
	return rec
}

// remove drops rec. Caller holds sh.Mu.
func (s *Store) remove(sh *shard.Shard[*record], k key.Key, rec *record) {
	s.disarmGC(rec)
	sh.Delete(k.String())
	s.metrics.Eviction()
	s.logger.WithFields(logrus.Fields{
		"action": "evict",
		"key":    k.String(),
		"status": string(rec.entry.Status),
	}).Debug("entry evicted")
}

func evictable(rec *record) bool {
	return len(rec.subs) == 0 && !rec.entry.IsFetching
}

// armGC (re)starts the collection timer. Caller holds the shard lock.
func (s *Store) armGC(k key.Key, rec *record) {
	s.disarmGC(rec)
	rec.gcGen++
	gen := rec.gcGen
	rec.gcTimer = s.clock.AfterFunc(rec.cacheTime, func() { s.collect(k, gen) })
}

func (s *Store) disarmGC(rec *record) {
	if rec.gcTimer != nil {
		rec.gcTimer.Stop()
		rec.gcTimer = nil
	}
	rec.gcGen++
}

// collect is the timer callback; timers superseded by a newer arm are ignored.
func (s *Store) collect(k key.Key, gen uint64) {
	sh := s.shardFor(k)
	sh.Mu.Lock()
	defer sh.Mu.Unlock()

	rec, ok := sh.Peek(k.String())
	if !ok || rec.gcGen != gen {
		return
	}
	rec.gcTimer = nil
	if evictable(rec) {
		s.remove(sh, k, rec)
	}
}

// enqueue queues a notification and reports whether the caller must drain.
// Caller holds the shard lock.
func (s *Store) enqueue(rec *record, snap types.Entry) bool {
	if len(rec.subs) == 0 {
		return false
	}
	subs := make([]subscription, len(rec.subs))
	copy(subs, rec.subs)
	rec.pending = append(rec.pending, notification{snap: snap, subs: subs})
	if rec.delivering {
		return false
	}
	rec.delivering = true
	return true
}

// drain delivers queued notifications outside the shard lock until the queue is empty.
func (s *Store) drain(sh *shard.Shard[*record], rec *record) {
	for {
		sh.Mu.Lock()
		if len(rec.pending) == 0 {
			rec.delivering = false
			sh.Mu.Unlock()
			return
		}
		n := rec.pending[0]
		rec.pending = rec.pending[1:]
		sh.Mu.Unlock()

		for _, sub := range n.subs {
			s.call(sub, n.snap)
		}
	}
}

func (s *Store) call(sub subscription, snap types.Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"action": "notify",
				"key":    snap.Key.String(),
				"panic":  r,
			}).Error("listener panicked")
		}
	}()
	sub.fn(snap)
}
