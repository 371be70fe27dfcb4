package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/query-cache/clock"
	"github.com/krisalay/query-cache/expiration"
	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/store"
	"github.com/krisalay/query-cache/types"
)

/*
CacheEngine is the "brain" of the cache system.
It is responsible for the "behavior" of the cache, NOT storage.
This acts as the policy layer.

It decides:
- When data is stale
- Whether a fetch starts, attaches to one in flight, or is skipped
- How an entry transitions when a fetch starts and settles
- How a never-fetched entry is seeded
- How metrics and logs are recorded

It does NOT:
- Store data
- Handle sharding or locking
- Deduplicate fetches (the orchestrator owns the in-flight registry)

Every transition is expressed as a store.Mutator, so it is applied
atomically by the store.
*/
type CacheEngine struct {

	// Staleness decides when data must be refetched.
	Staleness expiration.Strategy

	// Clock supplies "now" for staleness and timestamps.
	Clock clock.Clock

	// Metrics records hits, misses, dedups and fetch outcomes.
	Metrics types.Metrics

	Logger logrus.FieldLogger
}

// Decision is the outcome of Begin.
type Decision int

const (
	// Skip: data is fresh, nothing to do.
	Skip Decision = iota

	// Attach: a fetch for the key is already outstanding.
	Attach

	// Start: a new fetch must be started.
	Start
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Attach:
		return "attach"
	case Start:
		return "start"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

/*
NewCacheEngine creates a CacheEngine. Nil arguments get defaults: the
stale-while-revalidate rule, the system clock, no-op metrics and a discarding
logger.
*/
func NewCacheEngine(
	staleness expiration.Strategy,
	clk clock.Clock,
	metrics types.Metrics,
	logger logrus.FieldLogger,
) *CacheEngine {
	if staleness == nil {
		staleness = expiration.StaleAfterUpdate{}
	}
	if clk == nil {
		clk = clock.System()
	}
	// Ensure metrics is always non-nil
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &CacheEngine{
		Staleness: staleness,
		Clock:     clk,
		Metrics:   metrics,
		Logger:    logger,
	}
}

/*
Seed places s into an entry that has never been fetched, seeded or written.
Any other entry is left alone, so a seed can never overwrite real data.
*/
func (e *CacheEngine) Seed(s types.Seed) store.Mutator {
	return func(ent *types.Entry) bool {
		if !Seedable(*ent) {
			return false
		}
		at := s.UpdatedAt
		if at.IsZero() {
			at = e.Clock.Now()
		}
		ent.Data = s.Data
		ent.UpdatedAt = at
		ent.Status = types.StatusSuccess
		return true
	}
}

// Seedable reports whether ent has never been fetched, seeded or written.
func Seedable(ent types.Entry) bool {
	return ent.Status == types.StatusIdle && !ent.HasData() && !ent.IsFetching && ent.ErrorUpdateCount == 0
}

/*
Begin decides what to do for a fetch request and, when a fetch starts, marks
the entry as fetching.

  - A fetch already outstanding -> Attach (nothing changes)
  - Fresh data and not forced   -> Skip
  - Otherwise                   -> Start: IsFetching=true, and status becomes
    loading only if there is no data to keep showing.

onDecide runs inside the atomic transition, before the store lock is
released. That is where the orchestrator registers or joins the in-flight
fetch, so no other caller can observe IsFetching without the fetch existing.
*/
func (e *CacheEngine) Begin(force bool, staleTime time.Duration, onDecide func(Decision)) store.Mutator {
	return func(ent *types.Entry) bool {
		if ent.IsFetching {
			e.Metrics.Dedup()
			onDecide(Attach)
			return false
		}
		if !force && !e.Staleness.IsStale(*ent, staleTime, e.Clock.Now()) {
			e.Metrics.Hit()
			onDecide(Skip)
			return false
		}

		if force {
			e.Metrics.Refetch()
		} else {
			e.Metrics.Miss()
		}
		ent.IsFetching = true
		if !ent.HasData() {
			ent.Status = types.StatusLoading
		}
		onDecide(Start)
		return true
	}
}

/*
Settle records the outcome of a fetch.

On success: Data, UpdatedAt and status success; the previous error is cleared.
On failure: Error (as *types.FetchError) and status error; Data is kept.
Either way IsFetching is cleared.
*/
func (e *CacheEngine) Settle(data any, err error) store.Mutator {
	return func(ent *types.Entry) bool {
		now := e.Clock.Now()
		ent.IsFetching = false

		if err != nil {
			ent.Error = types.NewFetchError(ent.Key, err)
			ent.ErrorUpdatedAt = now
			ent.ErrorUpdateCount++
			ent.Status = types.StatusError
			return true
		}

		ent.Data = data
		ent.Error = nil
		ent.UpdatedAt = now
		ent.DataUpdateCount++
		ent.IsInvalidated = false
		ent.Status = types.StatusSuccess
		return true
	}
}

// Write replaces an entry's data the way a successful fetch would, without fetching.
func (e *CacheEngine) Write(updater func(old any) any) store.Mutator {
	return func(ent *types.Entry) bool {
		ent.Data = updater(ent.Data)
		ent.Error = nil
		ent.UpdatedAt = e.Clock.Now()
		ent.DataUpdateCount++
		ent.IsInvalidated = false
		ent.Status = types.StatusSuccess
		return true
	}
}

/*
Invalidate marks an entry's data stale regardless of its age. A never
fetched entry is already stale, so it is left alone (and not created).
*/
func (e *CacheEngine) Invalidate() store.Mutator {
	return func(ent *types.Entry) bool {
		if ent.IsInvalidated || (ent.Status == types.StatusIdle && !ent.HasData()) {
			return false
		}
		ent.IsInvalidated = true
		return true
	}
}

/*
Run calls the fetcher and turns a panic into an error, so a misbehaving
fetcher surfaces as an error entry instead of crashing the process.
*/
func (e *CacheEngine) Run(ctx context.Context, k key.Key, fetch types.Fetcher) (data any, err error) {
	start := e.Clock.Now()
	log := e.Logger.WithFields(logrus.Fields{
		"action": "fetch",
		"key":    k.String(),
	})
	log.Debug("fetch started")

	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("fetcher panicked: %v", r)
		}

		elapsed := e.Clock.Now().Sub(start)
		if err != nil {
			e.Metrics.FetchFailed()
			log.WithError(err).WithField("elapsed", elapsed.String()).Warn("fetch failed")
			return
		}
		e.Metrics.FetchSucceeded()
		log.WithField("elapsed", elapsed.String()).Debug("fetch settled")
	}()

	return fetch(ctx, k)
}
