// This file defines when cached data stops being fresh.

package expiration

import (
	"math"
	"time"

	"github.com/krisalay/query-cache/types"
)

// NeverStale as a stale time keeps data fresh until it is invalidated.
const NeverStale = time.Duration(math.MaxInt64)

/*
Strategy is the interface that all staleness rules must follow. Instead of
hard-coding freshness into the orchestrator, the rule is a strategy so it can
be swapped (tests use it to pin behavior).
*/
type Strategy interface {

	// IsStale reports whether e must be refetched at now given the query's stale time.
	IsStale(e types.Entry, staleTime time.Duration, now time.Time) bool
}

/*
StaleAfterUpdate is the stale-while-revalidate rule: data younger than the
stale time is served as is, anything older (or never fetched, or explicitly
invalidated) triggers a fetch. Stale data is still shown while it refetches.
*/
type StaleAfterUpdate struct{}

func (StaleAfterUpdate) IsStale(e types.Entry, staleTime time.Duration, now time.Time) bool {
	if !e.HasData() || e.IsInvalidated {
		return true
	}
	if staleTime == NeverStale {
		return false
	}
	return now.Sub(e.UpdatedAt) >= staleTime
}
