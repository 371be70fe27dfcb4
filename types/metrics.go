package types

// This file defines how the cache reports what it is doing.

/*
Metrics is an interface that defines what the cache wants to measure.
Each method represents an event in a query's lifecycle. The cache calls these
methods whenever something happens.
*/
type Metrics interface {

	// Hit is called when fresh data is served without starting a fetch.
	Hit()

	// Miss is called when a fetch is started because data is missing or stale.
	Miss()

	// Dedup is called when a caller attaches to a fetch that is already in flight.
	Dedup()

	// Refetch is called when a fetch is forced (refocus, invalidation, manual refetch, interval).
	Refetch()

	// FetchSucceeded is called when a fetcher returns data.
	FetchSucceeded()

	// FetchFailed is called when a fetcher returns an error or panics.
	FetchFailed()

	// Eviction is called when an entry is removed from the store.
	Eviction()
}

/*
NoopMetrics is a "do nothing" implementation of Metrics.

Callers that do not care about metrics still get a working cache without
nil checks scattered through the code.
*/
type NoopMetrics struct{}

func (NoopMetrics) Hit()            {}
func (NoopMetrics) Miss()           {}
func (NoopMetrics) Dedup()          {}
func (NoopMetrics) Refetch()        {}
func (NoopMetrics) FetchSucceeded() {}
func (NoopMetrics) FetchFailed()    {}
func (NoopMetrics) Eviction()       {}
