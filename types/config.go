package types

import "time"

/*
QueryConfig is supplied by the caller per query.

The zero value is valid: data is stale immediately, an unobserved entry is
collected as soon as its last subscriber leaves, the query is enabled and
never refetches on its own. Most callers start from the client's
DefaultQueryConfig instead.
*/
type QueryConfig struct {
	// StaleTime: data younger than this is served without a refetch.
	StaleTime time.Duration

	// CacheTime: how long an entry survives once nobody observes it.
	CacheTime time.Duration

	// Enabled gates fetching. It is evaluated every time the orchestrator is
	// invoked, which is how a dependent query waits for the data it needs.
	// Nil means enabled.
	Enabled func() bool

	// InitialData seeds an entry that has never been fetched. It is only
	// called when the seed could be used; returning false means "no seed".
	InitialData func() (Seed, bool)

	// RefetchOnRefocus refetches observed data whenever the focus signal fires.
	RefetchOnRefocus bool

	// RefetchInterval, when positive, refetches observed data periodically.
	RefetchInterval time.Duration
}

// Validate rejects negative durations.
func (c QueryConfig) Validate() error {
	if c.StaleTime < 0 {
		return &StaleConfigError{Field: "StaleTime", Value: c.StaleTime}
	}
	if c.CacheTime < 0 {
		return &StaleConfigError{Field: "CacheTime", Value: c.CacheTime}
	}
	if c.RefetchInterval < 0 {
		return &StaleConfigError{Field: "RefetchInterval", Value: c.RefetchInterval}
	}
	return nil
}

// IsEnabled evaluates the gating predicate.
func (c QueryConfig) IsEnabled() bool {
	return c.Enabled == nil || c.Enabled()
}
