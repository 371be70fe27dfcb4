package cache

import (
	"time"

	"github.com/krisalay/query-cache/key"
	"github.com/krisalay/query-cache/types"
)

// QueryConfig is the per-query configuration. See types.QueryConfig.
type QueryConfig = types.QueryConfig

// Default query settings, matching what UI data-fetching libraries ship with.
const (
	DefaultStaleTime time.Duration = 0
	DefaultCacheTime               = 5 * time.Minute
)

// DefaultQueryConfig returns stale-immediately data kept for five minutes
// after it is last observed, refetched when focus returns.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		StaleTime:        DefaultStaleTime,
		CacheTime:        DefaultCacheTime,
		RefetchOnRefocus: true,
	}
}

// When turns a fixed flag into a gating predicate.
func When(enabled bool) func() bool {
	return func() bool { return enabled }
}

// StaticSeed seeds a query with data that counts as fetched "now".
func StaticSeed(data any) func() (types.Seed, bool) {
	return func() (types.Seed, bool) {
		return types.Seed{Data: data}, true
	}
}

// SnapshotReader is anything that can hand out entry snapshots.
type SnapshotReader interface {
	Get(rawKey any) (types.Entry, error)
}

/*
SeedFrom builds an InitialData function that derives a seed from another
entry's current snapshot. pick extracts the part of that entry's data the
dependent query needs; returning false means there is nothing to seed with.

The seed carries the source entry's UpdatedAt, so it is exactly as fresh as
the data it came from.
*/
func SeedFrom(src SnapshotReader, rawKey any, pick func(data any) (any, bool)) func() (types.Seed, bool) {
	return func() (types.Seed, bool) {
		if _, err := key.Canonicalize(rawKey); err != nil {
			return types.Seed{}, false
		}
		snap, err := src.Get(rawKey)
		if err != nil || !snap.HasData() {
			return types.Seed{}, false
		}
		v, ok := pick(snap.Data)
		if !ok {
			return types.Seed{}, false
		}
		return types.Seed{Data: v, UpdatedAt: snap.UpdatedAt}, true
	}
}
