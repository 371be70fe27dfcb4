package api

import (
	"context"

	"github.com/krisalay/query-cache/types"
)

/*
QueryCache defines the PUBLIC API of the async query cache.
This is a contract that guarantees certain behaviors without exposing
internals: sharding, staleness rules, deduplication and garbage collection
all stay behind it.

Keys are raw identifiers: a scalar or an ordered sequence of scalars. Every
method canonicalizes them first and fails synchronously with an error
matching key.ErrInvalidKey when that is impossible.
*/
type QueryCache interface {

	/*
		Get returns a snapshot of the entry for rawKey.

		BEHAVIOR:
		---------
		- Never reports "absent": unknown keys return an idle entry
		- The snapshot is a copy; later transitions do not change it
	*/
	Get(rawKey any) (types.Entry, error)

	/*
		Subscribe calls listener on every state transition of rawKey and
		returns the unsubscribe handle.

		BEHAVIOR:
		---------
		- Creates the entry lazily
		- All listeners of a key share one entry and one in-flight fetch
		- When the last listener leaves, the entry is collected after its cache time
		- Unsubscribing never cancels a fetch already started
	*/
	Subscribe(rawKey any, listener func(types.Entry)) (unsubscribe func(), err error)

	/*
		EnsureFresh makes sure the entry is fresh or being refreshed, and
		returns immediately.

		BEHAVIOR:
		---------
		1. Disabled query             -> nothing happens
		2. Fetch already in flight    -> attach to it
		3. Never fetched + seed       -> seed data first
		4. Fresh data                 -> nothing happens
		5. Otherwise                  -> start a fetch

		Fetch errors are never returned here; they land in the entry.
		Only invalid keys and invalid configs are returned as errors.
	*/
	EnsureFresh(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg types.QueryConfig) (types.Entry, error)

	/*
		Fetch is EnsureFresh followed by waiting for the fetch (if any) to
		settle. ctx only bounds the wait; the fetch itself keeps running.
	*/
	Fetch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg types.QueryConfig) (types.Entry, error)

	/*
		Refetch starts a fetch even when data is fresh (deduplication still
		applies) and waits for it. This is the manual retry path.
	*/
	Refetch(ctx context.Context, rawKey any, fetcher types.Fetcher, cfg types.QueryConfig) (types.Entry, error)

	/*
		Invalidate marks the entry stale and refetches it if it is observed.
		InvalidatePrefix does the same for every key starting with the prefix
		parts ("posts" covers ["posts", 1]).
	*/
	Invalidate(ctx context.Context, rawKey any) error
	InvalidatePrefix(ctx context.Context, rawPrefix any) error

	/*
		SetQueryData writes data as if a fetch had just returned it. This is
		how callers seed or optimistically update an entry.
	*/
	SetQueryData(rawKey any, updater func(old any) any) (types.Entry, error)

	/*
		RemoveQuery drops an unobserved entry immediately. It reports false
		when the entry is observed or being fetched.
	*/
	RemoveQuery(rawKey any) (bool, error)

	/*
		Close cancels outstanding fetches, detaches all observers and
		releases timers.
	*/
	Close()
}
