package types

import (
	"context"

	"github.com/krisalay/query-cache/key"
)

/*
Fetcher is the contract between the cache and whatever produces the data.

It is called when an entry is missing, stale, invalidated or explicitly
refetched:
 1. Orchestrator checks the store -> data missing or stale
 2. Orchestrator marks the entry as fetching
 3. Fetcher runs (HTTP call, computation, ...)
 4. Store records the result or the error
 5. Every subscriber of the key is notified

The cache places no constraint on transport. The context is cancelled only
when the client is closed; a fetch outlives the subscribers that triggered it.
*/
type Fetcher func(ctx context.Context, k key.Key) (any, error)
