package cache

import "errors"

var (
	// ErrClosed is returned by every operation on a closed client.
	ErrClosed = errors.New("query cache: client closed")

	// ErrNilFetcher is returned when a query is registered without a fetcher.
	ErrNilFetcher = errors.New("query cache: nil fetcher")
)
