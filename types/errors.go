package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/krisalay/query-cache/key"
)

// ErrStaleConfig is matched by every StaleConfigError.
var ErrStaleConfig = errors.New("invalid query config")

// StaleConfigError reports a negative duration in a query config.
type StaleConfigError struct {
	Field string
	Value time.Duration
}

func (e *StaleConfigError) Error() string {
	return fmt.Sprintf("%s: %s must not be negative, got %s", ErrStaleConfig, e.Field, e.Value)
}

func (e *StaleConfigError) Is(target error) bool {
	return target == ErrStaleConfig
}

/*
FetchError wraps whatever a Fetcher returned (or panicked with).

It is stored in Entry.Error and never returned from the orchestrator's
synchronous calls. Error() is the underlying message unchanged, so a fetcher
failing with "Test error" surfaces exactly that text to the renderer.
*/
type FetchError struct {
	Key key.Key
	Err error
}

func (e *FetchError) Error() string { return e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err, leaving an existing FetchError untouched.
func NewFetchError(k key.Key, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Key: k, Err: err}
}
