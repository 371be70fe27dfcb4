package types

import (
	"time"

	"github.com/krisalay/query-cache/key"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	// StatusIdle means nothing has been fetched yet (or the query is gated).
	StatusIdle Status = "idle"

	// StatusLoading means the first fetch is outstanding and there is no data to show.
	StatusLoading Status = "loading"

	// StatusSuccess means Data holds the result of the last successful fetch.
	StatusSuccess Status = "success"

	// StatusError means the last fetch failed. Data keeps whatever was there before.
	StatusError Status = "error"
)

/*
Entry is an immutable snapshot of one cache entry.

Snapshots are plain values: the store hands out copies and never mutates a
snapshot after it was returned. Data itself is shared, so callers must treat
it as read-only.
*/
type Entry struct {
	Key    key.Key
	Status Status

	// Data is the last successfully fetched (or seeded) value.
	Data any

	// Error is the last failure, kept across refetches until a success clears it.
	Error error

	// UpdatedAt is when Data was last written. Zero until the first success or seed.
	UpdatedAt time.Time

	// ErrorUpdatedAt is when Error was last written.
	ErrorUpdatedAt time.Time

	// IsFetching is true while a fetch (initial or background) is outstanding.
	// At most one fetch per key is outstanding at any time.
	IsFetching bool

	// IsInvalidated marks data as stale regardless of its age.
	IsInvalidated bool

	DataUpdateCount  int
	ErrorUpdateCount int
}

// Idle synthesizes the snapshot reported for a key the store does not hold.
func Idle(k key.Key) Entry {
	return Entry{Key: k, Status: StatusIdle}
}

// HasData reports whether the entry was ever populated.
func (e Entry) HasData() bool { return !e.UpdatedAt.IsZero() }

func (e Entry) IsIdle() bool    { return e.Status == StatusIdle }
func (e Entry) IsLoading() bool { return e.Status == StatusLoading }
func (e Entry) IsSuccess() bool { return e.Status == StatusSuccess }
func (e Entry) IsError() bool   { return e.Status == StatusError }

// Seed is an initial value placed into an entry before it has ever been fetched.
type Seed struct {
	Data any

	// UpdatedAt is the age the seed should carry. Zero means "now".
	UpdatedAt time.Time
}
