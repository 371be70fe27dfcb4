package expiration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/krisalay/query-cache/types"
)

func TestStaleAfterUpdate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fetched := types.Entry{Status: types.StatusSuccess, UpdatedAt: now}

	tests := []struct {
		name      string
		entry     types.Entry
		staleTime time.Duration
		at        time.Time
		want      bool
	}{
		{name: "never fetched", entry: types.Entry{Status: types.StatusIdle}, staleTime: time.Hour, at: now, want: true},
		{name: "young", entry: fetched, staleTime: 5 * time.Second, at: now.Add(4 * time.Second), want: false},
		{name: "old", entry: fetched, staleTime: 5 * time.Second, at: now.Add(6 * time.Second), want: true},
		{name: "zero stale time", entry: fetched, staleTime: 0, at: now, want: true},
		{name: "never stale", entry: fetched, staleTime: NeverStale, at: now.Add(1000 * time.Hour), want: false},
		{
			name:      "invalidated",
			entry:     types.Entry{Status: types.StatusSuccess, UpdatedAt: now, IsInvalidated: true},
			staleTime: NeverStale,
			at:        now,
			want:      true,
		},
	}

	var s StaleAfterUpdate
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsStale(tt.entry, tt.staleTime, tt.at))
		})
	}
}
