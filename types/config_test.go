package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/query-cache/key"
)

func TestQueryConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   QueryConfig
		field string
	}{
		{name: "zero value", cfg: QueryConfig{}},
		{name: "negative stale time", cfg: QueryConfig{StaleTime: -time.Second}, field: "StaleTime"},
		{name: "negative cache time", cfg: QueryConfig{CacheTime: -1}, field: "CacheTime"},
		{name: "negative interval", cfg: QueryConfig{RefetchInterval: -time.Minute}, field: "RefetchInterval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStaleConfig)

			var sce *StaleConfigError
			require.ErrorAs(t, err, &sce)
			assert.Equal(t, tt.field, sce.Field)
		})
	}
}

func TestQueryConfigIsEnabled(t *testing.T) {
	assert.True(t, QueryConfig{}.IsEnabled())

	ready := false
	cfg := QueryConfig{Enabled: func() bool { return ready }}
	assert.False(t, cfg.IsEnabled())
	ready = true
	assert.True(t, cfg.IsEnabled())
}

func TestFetchErrorKeepsMessage(t *testing.T) {
	cause := errors.New("Test error")
	k := key.MustCanonicalize("pokemon")

	fe := NewFetchError(k, cause)
	assert.Equal(t, "Test error", fe.Error())
	assert.ErrorIs(t, fe, cause)
	assert.Same(t, fe, NewFetchError(k, fe))
}
