package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/key"
)

func TestPrometheusCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus("querycache", reg)
	require.NoError(t, err)

	p.Hit()
	p.Hit()
	p.Miss()
	p.FetchFailed()
	p.Eviction()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.lookups.WithLabelValues("miss")))
	assert.Equal(t, 0.0, testutil.ToFloat64(p.lookups.WithLabelValues("dedup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.evictions))
}

func TestPrometheusRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus("querycache", reg)
	require.NoError(t, err)

	_, err = NewPrometheus("querycache", reg)
	assert.Error(t, err)
}

func TestPrometheusWiredIntoClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus("querycache", reg)
	require.NoError(t, err)

	client := cache.NewClient(cache.Options{Metrics: p})
	defer client.Close()

	ctx := context.Background()
	cfg := cache.QueryConfig{StaleTime: time.Hour, CacheTime: time.Hour}
	ok := func(context.Context, key.Key) (any, error) { return 1, nil }
	fail := func(context.Context, key.Key) (any, error) { return nil, errors.New("Test error") }

	_, err = client.Fetch(ctx, "a", ok, cfg)
	require.NoError(t, err)
	_, err = client.Fetch(ctx, "a", ok, cfg)
	require.NoError(t, err)
	_, err = client.Fetch(ctx, "b", fail, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetches.WithLabelValues("error")))
}
