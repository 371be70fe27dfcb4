package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	cache "github.com/krisalay/query-cache"
	"github.com/krisalay/query-cache/eviction"
	"github.com/krisalay/query-cache/internal/config"
	"github.com/krisalay/query-cache/internal/fetchers"
	"github.com/krisalay/query-cache/metrics"
	"github.com/krisalay/query-cache/refresh"
)

// stack is everything a command needs, built from one config.
type stack struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	focus    *refresh.Broadcaster
	client   *cache.Client
	upstream *fetchers.Upstream
}

func buildStack(cfg *config.Config, logger *logrus.Logger) (*stack, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewPrometheus("querycache", registry)
	if err != nil {
		return nil, err
	}

	policy, err := eviction.ParsePolicyType(cfg.EvictionPolicy)
	if err != nil {
		return nil, err
	}

	focus := refresh.NewBroadcaster()
	client := cache.NewClient(cache.Options{
		Shards:               cfg.Shards,
		MaxEntries:           cfg.MaxEntries,
		Eviction:             policy,
		DefaultCacheTime:     cfg.CacheTime.DurationValue(),
		MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		Metrics:              m,
		Logger:               logger,
		Focus:                focus,
	})

	opts := fetchers.FromConfig(cfg)
	opts.Logger = logger

	return &stack{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		focus:    focus,
		client:   client,
		upstream: fetchers.New(opts),
	}, nil
}

// queryConfig is the per-query config every route and view starts from.
func queryConfig(cfg *config.Config) cache.QueryConfig {
	q := cache.DefaultQueryConfig()
	q.StaleTime = cfg.StaleTime.DurationValue()
	q.CacheTime = cfg.CacheTime.DurationValue()
	q.RefetchOnRefocus = cfg.RefetchOnRefocus
	return q
}
