/*
Package metrics exports the query cache's lifecycle events to Prometheus.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/krisalay/query-cache/types"
)

var _ types.Metrics = (*Prometheus)(nil)

// Prometheus implements types.Metrics with one counter per event kind.
type Prometheus struct {
	lookups   *prometheus.CounterVec
	fetches   *prometheus.CounterVec
	evictions prometheus.Counter
}

// NewPrometheus creates the collectors under namespace and registers them with reg.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "lookups_total",
				Help:      "Ensure-fresh decisions by outcome (hit, miss, dedup, refetch)",
			},
			[]string{"outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "fetches_total",
				Help:      "Settled fetches by result (success, error)",
			},
			[]string{"result"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "evictions_total",
				Help:      "Entries removed from the cache",
			},
		),
	}

	for _, c := range []prometheus.Collector{p.lookups, p.fetches, p.evictions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Hit()            { p.lookups.WithLabelValues("hit").Inc() }
func (p *Prometheus) Miss()           { p.lookups.WithLabelValues("miss").Inc() }
func (p *Prometheus) Dedup()          { p.lookups.WithLabelValues("dedup").Inc() }
func (p *Prometheus) Refetch()        { p.lookups.WithLabelValues("refetch").Inc() }
func (p *Prometheus) FetchSucceeded() { p.fetches.WithLabelValues("success").Inc() }
func (p *Prometheus) FetchFailed()    { p.fetches.WithLabelValues("error").Inc() }
func (p *Prometheus) Eviction()       { p.evictions.Inc() }
