package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "triad"

// Metrics groups the node's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	BlocksAppended      *prometheus.CounterVec
	QuorumFailures      prometheus.Counter
	ForkSwitches        prometheus.Counter
	TruncatedBlocks     prometheus.Counter
	PowAttempts         prometheus.Counter
	PohEvents           prometheus.Counter
	ChainHeight         prometheus.Gauge
	PendingTransactions prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// GetMetrics returns the process-wide collectors.
func GetMetrics() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates an independent set of collectors, registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BlocksAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_appended_total",
			Help:      "Blocks appended to the canonical chain, by source.",
		}, []string{"source"}),
		QuorumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorum_failures_total",
			Help:      "Proposals or proposal sets rejected for lack of quorum.",
		}),
		ForkSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fork_switches_total",
			Help:      "Resolutions that discarded at least one block.",
		}),
		TruncatedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_blocks_total",
			Help:      "Blocks discarded by fork switches.",
		}),
		PowAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pow_attempts_total",
			Help:      "Hashes computed by proof-of-work searches.",
		}),
		PohEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poh_events_total",
			Help:      "Events recorded in the proof-of-history chain.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Number of blocks in the canonical chain.",
		}),
		PendingTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "Transactions waiting for inclusion.",
		}),
	}
	m.registry.MustRegister(
		m.BlocksAppended,
		m.QuorumFailures,
		m.ForkSwitches,
		m.TruncatedBlocks,
		m.PowAttempts,
		m.PohEvents,
		m.ChainHeight,
		m.PendingTransactions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ToMap flattens counters and gauges into name -> value, with labelled series
// keyed as name{label="value"}.
func (m *Metrics) ToMap() map[string]float64 {
	out := make(map[string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			if labels := metric.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, lp := range labels {
					parts = append(parts, lp.GetName()+`="`+lp.GetValue()+`"`)
				}
				sort.Strings(parts)
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out
}
