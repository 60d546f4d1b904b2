// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	PacketsProcessed *prometheus.CounterVec
	Verdicts         *prometheus.CounterVec
	ActiveFlows      *prometheus.GaugeVec
	AnalyzerUpdates  *prometheus.CounterVec
	RulesetSwaps     prometheus.Counter
	QueueDrops       *prometheus.CounterVec
	MatchDuration    prometheus.Histogram
}

// NewRegistry creates and registers the engine collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		PacketsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glasswall_packets_processed_total",
			Help: "Packets handled per worker.",
		}, []string{"worker"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glasswall_verdicts_total",
			Help: "Verdicts returned to the packet adapter.",
		}, []string{"verdict"}),
		ActiveFlows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "glasswall_active_flows",
			Help: "Flows currently tracked, by transport.",
		}, []string{"proto"}),
		AnalyzerUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glasswall_analyzer_updates_total",
			Help: "Property updates emitted, by analyzer.",
		}, []string{"analyzer"}),
		RulesetSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glasswall_ruleset_swaps_total",
			Help: "Hot ruleset replacements.",
		}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glasswall_queue_drops_total",
			Help: "Packets refused because a worker queue was full.",
		}, []string{"worker"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glasswall_match_duration_seconds",
			Help:    "Ruleset evaluation latency.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	reg.MustRegister(
		r.PacketsProcessed,
		r.Verdicts,
		r.ActiveFlows,
		r.AnalyzerUpdates,
		r.RulesetSwaps,
		r.QueueDrops,
		r.MatchDuration,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
