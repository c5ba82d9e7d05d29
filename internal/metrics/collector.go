// Package metrics exposes relay inventory, fetch and selection metrics in
// the Prometheus exposition format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayd"

// Fetch outcomes.
const (
	FetchUpdated     = "updated"
	FetchNotModified = "not_modified"
	FetchRetried     = "retried"
	FetchFailed      = "failed"
)

// Selection outcomes.
const (
	SelectionOK             = "ok"
	SelectionNoRelaysMatch  = "no_relays_match"
	SelectionEmptyRelayList = "empty_relay_list"
)

// Collector owns a private registry. All methods are safe on a nil
// receiver so components can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	relays      prometheus.Gauge
	lastUpdated prometheus.Gauge
	generation  prometheus.Gauge
	fetches     *prometheus.CounterVec
	selections  *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process collectors
// registered alongside the relay metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		relays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays",
			Help:      "Number of relays in the current relay list.",
		}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_list_last_updated_timestamp_seconds",
			Help:      "Unix time the relay list was last refreshed.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_list_generation",
			Help:      "Generation of the current relay list snapshot.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_list_fetches_total",
			Help:      "Relay list fetch attempts by outcome.",
		}, []string{"outcome"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_selections_total",
			Help:      "Relay selections by outcome.",
		}, []string{"outcome"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_candidate_cache_lookups_total",
			Help:      "Candidate cache lookups by result.",
		}, []string{"result"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.relays, c.lastUpdated, c.generation,
		c.fetches, c.selections, c.cacheLookup,
	)
	return c
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveSnapshot records the shape of a new relay list snapshot.
func (c *Collector) ObserveSnapshot(relays int, lastUpdated time.Time, generation uint64) {
	if c == nil {
		return
	}
	c.relays.Set(float64(relays))
	c.generation.Set(float64(generation))
	if !lastUpdated.IsZero() {
		c.lastUpdated.Set(float64(lastUpdated.Unix()))
	}
}

func (c *Collector) ObserveFetch(outcome string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
}

// Fetches returns the counter for one fetch outcome.
func (c *Collector) Fetches(outcome string) prometheus.Counter {
	return c.fetches.WithLabelValues(outcome)
}

func (c *Collector) ObserveSelection(outcome string) {
	if c == nil {
		return
	}
	c.selections.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveCandidateCache(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookup.WithLabelValues(result).Inc()
}
