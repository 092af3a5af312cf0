// Package metrics exposes Prometheus counters for a collection run.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "github_collector"

// Metrics holds the collector's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	APIRequests      *prometheus.CounterVec // labels: bucket, status
	RateLimitWaits   *prometheus.CounterVec // labels: bucket
	RateLimitSeconds prometheus.Counter
	RowsWritten      *prometheus.CounterVec // labels: kind
	Tasks            *prometheus.CounterVec // labels: outcome
	CheckpointFlush  *prometheus.CounterVec // labels: result
}

// New creates the counters on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "GitHub API responses by rate limit bucket and HTTP status",
		}, []string{"bucket", "status"}),
		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Number of times a call slept until the quota reset",
		}, []string{"bucket"}),
		RateLimitSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Total time spent sleeping for quota resets",
		}),
		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended to the sink by kind",
		}, []string{"kind"}),
		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_tasks_total",
			Help:      "Search tasks by outcome",
		}, []string{"outcome"}),
		CheckpointFlush: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_flushes_total",
			Help:      "Checkpoint flushes by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one API response
func (m *Metrics) ObserveRequest(bucket string, status int) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(bucket, strconv.Itoa(status)).Inc()
}

// ObserveRateLimitWait counts one sleep until quota reset
func (m *Metrics) ObserveRateLimitWait(bucket string, seconds float64) {
	if m == nil {
		return
	}
	m.RateLimitWaits.WithLabelValues(bucket).Inc()
	m.RateLimitSeconds.Add(seconds)
}

// IncRows counts appended rows of the given kind
func (m *Metrics) IncRows(kind string) {
	if m == nil {
		return
	}
	m.RowsWritten.WithLabelValues(kind).Inc()
}

// IncTask counts a search task outcome
func (m *Metrics) IncTask(outcome string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(outcome).Inc()
}

// IncFlush counts a checkpoint flush
func (m *Metrics) IncFlush(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CheckpointFlush.WithLabelValues(result).Inc()
}
