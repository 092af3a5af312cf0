package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
)

func TestMetrics_Counters(t *testing.T) {
	m := metrics.New()

	m.ObserveRequest("core", 200)
	m.ObserveRequest("core", 200)
	m.ObserveRequest("search", 403)
	m.IncRows("contributor")
	m.ObserveRateLimitWait("search", 12.5)

	assert.InDelta(t, 2, testutil.ToFloat64(m.APIRequests.WithLabelValues("core", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.APIRequests.WithLabelValues("search", "403")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsWritten.WithLabelValues("contributor")), 0)
	assert.InDelta(t, 12.5, testutil.ToFloat64(m.RateLimitSeconds), 0.001)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("core", 200)
		m.IncRows("repository")
		m.IncTask("done")
		m.IncFlush(true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := metrics.New()
	m.IncTask("done")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `github_collector_search_tasks_total{outcome="done"} 1`)
}
