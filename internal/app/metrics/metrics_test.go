package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func TestDomainCollector_ExposesTwentyFourHourAggregates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()

	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "e1", TS: now.Add(-time.Hour), ClientID: "c1", NodeID: "n1", QName: "a.com", Blocked: true},
		{EventID: "e2", TS: now.Add(-time.Hour), ClientID: "c1", NodeID: "n1", QName: "b.com", RCode: 3},
		{EventID: "e3", TS: now.Add(-49 * time.Hour), ClientID: "c1", NodeID: "n1", QName: "stale.com"}, // outside window
	})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	collector := &domainCollector{
		store:               store,
		queriesTotalDesc:    prometheus.NewDesc("test_total", "", nil, nil),
		queriesBlockedDesc:  prometheus.NewDesc("test_blocked", "", nil, nil),
		nxdomainDesc:        prometheus.NewDesc("test_nxdomain", "", nil, nil),
		servfailDesc:        prometheus.NewDesc("test_servfail", "", nil, nil),
		cacheHitsDesc:       prometheus.NewDesc("test_cache_hits", "", nil, nil),
		nodeCacheHitsDesc:   prometheus.NewDesc("test_node_cache_hits", "", []string{"node"}, nil),
		nodeCacheMissesDesc: prometheus.NewDesc("test_node_cache_misses", "", []string{"node"}, nil),
		nodeQuestionsDesc:   prometheus.NewDesc("test_node_questions", "", []string{"node"}, nil),
		nodeUptimeDesc:      prometheus.NewDesc("test_node_uptime", "", []string{"node"}, nil),
		processRSSDesc:      prometheus.NewDesc("test_process_rss", "", nil, nil),
		processCPUDesc:      prometheus.NewDesc("test_process_cpu", "", nil, nil),
	}
	registry.MustRegister(collector)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.Metric {
			values[f.GetName()] = m.GetGauge().GetValue()
		}
	}
	require.Equal(t, float64(2), values["test_total"])
	require.Equal(t, float64(1), values["test_blocked"])
	require.Equal(t, float64(1), values["test_nxdomain"])
}

func TestInstrumentHandler_RecordsRequestCount(t *testing.T) {
	base := http.NewServeMux()
	base.HandleFunc("/accounts/123", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := httpRequests.WithLabelValues(http.MethodGet, "/accounts", "200")
	before := testutil.ToFloat64(counter)

	wrapped := InstrumentHandler(base)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/accounts/123", nil)
	wrapped.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestCanonicalPath_CollapsesSegments(t *testing.T) {
	require.Equal(t, "/", canonicalPath("/"))
	require.Equal(t, "/", canonicalPath(""))
	require.Equal(t, "/api", canonicalPath("/api/node-sync/register"))
}

func TestHandler_ServesMetricsText(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "go_goroutines"))
}
