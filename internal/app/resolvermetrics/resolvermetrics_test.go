package resolvermetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

const sampleStatistics = `[
	{"name": "cache-hits", "type": "StatisticItem", "value": "1000"},
	{"name": "cache-misses", "type": "StatisticItem", "value": "250"},
	{"name": "questions", "type": "StatisticItem", "value": "1250"},
	{"name": "servfail-answers", "type": "StatisticItem", "value": "3"},
	{"name": "nxdomain-answers", "type": "StatisticItem", "value": "40"},
	{"name": "some-unrelated-stat", "type": "StatisticItem", "value": "nope"}
]`

func TestScrape_ParsesKnownStatisticsIntoNodeMetrics(t *testing.T) {
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Write([]byte(sampleStatistics))
	}))
	defer srv.Close()

	store := memory.New()
	s := New(store, srv.URL, "secret-key", "primary-node")
	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Scrape(context.Background()))
	require.Equal(t, "secret-key", gotAPIKey)

	rows, err := store.LatestNodeMetricsByNode(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1000), rows[0].CacheHits)
	require.Equal(t, int64(250), rows[0].CacheMisses)
	require.Equal(t, int64(1250), rows[0].Questions)
	require.Equal(t, int64(3), rows[0].ServFailAnswers)
	require.Equal(t, int64(40), rows[0].NXDomainAnswers)
}

func TestScrape_NoopWithEmptyURL(t *testing.T) {
	store := memory.New()
	s := New(store, "", "", "primary-node")
	require.NoError(t, s.Scrape(context.Background()))

	rows, err := store.LatestNodeMetricsByNode(context.Background())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestScrape_ReturnsUpstreamFetchErrorOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := memory.New()
	s := New(store, srv.URL, "", "primary-node")
	err := s.Scrape(context.Background())
	require.Error(t, err)
}
