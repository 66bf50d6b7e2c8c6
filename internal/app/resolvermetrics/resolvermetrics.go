// Package resolvermetrics implements the Scheduler's local-metrics job
// (§4.E): scrape the local resolver's statistics sidecar and record one
// NodeMetrics row for the primary node.
package resolvermetrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Scraper polls a PowerDNS Recursor-style REST statistics endpoint
// (`/api/v1/servers/localhost/statistics`, a JSON array of
// `{"name", "value"}` pairs) rather than its Prometheus text page, since
// gjson can pick individual counters out of that small JSON document
// without a generated struct per resolver version.
type Scraper struct {
	store         storage.Store
	statisticsURL string
	apiKey        string
	nodeID        string
	client        *http.Client
	clock         func() time.Time
}

// New builds a Scraper hitting statisticsURL with apiKey (the resolver's
// "X-API-Key" header) and recording rows against the primary node's own
// nodeID.
func New(store storage.Store, statisticsURL, apiKey, nodeID string) *Scraper {
	return &Scraper{
		store:         store,
		statisticsURL: statisticsURL,
		apiKey:        apiKey,
		nodeID:        nodeID,
		client:        &http.Client{Timeout: 5 * time.Second},
		clock:         time.Now,
	}
}

var statNames = map[string]string{
	"cache-hits":         "CacheHits",
	"cache-misses":       "CacheMisses",
	"cache-entries":      "CacheEntries",
	"concurrent-queries": "ConcurrentQueries",
	"outgoing-timeouts":  "OutgoingTimeouts",
	"servfail-answers":   "ServFailAnswers",
	"nxdomain-answers":   "NXDomainAnswers",
	"questions":          "Questions",
	"uptime":             "UptimeSeconds",
}

// Scrape fetches the statistics document and inserts one NodeMetrics row.
func (s *Scraper) Scrape(ctx context.Context) error {
	if s.statisticsURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statisticsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", pberrors.ErrTransient, err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: scrape resolver statistics: %v", pberrors.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read statistics body: %v", pberrors.ErrUpstreamFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: resolver statistics returned %d", pberrors.ErrUpstreamFetch, resp.StatusCode)
	}

	metrics := domain.NodeMetrics{NodeID: s.nodeID, TS: s.clock()}
	gjson.ParseBytes(body).ForEach(func(_, item gjson.Result) bool {
		name := item.Get("name").String()
		field, ok := statNames[name]
		if !ok {
			return true
		}
		value, convErr := strconv.ParseInt(item.Get("value").String(), 10, 64)
		if convErr != nil {
			return true
		}
		assignStat(&metrics, field, value)
		return true
	})

	if err := s.store.InsertNodeMetrics(ctx, metrics); err != nil {
		return fmt.Errorf("%w: insert node metrics: %v", pberrors.ErrTransient, err)
	}
	return nil
}

func assignStat(m *domain.NodeMetrics, field string, value int64) {
	switch field {
	case "CacheHits":
		m.CacheHits = value
	case "CacheMisses":
		m.CacheMisses = value
	case "CacheEntries":
		m.CacheEntries = value
	case "ConcurrentQueries":
		m.ConcurrentQueries = value
	case "OutgoingTimeouts":
		m.OutgoingTimeouts = value
	case "ServFailAnswers":
		m.ServFailAnswers = value
	case "NXDomainAnswers":
		m.NXDomainAnswers = value
	case "Questions":
		m.Questions = value
	case "UptimeSeconds":
		m.UptimeSeconds = value
	}
}
