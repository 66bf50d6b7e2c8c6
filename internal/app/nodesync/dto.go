package nodesync

import "time"

// RegisterRequest is the body of POST /api/node-sync/register.
type RegisterRequest struct {
	Name      string `json:"name" validate:"required"`
	Version   string `json:"version"`
	IPAddress string `json:"ip_address"`
}

// HeartbeatRequest is the body of POST /api/node-sync/heartbeat. Counter
// fields are pointers so a caller omitting them leaves the stored values
// untouched rather than zeroing them.
type HeartbeatRequest struct {
	QueriesTotal   *int64 `json:"queries_total"`
	QueriesBlocked *int64 `json:"queries_blocked"`
	Version        string `json:"version"`
}

// EventDTO is one wire-format event inside an ingest batch.
type EventDTO struct {
	TS            *time.Time `json:"ts"`
	ClientIP      string     `json:"client_ip" validate:"required"`
	QName         string     `json:"qname" validate:"required"`
	QType         uint16     `json:"qtype"`
	RCode         uint8      `json:"rcode"`
	Blocked       bool       `json:"blocked"`
	BlockReason   string     `json:"block_reason"`
	BlocklistName string     `json:"blocklist_name"`
	LatencyMs     float64    `json:"latency_ms"`
	EventID       string     `json:"event_id"`
	EventSeq      int64      `json:"event_seq"`
}

// IngestRequest is the body of POST /api/node-sync/ingest.
type IngestRequest struct {
	Events []EventDTO `json:"events" validate:"required,dive"`
}

// MetricsRequest is the body of POST /api/node-sync/metrics, mirroring
// domain.NodeMetrics minus the identifying fields the server fills in.
type MetricsRequest struct {
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	CacheEntries      int64 `json:"cache_entries"`
	ConcurrentQueries int64 `json:"concurrent_queries"`
	OutgoingTimeouts  int64 `json:"outgoing_timeouts"`
	ServFailAnswers   int64 `json:"servfail_answers"`
	NXDomainAnswers   int64 `json:"nxdomain_answers"`
	Questions         int64 `json:"questions"`
	UptimeSeconds     int64 `json:"uptime_seconds"`
}

// CommandResultRequest is the body of POST /api/node-sync/commands/result.
type CommandResultRequest struct {
	ID      string         `json:"id" validate:"required"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
}

// forwardZoneView is one entry of the config bundle's forward_zones list.
type forwardZoneView struct {
	Domain     string   `json:"domain"`
	Servers    []string `json:"servers"`
	IsOverride bool     `json:"is_override"`
}

// blocklistSummaryView is one entry of the config bundle's blocklists list.
type blocklistSummaryView struct {
	Name       string `json:"name"`
	ListType   string `json:"list_type"`
	Enabled    bool   `json:"enabled"`
	EntryCount int64  `json:"entry_count"`
}

// rpzFileView mirrors policy.RPZFile for the wire.
type rpzFileView struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
}

// configResponse is the body of GET /api/node-sync/config.
type configResponse struct {
	OK            bool                   `json:"ok"`
	ConfigVersion string                 `json:"config_version"`
	RPZFiles      []rpzFileView          `json:"rpz_files"`
	ForwardZones  []forwardZoneView      `json:"forward_zones"`
	Settings      map[string]string      `json:"settings"`
	Blocklists    []blocklistSummaryView `json:"blocklists"`
}
