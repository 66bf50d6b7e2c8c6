// Package domain defines the entity types shared across storage, the
// policy compiler, ingest, rollup, and the node protocol. These are plain
// structs; persistence-specific tags live in the storage layer's row
// mapping, not here.
package domain

import "time"

// NodeStatus is the lifecycle state of a registered secondary (or the
// primary's own self-registration).
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusActive  NodeStatus = "active"
	NodeStatusError   NodeStatus = "error"
)

// Node is a primary or secondary participant in the sync protocol.
type Node struct {
	ID             string
	Name           string
	APIKey         string
	Status         NodeStatus
	LastSeen       *time.Time
	LastError      string
	ConfigVersion  int64
	QueriesTotal   int64
	QueriesBlocked int64
	IPAddress      string
	Version        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PrimaryNodeName is the reserved, non-deletable node name.
const PrimaryNodeName = "primary"

// Client is a DNS querying endpoint identified by IP, created lazily on
// first observed event.
type Client struct {
	ID                 string
	IP                 string
	DisplayName        string
	RDNSName           string
	RDNSLastResolvedAt *time.Time
	RDNSLastError      string
	LastSeen           time.Time
	GroupID            *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ClientGroup clusters clients, optionally auto-assigning by CIDR.
type ClientGroup struct {
	ID        string
	Name      string
	CIDR      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlocklistFormat is the source body's line format.
type BlocklistFormat string

const (
	BlocklistFormatHosts   BlocklistFormat = "hosts"
	BlocklistFormatDomains BlocklistFormat = "domains"
	BlocklistFormatAdblock BlocklistFormat = "adblock"
)

// BlocklistType distinguishes block sources from allow sources.
type BlocklistType string

const (
	BlocklistTypeBlock BlocklistType = "block"
	BlocklistTypeAllow BlocklistType = "allow"
)

// Blocklist is a remote or local policy source, optionally time-scheduled.
type Blocklist struct {
	ID                   string
	Name                 string
	URL                  string
	Format               BlocklistFormat
	ListType             BlocklistType
	Enabled              bool
	UpdateFrequencyHours int
	LastUpdated          *time.Time
	LastUpdateStatus     string
	LastError            string
	EntryCount           int64
	ETag                 string
	LastModified         string

	ScheduleEnabled bool
	ScheduleStart   string // "HH:MM"
	ScheduleEnd     string // "HH:MM"
	ScheduleDays    []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlocklistEntry is one normalized domain contributed by a Blocklist.
type BlocklistEntry struct {
	ID          string
	BlocklistID string
	Domain      string
	CreatedAt   time.Time
}

// ManualEntryType distinguishes a manual allow override from a manual block.
type ManualEntryType string

const (
	ManualEntryAllow ManualEntryType = "allow"
	ManualEntryBlock ManualEntryType = "block"
)

// ManualEntry is an operator-authored override, independent of any blocklist.
type ManualEntry struct {
	ID        string
	Domain    string
	EntryType ManualEntryType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ForwardZone routes a domain to one or more upstream servers, globally or
// scoped to a single node.
type ForwardZone struct {
	ID        string
	NodeID    *string
	Domain    string
	Servers   []string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DnsQueryEvent is one observed query, reported by a node's sync-agent.
type DnsQueryEvent struct {
	ID             string
	EventID        string
	TS             time.Time
	NodeID         string
	ClientIP       string
	ClientID       string
	QName          string
	QType          uint16
	RCode          uint8
	Blocked        bool
	BlockReason    string
	BlocklistName  string
	LatencyMs      float64
}

// RollupGranularity distinguishes hourly from daily aggregates.
type RollupGranularity string

const (
	GranularityHourly RollupGranularity = "hourly"
	GranularityDaily  RollupGranularity = "daily"
)

// QueryRollup is a time-bucketed aggregate over DnsQueryEvent rows.
type QueryRollup struct {
	ID             string
	BucketStart    time.Time
	Granularity    RollupGranularity
	ClientID       string
	NodeID         string
	TotalQueries   int64
	Blocked        int64
	NXDomain       int64
	ServFail       int64
	CacheHits      int64
	AvgLatencyMs   float64
	UniqueDomains  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NodeMetrics is one scrape/report of a resolver's internal counters.
type NodeMetrics struct {
	ID                string
	NodeID            string
	TS                time.Time
	CacheHits         int64
	CacheMisses       int64
	CacheEntries      int64
	ConcurrentQueries int64
	OutgoingTimeouts  int64
	ServFailAnswers   int64
	NXDomainAnswers   int64
	Questions         int64
	UptimeSeconds     int64
}

// ClientResolverRule picks the upstream nameserver for PTR lookups for
// clients whose IP falls in Subnet, in ascending Priority order.
type ClientResolverRule struct {
	ID         string
	Priority   int
	Subnet     string
	Nameserver string
	Enabled    bool
}

// NodeCommand is pending, pull-based work for one node (or all, when NodeID
// is nil).
type NodeCommand struct {
	ID         string
	NodeID     *string
	Command    string
	Params     map[string]any
	CreatedAt  time.Time
	ExecutedAt *time.Time
	Result     map[string]any
}

const (
	CommandClearCache = "clear_cache"
)

// ConfigChange is an audit row recording a policy mutation with before/after
// snapshots.
type ConfigChange struct {
	ID          string
	EntityType  string
	EntityID    string
	Action      string
	ActorUserID string
	BeforeData  map[string]any
	AfterData   map[string]any
	Comment     string
	CreatedAt   time.Time
}

const (
	EntityBlocklist   = "blocklist"
	EntityForwardZone = "forward_zone"

	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionToggle          = "toggle"
	ActionUpdateFrequency = "update_frequency"
	ActionUpdateSchedule  = "update_schedule"

	ActionRollbackRestore = "rollback_restore"
	ActionRollbackUpdate  = "rollback_update"
	ActionRollbackDelete  = "rollback_delete"
)

// Setting is a typed key/value row with string storage and typed accessors
// applied by callers.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Well-known Setting keys. All are optional; callers fall back to the
// defaults documented alongside each consumer when unset.
const (
	SettingConfigVersion      = "config_version"
	SettingRetentionEvents    = "retention_events_days"
	SettingRetentionRollups   = "retention_rollups_days"
	SettingRetentionMetrics   = "retention_metrics_days"
	SettingPTRResolution      = "ptr_resolution_enabled"
	SettingPrecacheEnabled    = "precache_enabled"
	SettingPrecacheTopN       = "precache_top_n"
	SettingPrecacheIgnoreTTL  = "precache_ignore_ttl"
	SettingPrecacheRefreshMin = "precache_custom_refresh_minutes"
	SettingCacheHitThreshold  = "cache_hit_threshold_ms"
)

// DefaultSettings returns the operational defaults applied when a Setting
// key has no stored row. Callers overlay stored values on top of this map.
func DefaultSettings() map[string]string {
	return map[string]string{
		SettingRetentionEvents:    "90",
		SettingRetentionRollups:   "365",
		SettingRetentionMetrics:   "30",
		SettingPTRResolution:      "true",
		SettingPrecacheEnabled:    "false",
		SettingPrecacheTopN:       "50",
		SettingPrecacheIgnoreTTL:  "false",
		SettingPrecacheRefreshMin: "60",
		SettingCacheHitThreshold:  "5",
	}
}

// BackupManifest describes one file in the backups directory, listed
// read-only by the operator surface.
type BackupManifest struct {
	Name      string
	SizeBytes int64
	CreatedAt time.Time
	Kind      string // "sql" or "tar.gz"
}

// BlockingState is the Blocking State Machine's single persisted state.
type BlockingState string

const (
	BlockingEnabled     BlockingState = "enabled"
	BlockingDisabled    BlockingState = "disabled"
	BlockingPausedUntil BlockingState = "paused_until"
)

// Blocking is the full stored state: State plus, when paused, the resume
// timestamp.
type Blocking struct {
	State       BlockingState
	PausedUntil *time.Time
}

// Active reports whether blocking is currently in effect: enabled, or a
// pause whose deadline has already passed (the override lapses on its own;
// the scheduler's blocking-resume job only persists that fact to state).
func (b Blocking) Active(now time.Time) bool {
	switch b.State {
	case BlockingEnabled:
		return true
	case BlockingPausedUntil:
		return b.PausedUntil != nil && !now.Before(*b.PausedUntil)
	default:
		return false
	}
}
