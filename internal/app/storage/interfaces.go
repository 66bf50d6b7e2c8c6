// Package storage defines typed, per-entity data access. Each entity gets
// its own interface so components depend only on the slice of storage they
// actually use; internal/app/storage/postgres provides the production
// implementation backing all of them, and internal/app/storage/memory an
// in-process one used by tests.
package storage

import (
	"context"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

// NodeStore manages Node rows, including the reserved "primary" node.
type NodeStore interface {
	CreateNode(ctx context.Context, n domain.Node) (domain.Node, error)
	GetNode(ctx context.Context, id string) (domain.Node, error)
	GetNodeByAPIKey(ctx context.Context, apiKey string) (domain.Node, error)
	GetNodeByName(ctx context.Context, name string) (domain.Node, error)
	ListNodes(ctx context.Context) ([]domain.Node, error)
	UpdateNode(ctx context.Context, n domain.Node) (domain.Node, error)
	DeleteNode(ctx context.Context, id string) error
	BumpConfigVersion(ctx context.Context, version int64) error
}

// ClientStore manages Client rows, upserted lazily from ingest.
type ClientStore interface {
	UpsertClientByIP(ctx context.Context, ip string, seenAt time.Time) (domain.Client, error)
	GetClient(ctx context.Context, id string) (domain.Client, error)
	GetClientByIP(ctx context.Context, ip string) (domain.Client, error)
	ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error)
	UpdateClientRDNS(ctx context.Context, id string, name string, resolvedAt time.Time, lastErr string) error
}

// ClientGroupStore manages ClientGroup rows.
type ClientGroupStore interface {
	CreateClientGroup(ctx context.Context, g domain.ClientGroup) (domain.ClientGroup, error)
	ListClientGroups(ctx context.Context) ([]domain.ClientGroup, error)
	GetClientGroup(ctx context.Context, id string) (domain.ClientGroup, error)
}

// BlocklistStore manages Blocklist rows and their parsed entries.
type BlocklistStore interface {
	ListEnabledBlocklists(ctx context.Context) ([]domain.Blocklist, error)
	ListBlocklists(ctx context.Context) ([]domain.Blocklist, error)
	GetBlocklist(ctx context.Context, id string) (domain.Blocklist, error)
	CreateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error)
	UpdateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error)
	DeleteBlocklist(ctx context.Context, id string) error
	ReplaceBlocklistEntries(ctx context.Context, blocklistID string, domains []string) (int64, error)
	ListManualDomains(ctx context.Context, entryType domain.ManualEntryType) ([]string, error)
	ListAllBlocklistDomains(ctx context.Context, listType domain.BlocklistType) ([]string, error)
}

// ForwardZoneStore manages ForwardZone rows, global and per-node.
type ForwardZoneStore interface {
	ListForwardZones(ctx context.Context) ([]domain.ForwardZone, error)
	ListForwardZonesForNode(ctx context.Context, nodeID string) ([]domain.ForwardZone, error)
	CreateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error)
	UpdateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error)
	DeleteForwardZone(ctx context.Context, id string) error
	GetForwardZone(ctx context.Context, id string) (domain.ForwardZone, error)
}

// EventStore manages DnsQueryEvent rows and their idempotent batch insert.
type EventStore interface {
	InsertEventsIgnoreDuplicates(ctx context.Context, events []domain.DnsQueryEvent) (inserted int64, err error)
	CountEventsInWindow(ctx context.Context, start, end time.Time) (int64, error)
	TopDomains(ctx context.Context, since time.Time, limit int) ([]string, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	EventsForRollup(ctx context.Context, start, end time.Time) ([]domain.DnsQueryEvent, error)
}

// RollupStore manages QueryRollup rows.
type RollupStore interface {
	UpsertHourlyRollup(ctx context.Context, r domain.QueryRollup) error
	UpsertDailyRollup(ctx context.Context, r domain.QueryRollup) error
	HourlyRollupsForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.QueryRollup, error)
	DeleteRollupsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NodeMetricsStore manages NodeMetrics rows.
type NodeMetricsStore interface {
	InsertNodeMetrics(ctx context.Context, m domain.NodeMetrics) error
	LatestNodeMetricsByNode(ctx context.Context) ([]domain.NodeMetrics, error)
	DeleteNodeMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClientResolverRuleStore is consumed read-only by PTR resolution.
type ClientResolverRuleStore interface {
	ListEnabledResolverRules(ctx context.Context) ([]domain.ClientResolverRule, error)
}

// NodeCommandStore manages the pull-based command channel.
type NodeCommandStore interface {
	CreateNodeCommand(ctx context.Context, c domain.NodeCommand) (domain.NodeCommand, error)
	PendingCommandsForNode(ctx context.Context, nodeID string) ([]domain.NodeCommand, error)
	RecordCommandResult(ctx context.Context, id string, result map[string]any, executedAt time.Time) error
}

// ConfigChangeStore is the audit trail.
type ConfigChangeStore interface {
	RecordConfigChange(ctx context.Context, c domain.ConfigChange) (domain.ConfigChange, error)
	GetConfigChange(ctx context.Context, id string) (domain.ConfigChange, error)
	ListConfigChanges(ctx context.Context, limit, offset int) ([]domain.ConfigChange, error)
}

// SettingStore manages the key/value setting table.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// BackupStore lists backup manifests from the configured backups directory.
type BackupStore interface {
	ListBackups(ctx context.Context) ([]domain.BackupManifest, error)
}

// BlockingStore manages the single Blocking State Machine row.
type BlockingStore interface {
	GetBlockingState(ctx context.Context) (domain.Blocking, error)
	SetBlockingState(ctx context.Context, b domain.Blocking) error
}

// Store aggregates every per-entity interface; the Postgres implementation
// satisfies all of them from one *sqlx.DB-backed type.
type Store interface {
	NodeStore
	ClientStore
	ClientGroupStore
	BlocklistStore
	ForwardZoneStore
	EventStore
	RollupStore
	NodeMetricsStore
	ClientResolverRuleStore
	NodeCommandStore
	ConfigChangeStore
	SettingStore
	BackupStore
	BlockingStore

	// WithTx runs fn inside a single transaction; fn's storage calls must use
	// the Store passed to it, not the receiver, to stay inside that unit of
	// work. Commit/rollback is handled by WithTx based on fn's returned error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
