package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

// --- Blocklist ---

func (s *Store) ListEnabledBlocklists(ctx context.Context) ([]domain.Blocklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Blocklist
	for _, b := range s.blocklists {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListBlocklists(ctx context.Context) ([]domain.Blocklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Blocklist, 0, len(s.blocklists))
	for _, b := range s.blocklists {
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) GetBlocklist(ctx context.Context, id string) (domain.Blocklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocklists[id]
	if !ok {
		return domain.Blocklist{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) CreateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.blocklists[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.blocklists[b.ID]
	if !ok {
		return domain.Blocklist{}, sql.ErrNoRows
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	s.blocklists[b.ID] = b
	return b, nil
}

func (s *Store) DeleteBlocklist(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocklists[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.blocklists, id)
	delete(s.blocklistEntries, id)
	return nil
}

func (s *Store) ReplaceBlocklistEntries(ctx context.Context, blocklistID string, domains []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	s.blocklistEntries[blocklistID] = set
	return int64(len(set)), nil
}

func (s *Store) ListManualDomains(ctx context.Context, entryType domain.ManualEntryType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.manualEntries {
		if m.EntryType == entryType {
			out = append(out, strings.ToLower(m.Domain))
		}
	}
	return out, nil
}

func (s *Store) ListAllBlocklistDomains(ctx context.Context, listType domain.BlocklistType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, b := range s.blocklists {
		if !b.Enabled || b.ListType != listType {
			continue
		}
		for d := range s.blocklistEntries[id] {
			out = append(out, strings.ToLower(d))
		}
	}
	return out, nil
}

// --- ForwardZone ---

func (s *Store) ListForwardZones(ctx context.Context) ([]domain.ForwardZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ForwardZone, 0, len(s.forwardZones))
	for _, z := range s.forwardZones {
		out = append(out, z)
	}
	return out, nil
}

func (s *Store) ListForwardZonesForNode(ctx context.Context, nodeID string) ([]domain.ForwardZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDomain := map[string]domain.ForwardZone{}
	for _, z := range s.forwardZones {
		if !z.Enabled {
			continue
		}
		if z.NodeID != nil && *z.NodeID != nodeID {
			continue
		}
		existing, ok := byDomain[z.Domain]
		if !ok || (existing.NodeID == nil && z.NodeID != nil) {
			byDomain[z.Domain] = z
		}
	}
	out := make([]domain.ForwardZone, 0, len(byDomain))
	for _, z := range byDomain {
		out = append(out, z)
	}
	return out, nil
}

func (s *Store) CreateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	z.CreatedAt, z.UpdatedAt = now, now
	s.forwardZones[z.ID] = z
	return z, nil
}

func (s *Store) UpdateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.forwardZones[z.ID]
	if !ok {
		return domain.ForwardZone{}, sql.ErrNoRows
	}
	z.CreatedAt = existing.CreatedAt
	z.UpdatedAt = time.Now().UTC()
	s.forwardZones[z.ID] = z
	return z, nil
}

func (s *Store) DeleteForwardZone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forwardZones[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.forwardZones, id)
	return nil
}

func (s *Store) GetForwardZone(ctx context.Context, id string) (domain.ForwardZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.forwardZones[id]
	if !ok {
		return domain.ForwardZone{}, sql.ErrNoRows
	}
	return z, nil
}

// --- Event ---

func (s *Store) InsertEventsIgnoreDuplicates(ctx context.Context, events []domain.DnsQueryEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if _, exists := s.events[e.EventID]; exists {
			continue
		}
		s.events[e.EventID] = e
		inserted++
	}
	return inserted, nil
}

func (s *Store) CountEventsInWindow(ctx context.Context, start, end time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, e := range s.events {
		if !e.TS.Before(start) && e.TS.Before(end) {
			count++
		}
	}
	return count, nil
}

func (s *Store) TopDomains(ctx context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, e := range s.events {
		if e.TS.Before(since) || e.Blocked || e.RCode != 0 {
			continue
		}
		counts[e.QName]++
	}
	type kv struct {
		name  string
		count int
	}
	var list []kv
	for k, v := range counts {
		list = append(list, kv{k, v})
	}
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			if list[j].count > list[i].count {
				list[i], list[j] = list[j], list[i]
			}
		}
	}
	if limit > len(list) {
		limit = len(list)
	}
	out := make([]string, 0, limit)
	for _, kv := range list[:limit] {
		out = append(out, kv.name)
	}
	return out, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, e := range s.events {
		if e.TS.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) EventsForRollup(ctx context.Context, start, end time.Time) ([]domain.DnsQueryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DnsQueryEvent
	for _, e := range s.events {
		if !e.TS.Before(start) && e.TS.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Rollup ---

func rollupKey(r domain.QueryRollup) string {
	return r.BucketStart.Format(time.RFC3339) + "|" + string(r.Granularity) + "|" + r.ClientID + "|" + r.NodeID
}

func (s *Store) UpsertHourlyRollup(ctx context.Context, r domain.QueryRollup) error {
	r.Granularity = domain.GranularityHourly
	return s.upsertRollup(r)
}

func (s *Store) UpsertDailyRollup(ctx context.Context, r domain.QueryRollup) error {
	r.Granularity = domain.GranularityDaily
	return s.upsertRollup(r)
}

func (s *Store) upsertRollup(r domain.QueryRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups[rollupKey(r)] = r
	return nil
}

func (s *Store) HourlyRollupsForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.QueryRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QueryRollup
	for _, r := range s.rollups {
		if r.Granularity == domain.GranularityHourly && !r.BucketStart.Before(dayStart) && r.BucketStart.Before(dayEnd) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RollupsSnapshot returns every stored rollup regardless of granularity; it
// exists for tests that need to assert on daily rollups, which the
// storage.Store interface otherwise only exposes pre-filtered to hourly.
func (s *Store) RollupsSnapshot() []domain.QueryRollup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueryRollup, 0, len(s.rollups))
	for _, r := range s.rollups {
		out = append(out, r)
	}
	return out
}

func (s *Store) DeleteRollupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for k, r := range s.rollups {
		if r.BucketStart.Before(cutoff) {
			delete(s.rollups, k)
			deleted++
		}
	}
	return deleted, nil
}

// --- NodeMetrics ---

func (s *Store) InsertNodeMetrics(ctx context.Context, m domain.NodeMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeMetrics = append(s.nodeMetrics, m)
	return nil
}

func (s *Store) LatestNodeMetricsByNode(ctx context.Context) ([]domain.NodeMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := map[string]domain.NodeMetrics{}
	for _, m := range s.nodeMetrics {
		if cur, ok := latest[m.NodeID]; !ok || m.TS.After(cur.TS) {
			latest[m.NodeID] = m
		}
	}
	out := make([]domain.NodeMetrics, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) DeleteNodeMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.NodeMetrics
	var deleted int64
	for _, m := range s.nodeMetrics {
		if m.TS.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.nodeMetrics = kept
	return deleted, nil
}

// --- ClientResolverRule ---

func (s *Store) ListEnabledResolverRules(ctx context.Context) ([]domain.ClientResolverRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ClientResolverRule
	for _, r := range s.resolverRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- NodeCommand ---

func (s *Store) CreateNodeCommand(ctx context.Context, c domain.NodeCommand) (domain.NodeCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	s.nodeCommands[c.ID] = c
	return c, nil
}

func (s *Store) PendingCommandsForNode(ctx context.Context, nodeID string) ([]domain.NodeCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NodeCommand
	for _, c := range s.nodeCommands {
		if c.ExecutedAt == nil && (c.NodeID == nil || *c.NodeID == nodeID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) RecordCommandResult(ctx context.Context, id string, result map[string]any, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.nodeCommands[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Result = result
	t := executedAt.UTC()
	c.ExecutedAt = &t
	s.nodeCommands[id] = c
	return nil
}

// --- ConfigChange ---

func (s *Store) RecordConfigChange(ctx context.Context, c domain.ConfigChange) (domain.ConfigChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	s.configChanges[c.ID] = c
	return c, nil
}

func (s *Store) GetConfigChange(ctx context.Context, id string) (domain.ConfigChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configChanges[id]
	if !ok {
		return domain.ConfigChange{}, sql.ErrNoRows
	}
	return c, nil
}

func (s *Store) ListConfigChanges(ctx context.Context, limit, offset int) ([]domain.ConfigChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConfigChange, 0, len(s.configChanges))
	for _, c := range s.configChanges {
		out = append(out, c)
	}
	return out, nil
}

// --- Setting ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

// --- Backup ---

func (s *Store) ListBackups(ctx context.Context) ([]domain.BackupManifest, error) {
	return nil, nil
}

// --- Blocking ---

type storedBlocking struct {
	State       string     `json:"state"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`
}

func (s *Store) GetBlockingState(ctx context.Context) (domain.Blocking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.settings["blocking_state"]
	if !ok {
		return domain.Blocking{State: domain.BlockingEnabled}, nil
	}
	var stored storedBlocking
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return domain.Blocking{}, err
	}
	return domain.Blocking{State: domain.BlockingState(stored.State), PausedUntil: stored.PausedUntil}, nil
}

func (s *Store) SetBlockingState(ctx context.Context, b domain.Blocking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(storedBlocking{State: string(b.State), PausedUntil: b.PausedUntil})
	if err != nil {
		return err
	}
	s.settings["blocking_state"] = string(payload)
	return nil
}
