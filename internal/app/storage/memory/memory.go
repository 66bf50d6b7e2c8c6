// Package memory is an in-process storage.Store used by component tests
// that need real multi-call semantics (upsert, idempotent insert, rollback)
// without a live Postgres instance.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Store is a mutex-protected in-memory implementation of storage.Store.
// WithTx gives no isolation: each call fn makes takes the mutex on its own,
// which is sufficient for sequential test scenarios.
type Store struct {
	mu sync.Mutex

	nodes            map[string]domain.Node
	clients          map[string]domain.Client
	clientGroups     map[string]domain.ClientGroup
	blocklists       map[string]domain.Blocklist
	blocklistEntries map[string]map[string]struct{} // blocklistID -> domain set
	manualEntries    map[string]domain.ManualEntry
	forwardZones     map[string]domain.ForwardZone
	events           map[string]domain.DnsQueryEvent // keyed by event_id
	rollups          map[string]domain.QueryRollup   // keyed by bucket|granularity|client|node
	nodeMetrics      []domain.NodeMetrics
	resolverRules    []domain.ClientResolverRule
	nodeCommands     map[string]domain.NodeCommand
	configChanges    map[string]domain.ConfigChange
	settings         map[string]string
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		nodes:            map[string]domain.Node{},
		clients:          map[string]domain.Client{},
		clientGroups:     map[string]domain.ClientGroup{},
		blocklists:       map[string]domain.Blocklist{},
		blocklistEntries: map[string]map[string]struct{}{},
		manualEntries:    map[string]domain.ManualEntry{},
		forwardZones:     map[string]domain.ForwardZone{},
		events:           map[string]domain.DnsQueryEvent{},
		rollups:          map[string]domain.QueryRollup{},
		nodeCommands:     map[string]domain.NodeCommand{},
		configChanges:    map[string]domain.ConfigChange{},
		settings:         map[string]string{},
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	return fn(ctx, &unlockedStore{s})
}

// unlockedStore is the tx handle WithTx passes to fn. WithTx holds no lock
// while fn runs; every embedded Store method takes the mutex itself, and a
// nested WithTx call runs its fn directly.
type unlockedStore struct{ *Store }

func (u *unlockedStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	return fn(ctx, u)
}

// --- Node ---

func (s *Store) CreateNode(ctx context.Context, n domain.Node) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	if n.Status == "" {
		n.Status = domain.NodeStatusPending
	}
	s.nodes[n.ID] = n
	return n, nil
}

func (s *Store) GetNode(ctx context.Context, id string) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, sql.ErrNoRows
	}
	return n, nil
}

func (s *Store) GetNodeByAPIKey(ctx context.Context, apiKey string) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.APIKey == apiKey {
			return n, nil
		}
	}
	return domain.Node{}, sql.ErrNoRows
}

func (s *Store) GetNodeByName(ctx context.Context, name string) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return domain.Node{}, sql.ErrNoRows
}

func (s *Store) ListNodes(ctx context.Context) ([]domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateNode(ctx context.Context, n domain.Node) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.nodes[n.ID]
	if !ok {
		return domain.Node{}, sql.ErrNoRows
	}
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = time.Now().UTC()
	s.nodes[n.ID] = n
	return n, nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return sql.ErrNoRows
	}
	if n.Name == domain.PrimaryNodeName {
		return pberrors.ErrConflict
	}
	delete(s.nodes, id)
	return nil
}

func (s *Store) BumpConfigVersion(ctx context.Context, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.nodes {
		if n.ConfigVersion < version {
			n.ConfigVersion = version
			s.nodes[id] = n
		}
	}
	return nil
}

// --- Client / ClientGroup ---

func (s *Store) UpsertClientByIP(ctx context.Context, ip string, seenAt time.Time) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		if c.IP == ip {
			c.LastSeen = seenAt.UTC()
			c.UpdatedAt = time.Now().UTC()
			s.clients[id] = c
			return c, nil
		}
	}
	c := domain.Client{ID: uuid.NewString(), IP: ip, LastSeen: seenAt.UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	s.clients[c.ID] = c
	return c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return domain.Client{}, sql.ErrNoRows
	}
	return c, nil
}

func (s *Store) GetClientByIP(ctx context.Context, ip string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.IP == ip {
			return c, nil
		}
	}
	return domain.Client{}, sql.ErrNoRows
}

func (s *Store) ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if offset > len(out) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *Store) UpdateClientRDNS(ctx context.Context, id string, name string, resolvedAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.RDNSName = name
	t := resolvedAt.UTC()
	c.RDNSLastResolvedAt = &t
	c.RDNSLastError = lastErr
	c.UpdatedAt = time.Now().UTC()
	s.clients[id] = c
	return nil
}

func (s *Store) CreateClientGroup(ctx context.Context, g domain.ClientGroup) (domain.ClientGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	s.clientGroups[g.ID] = g
	return g, nil
}

func (s *Store) ListClientGroups(ctx context.Context) ([]domain.ClientGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ClientGroup, 0, len(s.clientGroups))
	for _, g := range s.clientGroups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetClientGroup(ctx context.Context, id string) (domain.ClientGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.clientGroups[id]
	if !ok {
		return domain.ClientGroup{}, sql.ErrNoRows
	}
	return g, nil
}
