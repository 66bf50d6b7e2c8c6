// Package ingest implements the node-sync ingest pipeline (§4.G): validate
// and normalize incoming events, upsert clients, batch-insert idempotently,
// then kick off best-effort PTR resolution for newly seen clients on a
// background pool.
package ingest

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
	"github.com/Zerostate-IO/powerblockade/internal/app/workerpool"
)

const (
	ptrLookupTimeout   = 2 * time.Second
	ptrSuccessCacheTTL = time.Hour
	ptrErrorCacheTTL   = 5 * time.Minute
)

// RawEvent is one event as received over the wire, before validation and
// normalization.
type RawEvent struct {
	TS            *time.Time
	ClientIP      string
	QName         string
	QType         uint16
	RCode         uint8
	Blocked       bool
	BlockReason   string
	BlocklistName string
	LatencyMs     float64
	EventID       string
}

// Pipeline processes ingest batches for one primary node.
type Pipeline struct {
	store storage.Store
	pool  *workerpool.Pool
	log   *logrus.Entry
	clock func() time.Time
}

// New builds a Pipeline. pool may be nil, in which case PTR resolution is
// skipped entirely (used by tests that don't care about it).
func New(store storage.Store, pool *workerpool.Pool, log *logrus.Entry) *Pipeline {
	return &Pipeline{store: store, pool: pool, log: log, clock: time.Now}
}

// Ingest validates raw events, upserts clients by IP, normalizes qname,
// inserts the batch with on-conflict-do-nothing on event_id, and returns
// the count actually inserted — not the count received. Newly seen clients
// get a best-effort, asynchronous PTR lookup scheduled after commit.
func (p *Pipeline) Ingest(ctx context.Context, nodeID string, raw []RawEvent) (int64, error) {
	now := p.clock().UTC()

	type prepared struct {
		event domain.DnsQueryEvent
		ip    string
	}
	var valid []prepared
	for _, r := range raw {
		ip := strings.TrimSpace(r.ClientIP)
		qname, ok := normalizeQName(r.QName)
		if ip == "" || !ok || net.ParseIP(ip) == nil {
			continue // invalid events are silently dropped, per §4.G.1
		}
		ts := now
		if r.TS != nil {
			ts = r.TS.UTC()
		}
		valid = append(valid, prepared{
			ip: ip,
			event: domain.DnsQueryEvent{
				EventID:       r.EventID,
				TS:            ts,
				NodeID:        nodeID,
				ClientIP:      ip,
				QName:         qname,
				QType:         r.QType,
				RCode:         r.RCode,
				Blocked:       r.Blocked,
				BlockReason:   r.BlockReason,
				BlocklistName: r.BlocklistName,
				LatencyMs:     r.LatencyMs,
			},
		})
	}
	if len(valid) == 0 {
		return 0, nil
	}

	newClientIPs := map[string]struct{}{}
	var inserted int64
	err := p.store.WithTx(ctx, func(ctx context.Context, tx storage.Store) error {
		clientByIP := make(map[string]domain.Client, len(valid))
		for _, v := range valid {
			if _, ok := clientByIP[v.ip]; ok {
				continue
			}
			_, err := tx.GetClientByIP(ctx, v.ip)
			isNew := err != nil
			client, err := tx.UpsertClientByIP(ctx, v.ip, now)
			if err != nil {
				return fmt.Errorf("%w: upsert client %s: %v", pberrors.ErrTransient, v.ip, err)
			}
			clientByIP[v.ip] = client
			if isNew {
				newClientIPs[v.ip] = struct{}{}
			}
		}

		events := make([]domain.DnsQueryEvent, 0, len(valid))
		for _, v := range valid {
			ev := v.event
			ev.ClientID = clientByIP[v.ip].ID
			events = append(events, ev)
		}

		n, err := tx.InsertEventsIgnoreDuplicates(ctx, events)
		if err != nil {
			return fmt.Errorf("%w: insert events: %v", pberrors.ErrTransient, err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	if p.pool != nil {
		for ip := range newClientIPs {
			ip := ip
			p.pool.Submit(func(ctx context.Context) { p.resolvePTR(ctx, ip) })
		}
	}
	return inserted, nil
}

// resolvePTR looks up ip's reverse DNS name via whichever enabled
// ClientResolverRule's subnet contains it (ascending priority, first
// match wins), honoring the success/error cache already recorded on the
// Client row.
func (p *Pipeline) resolvePTR(ctx context.Context, ip string) {
	client, err := p.store.GetClientByIP(ctx, ip)
	if err != nil {
		return
	}
	if client.RDNSLastResolvedAt != nil {
		ttl := ptrSuccessCacheTTL
		if client.RDNSLastError != "" {
			ttl = ptrErrorCacheTTL
		}
		if p.clock().Sub(*client.RDNSLastResolvedAt) < ttl {
			return
		}
	}

	rules, err := p.store.ListEnabledResolverRules(ctx)
	if err != nil {
		return
	}
	nameserver, ok := selectNameserver(rules, ip)
	if !ok {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, ptrLookupTimeout)
	defer cancel()
	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: ptrLookupTimeout}
			return d.DialContext(ctx, network, nameserver)
		},
	}

	now := p.clock().UTC()
	names, lookupErr := resolver.LookupAddr(lookupCtx, ip)
	if lookupErr != nil || len(names) == 0 {
		msg := "no PTR record"
		if lookupErr != nil {
			msg = lookupErr.Error()
		}
		if err := p.store.UpdateClientRDNS(ctx, client.ID, client.RDNSName, now, msg); err != nil && p.log != nil {
			p.log.WithError(err).Warn("ingest: failed to record PTR error")
		}
		return
	}

	name := strings.TrimSuffix(names[0], ".")
	if err := p.store.UpdateClientRDNS(ctx, client.ID, name, now, ""); err != nil && p.log != nil {
		p.log.WithError(err).Warn("ingest: failed to record PTR result")
	}
}

// selectNameserver picks the enabled ClientResolverRule, ascending
// priority, whose subnet contains ip.
func selectNameserver(rules []domain.ClientResolverRule, ip string) (string, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}
	sorted := append([]domain.ClientResolverRule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	for _, r := range sorted {
		if !r.Enabled {
			continue
		}
		_, cidr, err := net.ParseCIDR(r.Subnet)
		if err != nil || !cidr.Contains(parsed) {
			continue
		}
		return r.Nameserver, true
	}
	return "", false
}

func normalizeQName(q string) (string, bool) {
	q = strings.ToLower(strings.TrimSpace(q))
	q = strings.TrimSuffix(q, ".")
	if q == "" {
		return "", false
	}
	return q, true
}
