package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

// InsertEventsIgnoreDuplicates inserts a batch one row at a time, in input
// order, with "on conflict do nothing" keyed on event_id. Rows without an EventID get one generated so the unique
// constraint does not spuriously collide two client-anonymous events.
func (s *Store) InsertEventsIgnoreDuplicates(ctx context.Context, events []domain.DnsQueryEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	const q = `
		INSERT INTO dns_query_events
			(id, event_id, ts, node_id, client_ip, client_id, qname, qtype, rcode, blocked,
			 block_reason, blocklist_name, latency_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13)
		ON CONFLICT (event_id) DO NOTHING`

	var inserted int64
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		res, err := s.ext.ExecContext(ctx, q, e.ID, e.EventID, e.TS, e.NodeID, e.ClientIP, e.ClientID,
			e.QName, e.QType, e.RCode, e.Blocked, e.BlockReason, e.BlocklistName, e.LatencyMs)
		if err != nil {
			return inserted, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	return inserted, nil
}

func (s *Store) CountEventsInWindow(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	const q = `SELECT count(*) FROM dns_query_events WHERE ts >= $1 AND ts < $2`
	if err := sqlx.GetContext(ctx, s.ext, &count, q, start.UTC(), end.UTC()); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) TopDomains(ctx context.Context, since time.Time, limit int) ([]string, error) {
	const q = `
		SELECT qname FROM dns_query_events
		WHERE ts >= $1 AND blocked = false AND rcode = 0
		GROUP BY qname
		ORDER BY count(*) DESC
		LIMIT $2`
	var out []string
	if err := sqlx.SelectContext(ctx, s.ext, &out, q, since.UTC(), limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM dns_query_events WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) EventsForRollup(ctx context.Context, start, end time.Time) ([]domain.DnsQueryEvent, error) {
	const q = `
		SELECT id, event_id, ts, node_id, client_ip, client_id, qname, qtype, rcode, blocked,
			coalesce(block_reason,'') AS block_reason, coalesce(blocklist_name,'') AS blocklist_name, latency_ms
		FROM dns_query_events
		WHERE ts >= $1 AND ts < $2
		ORDER BY client_id, node_id, ts`

	rows, err := s.ext.QueryxContext(ctx, q, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DnsQueryEvent
	for rows.Next() {
		var e domain.DnsQueryEvent
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.EventID, &ts, &e.NodeID, &e.ClientIP, &e.ClientID, &e.QName,
			&e.QType, &e.RCode, &e.Blocked, &e.BlockReason, &e.BlocklistName, &e.LatencyMs); err != nil {
			return nil, err
		}
		e.TS = ts
		out = append(out, e)
	}
	return out, rows.Err()
}
