package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

func (s *Store) InsertNodeMetrics(ctx context.Context, m domain.NodeMetrics) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO node_metrics
			(id, node_id, ts, cache_hits, cache_misses, cache_entries, concurrent_queries,
			 outgoing_timeouts, servfail_answers, nxdomain_answers, questions, uptime_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := s.ext.ExecContext(ctx, q, m.ID, m.NodeID, m.TS.UTC(), m.CacheHits, m.CacheMisses,
		m.CacheEntries, m.ConcurrentQueries, m.OutgoingTimeouts, m.ServFailAnswers, m.NXDomainAnswers,
		m.Questions, m.UptimeSeconds)
	return err
}

type nodeMetricsRow struct {
	ID                string    `db:"id"`
	NodeID            string    `db:"node_id"`
	TS                time.Time `db:"ts"`
	CacheHits         int64     `db:"cache_hits"`
	CacheMisses       int64     `db:"cache_misses"`
	CacheEntries      int64     `db:"cache_entries"`
	ConcurrentQueries int64     `db:"concurrent_queries"`
	OutgoingTimeouts  int64     `db:"outgoing_timeouts"`
	ServFailAnswers   int64     `db:"servfail_answers"`
	NXDomainAnswers   int64     `db:"nxdomain_answers"`
	Questions         int64     `db:"questions"`
	UptimeSeconds     int64     `db:"uptime_seconds"`
}

func (r nodeMetricsRow) toDomain() domain.NodeMetrics {
	return domain.NodeMetrics{
		ID:                r.ID,
		NodeID:            r.NodeID,
		TS:                r.TS,
		CacheHits:         r.CacheHits,
		CacheMisses:       r.CacheMisses,
		CacheEntries:      r.CacheEntries,
		ConcurrentQueries: r.ConcurrentQueries,
		OutgoingTimeouts:  r.OutgoingTimeouts,
		ServFailAnswers:   r.ServFailAnswers,
		NXDomainAnswers:   r.NXDomainAnswers,
		Questions:         r.Questions,
		UptimeSeconds:     r.UptimeSeconds,
	}
}

// LatestNodeMetricsByNode returns the most recent row per node_id, the
// source data for the Prometheus exporter's per-node gauges.
func (s *Store) LatestNodeMetricsByNode(ctx context.Context) ([]domain.NodeMetrics, error) {
	const q = `
		SELECT DISTINCT ON (node_id)
			id, node_id, ts, cache_hits, cache_misses, cache_entries, concurrent_queries,
			outgoing_timeouts, servfail_answers, nxdomain_answers, questions, uptime_seconds
		FROM node_metrics
		ORDER BY node_id, ts DESC`
	var rows []nodeMetricsRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.NodeMetrics, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteNodeMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM node_metrics WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
