package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

func (s *Store) UpsertHourlyRollup(ctx context.Context, r domain.QueryRollup) error {
	return s.upsertRollup(ctx, r, domain.GranularityHourly)
}

func (s *Store) UpsertDailyRollup(ctx context.Context, r domain.QueryRollup) error {
	return s.upsertRollup(ctx, r, domain.GranularityDaily)
}

func (s *Store) upsertRollup(ctx context.Context, r domain.QueryRollup, granularity domain.RollupGranularity) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	const q = `
		INSERT INTO query_rollups
			(id, bucket_start, granularity, client_id, node_id, total_queries, blocked, nxdomain,
			 servfail, cache_hits, avg_latency_ms, unique_domains, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (bucket_start, granularity, client_id, node_id) DO UPDATE SET
			total_queries = EXCLUDED.total_queries,
			blocked = EXCLUDED.blocked,
			nxdomain = EXCLUDED.nxdomain,
			servfail = EXCLUDED.servfail,
			cache_hits = EXCLUDED.cache_hits,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			unique_domains = EXCLUDED.unique_domains,
			updated_at = EXCLUDED.updated_at`
	_, err := s.ext.ExecContext(ctx, q, r.ID, r.BucketStart.UTC(), string(granularity), r.ClientID, r.NodeID,
		r.TotalQueries, r.Blocked, r.NXDomain, r.ServFail, r.CacheHits, r.AvgLatencyMs, r.UniqueDomains, now)
	return err
}

type rollupRow struct {
	ID            string    `db:"id"`
	BucketStart   time.Time `db:"bucket_start"`
	Granularity   string    `db:"granularity"`
	ClientID      string    `db:"client_id"`
	NodeID        string    `db:"node_id"`
	TotalQueries  int64     `db:"total_queries"`
	Blocked       int64     `db:"blocked"`
	NXDomain      int64     `db:"nxdomain"`
	ServFail      int64     `db:"servfail"`
	CacheHits     int64     `db:"cache_hits"`
	AvgLatencyMs  float64   `db:"avg_latency_ms"`
	UniqueDomains int64     `db:"unique_domains"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r rollupRow) toDomain() domain.QueryRollup {
	return domain.QueryRollup{
		ID:            r.ID,
		BucketStart:   r.BucketStart,
		Granularity:   domain.RollupGranularity(r.Granularity),
		ClientID:      r.ClientID,
		NodeID:        r.NodeID,
		TotalQueries:  r.TotalQueries,
		Blocked:       r.Blocked,
		NXDomain:      r.NXDomain,
		ServFail:      r.ServFail,
		CacheHits:     r.CacheHits,
		AvgLatencyMs:  r.AvgLatencyMs,
		UniqueDomains: r.UniqueDomains,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Store) HourlyRollupsForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.QueryRollup, error) {
	const q = `
		SELECT id, bucket_start, granularity, client_id, node_id, total_queries, blocked, nxdomain,
			servfail, cache_hits, avg_latency_ms, unique_domains, created_at, updated_at
		FROM query_rollups
		WHERE granularity = 'hourly' AND bucket_start >= $1 AND bucket_start < $2
		ORDER BY client_id, node_id, bucket_start`
	var rows []rollupRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, dayStart.UTC(), dayEnd.UTC()); err != nil {
		return nil, err
	}
	out := make([]domain.QueryRollup, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteRollupsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM query_rollups WHERE bucket_start < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
