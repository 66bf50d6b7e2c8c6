package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

type forwardZoneRow struct {
	ID        string         `db:"id"`
	NodeID    sql.NullString `db:"node_id"`
	Domain    string         `db:"domain"`
	Servers   pq.StringArray `db:"servers"`
	Enabled   bool           `db:"enabled"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r forwardZoneRow) toDomain() domain.ForwardZone {
	z := domain.ForwardZone{
		ID:        r.ID,
		Domain:    r.Domain,
		Servers:   []string(r.Servers),
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.NodeID.Valid {
		id := r.NodeID.String
		z.NodeID = &id
	}
	return z
}

const forwardZoneColumns = `id, node_id, domain, servers, enabled, created_at, updated_at`

func (s *Store) ListForwardZones(ctx context.Context) ([]domain.ForwardZone, error) {
	return s.queryForwardZones(ctx, `SELECT `+forwardZoneColumns+` FROM forward_zones WHERE enabled ORDER BY domain`)
}

// ListForwardZonesForNode returns the union of global zones and this node's
// overrides, with per-node entries already preferred: when both exist for a
// domain, only the node-scoped row is returned.
func (s *Store) ListForwardZonesForNode(ctx context.Context, nodeID string) ([]domain.ForwardZone, error) {
	const q = `
		SELECT DISTINCT ON (domain) ` + forwardZoneColumns + `
		FROM forward_zones
		WHERE enabled AND (node_id IS NULL OR node_id = $1)
		ORDER BY domain, node_id NULLS LAST`
	return s.queryForwardZones(ctx, q, nodeID)
}

func (s *Store) queryForwardZones(ctx context.Context, q string, args ...interface{}) ([]domain.ForwardZone, error) {
	var rows []forwardZoneRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]domain.ForwardZone, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CreateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error) {
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	z.CreatedAt, z.UpdatedAt = now, now

	const q = `INSERT INTO forward_zones (id, node_id, domain, servers, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.ext.ExecContext(ctx, q, z.ID, z.NodeID, z.Domain, pq.Array(z.Servers), z.Enabled, z.CreatedAt, z.UpdatedAt)
	if err != nil {
		return domain.ForwardZone{}, err
	}
	return z, nil
}

func (s *Store) UpdateForwardZone(ctx context.Context, z domain.ForwardZone) (domain.ForwardZone, error) {
	existing, err := s.GetForwardZone(ctx, z.ID)
	if err != nil {
		return domain.ForwardZone{}, err
	}
	z.CreatedAt = existing.CreatedAt
	z.UpdatedAt = time.Now().UTC()

	const q = `UPDATE forward_zones SET node_id=$2, domain=$3, servers=$4, enabled=$5, updated_at=$6 WHERE id=$1`
	res, err := s.ext.ExecContext(ctx, q, z.ID, z.NodeID, z.Domain, pq.Array(z.Servers), z.Enabled, z.UpdatedAt)
	if err != nil {
		return domain.ForwardZone{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ForwardZone{}, sql.ErrNoRows
	}
	return z, nil
}

func (s *Store) DeleteForwardZone(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM forward_zones WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetForwardZone(ctx context.Context, id string) (domain.ForwardZone, error) {
	var row forwardZoneRow
	q := `SELECT ` + forwardZoneColumns + ` FROM forward_zones WHERE id=$1`
	if err := sqlx.GetContext(ctx, s.ext, &row, q, id); err != nil {
		return domain.ForwardZone{}, errNoRows(err)
	}
	return row.toDomain(), nil
}
