package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
)

type nodeRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	APIKey         string         `db:"api_key"`
	Status         string         `db:"status"`
	LastSeen       sql.NullTime   `db:"last_seen"`
	LastError      sql.NullString `db:"last_error"`
	ConfigVersion  int64          `db:"config_version"`
	QueriesTotal   int64          `db:"queries_total"`
	QueriesBlocked int64          `db:"queries_blocked"`
	IPAddress      sql.NullString `db:"ip_address"`
	Version        sql.NullString `db:"version"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r nodeRow) toDomain() domain.Node {
	n := domain.Node{
		ID:             r.ID,
		Name:           r.Name,
		APIKey:         r.APIKey,
		Status:         domain.NodeStatus(r.Status),
		LastError:      r.LastError.String,
		ConfigVersion:  r.ConfigVersion,
		QueriesTotal:   r.QueriesTotal,
		QueriesBlocked: r.QueriesBlocked,
		IPAddress:      r.IPAddress.String,
		Version:        r.Version.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastSeen.Valid {
		t := r.LastSeen.Time
		n.LastSeen = &t
	}
	return n
}

func (s *Store) CreateNode(ctx context.Context, n domain.Node) (domain.Node, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	if n.Status == "" {
		n.Status = domain.NodeStatusPending
	}

	const q = `
		INSERT INTO nodes (id, name, api_key, status, last_seen, last_error, config_version,
			queries_total, queries_blocked, ip_address, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,NULLIF($10,''),NULLIF($11,''),$12,$13)`
	_, err := s.ext.ExecContext(ctx, q, n.ID, n.Name, n.APIKey, string(n.Status), nullTime(n.LastSeen),
		n.LastError, n.ConfigVersion, n.QueriesTotal, n.QueriesBlocked, n.IPAddress, n.Version,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	return n, nil
}

func (s *Store) GetNode(ctx context.Context, id string) (domain.Node, error) {
	return s.getNodeBy(ctx, "id", id)
}

func (s *Store) GetNodeByAPIKey(ctx context.Context, apiKey string) (domain.Node, error) {
	return s.getNodeBy(ctx, "api_key", apiKey)
}

func (s *Store) GetNodeByName(ctx context.Context, name string) (domain.Node, error) {
	return s.getNodeBy(ctx, "name", name)
}

func (s *Store) getNodeBy(ctx context.Context, column, value string) (domain.Node, error) {
	q := `SELECT id, name, api_key, status, last_seen, last_error, config_version,
		queries_total, queries_blocked, ip_address, version, created_at, updated_at
		FROM nodes WHERE ` + column + ` = $1`
	var row nodeRow
	if err := sqlx.GetContext(ctx, s.ext, &row, q, value); err != nil {
		return domain.Node{}, errNoRows(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListNodes(ctx context.Context) ([]domain.Node, error) {
	const q = `SELECT id, name, api_key, status, last_seen, last_error, config_version,
		queries_total, queries_blocked, ip_address, version, created_at, updated_at
		FROM nodes ORDER BY name`
	var rows []nodeRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.Node, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateNode(ctx context.Context, n domain.Node) (domain.Node, error) {
	existing, err := s.GetNode(ctx, n.ID)
	if err != nil {
		return domain.Node{}, err
	}
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = time.Now().UTC()

	const q = `
		UPDATE nodes SET name=$2, api_key=$3, status=$4, last_seen=$5, last_error=NULLIF($6,''),
			config_version=$7, queries_total=$8, queries_blocked=$9, ip_address=NULLIF($10,''),
			version=NULLIF($11,''), updated_at=$12
		WHERE id=$1`
	res, err := s.ext.ExecContext(ctx, q, n.ID, n.Name, n.APIKey, string(n.Status), nullTime(n.LastSeen),
		n.LastError, n.ConfigVersion, n.QueriesTotal, n.QueriesBlocked, n.IPAddress, n.Version, n.UpdatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Node{}, sql.ErrNoRows
	}
	return n, nil
}

// DeleteNode refuses to delete the reserved "primary" node, per the
// invariant that it always exists.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	existing, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if existing.Name == domain.PrimaryNodeName {
		return errPrimaryNodeImmutable
	}
	res, err := s.ext.ExecContext(ctx, `DELETE FROM nodes WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// BumpConfigVersion stamps every node with the bundle's integer monotone
// version counter; the content-addressed token is computed by the policy
// compiler and compared by secondaries, but nodes.config_version here tracks
// the monotone counter used for "has this node pulled the latest" reporting.
func (s *Store) BumpConfigVersion(ctx context.Context, version int64) error {
	_, err := s.ext.ExecContext(ctx, `UPDATE nodes SET config_version=$1, updated_at=now() WHERE config_version < $1`, version)
	return err
}

var errPrimaryNodeImmutable = fmt.Errorf("%w: cannot delete the reserved primary node", pberrors.ErrConflict)
