package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

type clientRow struct {
	ID                 string         `db:"id"`
	IP                 string         `db:"ip"`
	DisplayName        sql.NullString `db:"display_name"`
	RDNSName           sql.NullString `db:"rdns_name"`
	RDNSLastResolvedAt sql.NullTime   `db:"rdns_last_resolved_at"`
	RDNSLastError      sql.NullString `db:"rdns_last_error"`
	LastSeen           time.Time      `db:"last_seen"`
	GroupID            sql.NullString `db:"group_id"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r clientRow) toDomain() domain.Client {
	c := domain.Client{
		ID:            r.ID,
		IP:            r.IP,
		DisplayName:   r.DisplayName.String,
		RDNSName:      r.RDNSName.String,
		RDNSLastError: r.RDNSLastError.String,
		LastSeen:      r.LastSeen,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.RDNSLastResolvedAt.Valid {
		t := r.RDNSLastResolvedAt.Time
		c.RDNSLastResolvedAt = &t
	}
	if r.GroupID.Valid {
		g := r.GroupID.String
		c.GroupID = &g
	}
	return c
}

const clientColumns = `id, ip, display_name, rdns_name, rdns_last_resolved_at, rdns_last_error,
	last_seen, group_id, created_at, updated_at`

// UpsertClientByIP inserts a Client on first sight or refreshes last_seen,
// auto-assigning it to a matching ClientGroup's CIDR when it has none yet.
func (s *Store) UpsertClientByIP(ctx context.Context, ip string, seenAt time.Time) (domain.Client, error) {
	const q = `
		INSERT INTO clients (id, ip, last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (ip) DO UPDATE SET last_seen = EXCLUDED.last_seen, updated_at = EXCLUDED.updated_at
		RETURNING ` + clientColumns

	var row clientRow
	if err := sqlx.GetContext(ctx, s.ext, &row, q, uuid.NewString(), ip, seenAt.UTC()); err != nil {
		return domain.Client{}, err
	}

	if !row.GroupID.Valid {
		if gid, err := s.matchingGroupID(ctx, ip); err == nil && gid != "" {
			_, _ = s.ext.ExecContext(ctx, `UPDATE clients SET group_id=$2, updated_at=now() WHERE id=$1`, row.ID, gid)
			row.GroupID = sql.NullString{String: gid, Valid: true}
		}
	}

	return row.toDomain(), nil
}

func (s *Store) matchingGroupID(ctx context.Context, ip string) (string, error) {
	const q = `SELECT id FROM client_groups WHERE cidr IS NOT NULL AND $1::inet << cidr::cidr ORDER BY cidr LIMIT 1`
	var id string
	err := sqlx.GetContext(ctx, s.ext, &id, q, ip)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var row clientRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, id)
	if err != nil {
		return domain.Client{}, errNoRows(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetClientByIP(ctx context.Context, ip string) (domain.Client, error) {
	var row clientRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT `+clientColumns+` FROM clients WHERE ip=$1`, ip)
	if err != nil {
		return domain.Client{}, errNoRows(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error) {
	const q = `SELECT ` + clientColumns + ` FROM clients ORDER BY last_seen DESC LIMIT $1 OFFSET $2`
	var rows []clientRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, limit, offset); err != nil {
		return nil, err
	}
	out := make([]domain.Client, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateClientRDNS(ctx context.Context, id string, name string, resolvedAt time.Time, lastErr string) error {
	const q = `UPDATE clients SET rdns_name = NULLIF($2,''), rdns_last_resolved_at=$3,
		rdns_last_error = NULLIF($4,''), updated_at = now() WHERE id=$1`
	res, err := s.ext.ExecContext(ctx, q, id, name, resolvedAt.UTC(), lastErr)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type clientGroupRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	CIDR      sql.NullString `db:"cidr"`
	Color     sql.NullString `db:"color"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r clientGroupRow) toDomain() domain.ClientGroup {
	return domain.ClientGroup{
		ID:        r.ID,
		Name:      r.Name,
		CIDR:      r.CIDR.String,
		Color:     r.Color.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *Store) CreateClientGroup(ctx context.Context, g domain.ClientGroup) (domain.ClientGroup, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now

	const q = `INSERT INTO client_groups (id, name, cidr, color, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6)`
	_, err := s.ext.ExecContext(ctx, q, g.ID, g.Name, g.CIDR, g.Color, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return domain.ClientGroup{}, err
	}

	if g.CIDR != "" {
		if err := s.autoAssignGroup(ctx, g.ID, g.CIDR); err != nil {
			return domain.ClientGroup{}, err
		}
	}
	return g, nil
}

// autoAssignGroup assigns ungrouped clients whose IP falls within cidr to
// group g, per the ClientGroup "auto-assigns ungrouped clients" invariant.
func (s *Store) autoAssignGroup(ctx context.Context, groupID, cidr string) error {
	const q = `UPDATE clients SET group_id=$1, updated_at=now()
		WHERE group_id IS NULL AND ip::inet << $2::cidr`
	_, err := s.ext.ExecContext(ctx, q, groupID, cidr)
	return err
}

func (s *Store) ListClientGroups(ctx context.Context) ([]domain.ClientGroup, error) {
	const q = `SELECT id, name, cidr, color, created_at, updated_at FROM client_groups ORDER BY name`
	var rows []clientGroupRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.ClientGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetClientGroup(ctx context.Context, id string) (domain.ClientGroup, error) {
	const q = `SELECT id, name, cidr, color, created_at, updated_at FROM client_groups WHERE id=$1`
	var row clientGroupRow
	if err := sqlx.GetContext(ctx, s.ext, &row, q, id); err != nil {
		return domain.ClientGroup{}, errNoRows(err)
	}
	return row.toDomain(), nil
}
