package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

// --- ClientResolverRule (read-only) ---

type resolverRuleRow struct {
	ID         string `db:"id"`
	Priority   int    `db:"priority"`
	Subnet     string `db:"subnet"`
	Nameserver string `db:"nameserver"`
	Enabled    bool   `db:"enabled"`
}

func (s *Store) ListEnabledResolverRules(ctx context.Context) ([]domain.ClientResolverRule, error) {
	const q = `SELECT id, priority, subnet, nameserver, enabled FROM client_resolver_rules
		WHERE enabled ORDER BY priority ASC`
	var rows []resolverRuleRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q); err != nil {
		return nil, err
	}
	out := make([]domain.ClientResolverRule, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ClientResolverRule{
			ID: r.ID, Priority: r.Priority, Subnet: r.Subnet, Nameserver: r.Nameserver, Enabled: r.Enabled,
		})
	}
	return out, nil
}

// --- NodeCommand ---

type nodeCommandRow struct {
	ID         string         `db:"id"`
	NodeID     sql.NullString `db:"node_id"`
	Command    string         `db:"command"`
	Params     []byte         `db:"params"`
	CreatedAt  time.Time      `db:"created_at"`
	ExecutedAt sql.NullTime   `db:"executed_at"`
	Result     []byte         `db:"result"`
}

func (r nodeCommandRow) toDomain() (domain.NodeCommand, error) {
	c := domain.NodeCommand{
		ID:        r.ID,
		Command:   r.Command,
		CreatedAt: r.CreatedAt,
	}
	if r.NodeID.Valid {
		id := r.NodeID.String
		c.NodeID = &id
	}
	if r.ExecutedAt.Valid {
		t := r.ExecutedAt.Time
		c.ExecutedAt = &t
	}
	if len(r.Params) > 0 {
		if err := json.Unmarshal(r.Params, &c.Params); err != nil {
			return domain.NodeCommand{}, err
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &c.Result); err != nil {
			return domain.NodeCommand{}, err
		}
	}
	return c, nil
}

func (s *Store) CreateNodeCommand(ctx context.Context, c domain.NodeCommand) (domain.NodeCommand, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	params, err := json.Marshal(c.Params)
	if err != nil {
		return domain.NodeCommand{}, err
	}

	const q = `INSERT INTO node_commands (id, node_id, command, params, created_at)
		VALUES ($1,$2,$3,$4,$5)`
	if _, err := s.ext.ExecContext(ctx, q, c.ID, c.NodeID, c.Command, params, c.CreatedAt); err != nil {
		return domain.NodeCommand{}, err
	}
	return c, nil
}

// PendingCommandsForNode returns commands addressed to nodeID or to all
// nodes (node_id IS NULL) that have not yet been executed.
func (s *Store) PendingCommandsForNode(ctx context.Context, nodeID string) ([]domain.NodeCommand, error) {
	const q = `SELECT id, node_id, command, params, created_at, executed_at, result
		FROM node_commands
		WHERE executed_at IS NULL AND (node_id = $1 OR node_id IS NULL)
		ORDER BY created_at`
	var rows []nodeCommandRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, nodeID); err != nil {
		return nil, err
	}
	out := make([]domain.NodeCommand, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) RecordCommandResult(ctx context.Context, id string, result map[string]any, executedAt time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	const q = `UPDATE node_commands SET executed_at=$2, result=$3 WHERE id=$1`
	res, err := s.ext.ExecContext(ctx, q, id, executedAt.UTC(), payload)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ConfigChange (audit) ---

type configChangeRow struct {
	ID          string    `db:"id"`
	EntityType  string    `db:"entity_type"`
	EntityID    string    `db:"entity_id"`
	Action      string    `db:"action"`
	ActorUserID string    `db:"actor_user_id"`
	BeforeData  []byte    `db:"before_data"`
	AfterData   []byte    `db:"after_data"`
	Comment     string    `db:"comment"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r configChangeRow) toDomain() (domain.ConfigChange, error) {
	c := domain.ConfigChange{
		ID: r.ID, EntityType: r.EntityType, EntityID: r.EntityID, Action: r.Action,
		ActorUserID: r.ActorUserID, Comment: r.Comment, CreatedAt: r.CreatedAt,
	}
	if len(r.BeforeData) > 0 {
		if err := json.Unmarshal(r.BeforeData, &c.BeforeData); err != nil {
			return domain.ConfigChange{}, err
		}
	}
	if len(r.AfterData) > 0 {
		if err := json.Unmarshal(r.AfterData, &c.AfterData); err != nil {
			return domain.ConfigChange{}, err
		}
	}
	return c, nil
}

// RecordConfigChange is best-effort relative to the caller's business
// mutation — both must run in the same transaction so either both commit or
// neither does, but a failure here is never itself treated as a reason to
// retry the mutation.
func (s *Store) RecordConfigChange(ctx context.Context, c domain.ConfigChange) (domain.ConfigChange, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	before, err := json.Marshal(c.BeforeData)
	if err != nil {
		return domain.ConfigChange{}, err
	}
	after, err := json.Marshal(c.AfterData)
	if err != nil {
		return domain.ConfigChange{}, err
	}

	const q = `INSERT INTO config_changes
		(id, entity_type, entity_id, action, actor_user_id, before_data, after_data, comment, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,NULLIF($8,''),$9)`
	_, err = s.ext.ExecContext(ctx, q, c.ID, c.EntityType, c.EntityID, c.Action, c.ActorUserID,
		before, after, c.Comment, c.CreatedAt)
	if err != nil {
		return domain.ConfigChange{}, err
	}
	return c, nil
}

func (s *Store) GetConfigChange(ctx context.Context, id string) (domain.ConfigChange, error) {
	const q = `SELECT id, entity_type, entity_id, action, coalesce(actor_user_id,'') AS actor_user_id,
		before_data, after_data, coalesce(comment,'') AS comment, created_at
		FROM config_changes WHERE id=$1`
	var row configChangeRow
	if err := sqlx.GetContext(ctx, s.ext, &row, q, id); err != nil {
		return domain.ConfigChange{}, errNoRows(err)
	}
	return row.toDomain()
}

func (s *Store) ListConfigChanges(ctx context.Context, limit, offset int) ([]domain.ConfigChange, error) {
	const q = `SELECT id, entity_type, entity_id, action, coalesce(actor_user_id,'') AS actor_user_id,
		before_data, after_data, coalesce(comment,'') AS comment, created_at
		FROM config_changes ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	var rows []configChangeRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, limit, offset); err != nil {
		return nil, err
	}
	out := make([]domain.ConfigChange, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Setting ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := sqlx.GetContext(ctx, s.ext, &value, `SELECT value FROM settings WHERE key=$1`, key)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value, updated_at) VALUES ($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`
	_, err := s.ext.ExecContext(ctx, q, key, value)
	return err
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.ext.QueryxContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- Backup (read-only filesystem listing) ---

// backupsDir is set at construction time by the application wiring; stored
// here rather than threaded through every call since it is a fixed
// deployment path, not request-scoped state.
var backupsDir = "backups"

// SetBackupsDir configures the directory ListBackups reads from.
func SetBackupsDir(dir string) { backupsDir = dir }

func (s *Store) ListBackups(ctx context.Context) ([]domain.BackupManifest, error) {
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.BackupManifest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := ""
		switch {
		case strings.HasSuffix(e.Name(), ".sql"):
			kind = "sql"
		case strings.HasSuffix(e.Name(), ".tar.gz"):
			kind = "tar.gz"
		default:
			continue
		}
		out = append(out, domain.BackupManifest{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
			Kind:      kind,
		})
	}
	return out, nil
}

// --- Blocking state ---

func (s *Store) GetBlockingState(ctx context.Context) (domain.Blocking, error) {
	const q = `SELECT value FROM settings WHERE key='blocking_state'`
	var raw string
	err := sqlx.GetContext(ctx, s.ext, &raw, q)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Blocking{State: domain.BlockingEnabled}, nil
		}
		return domain.Blocking{}, err
	}

	var stored struct {
		State       string     `json:"state"`
		PausedUntil *time.Time `json:"paused_until,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return domain.Blocking{}, err
	}
	return domain.Blocking{State: domain.BlockingState(stored.State), PausedUntil: stored.PausedUntil}, nil
}

func (s *Store) SetBlockingState(ctx context.Context, b domain.Blocking) error {
	payload, err := json.Marshal(struct {
		State       string     `json:"state"`
		PausedUntil *time.Time `json:"paused_until,omitempty"`
	}{State: string(b.State), PausedUntil: b.PausedUntil})
	if err != nil {
		return err
	}
	return s.SetSetting(ctx, "blocking_state", string(payload))
}
