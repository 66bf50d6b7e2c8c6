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

type blocklistRow struct {
	ID                   string         `db:"id"`
	Name                 string         `db:"name"`
	URL                  string         `db:"url"`
	Format               string         `db:"format"`
	ListType             string         `db:"list_type"`
	Enabled              bool           `db:"enabled"`
	UpdateFrequencyHours int            `db:"update_frequency_hours"`
	LastUpdated          sql.NullTime   `db:"last_updated"`
	LastUpdateStatus     sql.NullString `db:"last_update_status"`
	LastError            sql.NullString `db:"last_error"`
	EntryCount           int64          `db:"entry_count"`
	ETag                 sql.NullString `db:"etag"`
	LastModified         sql.NullString `db:"last_modified"`
	ScheduleEnabled      bool           `db:"schedule_enabled"`
	ScheduleStart        sql.NullString `db:"schedule_start"`
	ScheduleEnd          sql.NullString `db:"schedule_end"`
	ScheduleDays         pq.StringArray `db:"schedule_days"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r blocklistRow) toDomain() domain.Blocklist {
	b := domain.Blocklist{
		ID:                   r.ID,
		Name:                 r.Name,
		URL:                  r.URL,
		Format:               domain.BlocklistFormat(r.Format),
		ListType:             domain.BlocklistType(r.ListType),
		Enabled:              r.Enabled,
		UpdateFrequencyHours: r.UpdateFrequencyHours,
		LastUpdateStatus:     r.LastUpdateStatus.String,
		LastError:            r.LastError.String,
		EntryCount:           r.EntryCount,
		ETag:                 r.ETag.String,
		LastModified:         r.LastModified.String,
		ScheduleEnabled:      r.ScheduleEnabled,
		ScheduleStart:        r.ScheduleStart.String,
		ScheduleEnd:          r.ScheduleEnd.String,
		ScheduleDays:         []string(r.ScheduleDays),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.LastUpdated.Valid {
		t := r.LastUpdated.Time
		b.LastUpdated = &t
	}
	return b
}

const blocklistColumns = `id, name, url, format, list_type, enabled, update_frequency_hours,
	last_updated, last_update_status, last_error, entry_count, etag, last_modified,
	schedule_enabled, schedule_start, schedule_end, schedule_days, created_at, updated_at`

func (s *Store) ListEnabledBlocklists(ctx context.Context) ([]domain.Blocklist, error) {
	return s.queryBlocklists(ctx, `SELECT `+blocklistColumns+` FROM blocklists WHERE enabled ORDER BY name`)
}

func (s *Store) ListBlocklists(ctx context.Context) ([]domain.Blocklist, error) {
	return s.queryBlocklists(ctx, `SELECT `+blocklistColumns+` FROM blocklists ORDER BY name`)
}

func (s *Store) queryBlocklists(ctx context.Context, q string, args ...interface{}) ([]domain.Blocklist, error) {
	var rows []blocklistRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Blocklist, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetBlocklist(ctx context.Context, id string) (domain.Blocklist, error) {
	var row blocklistRow
	q := `SELECT ` + blocklistColumns + ` FROM blocklists WHERE id=$1`
	if err := sqlx.GetContext(ctx, s.ext, &row, q, id); err != nil {
		return domain.Blocklist{}, errNoRows(err)
	}
	return row.toDomain(), nil
}

func (s *Store) CreateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	const q = `
		INSERT INTO blocklists (id, name, url, format, list_type, enabled, update_frequency_hours,
			last_updated, last_update_status, last_error, entry_count, etag, last_modified,
			schedule_enabled, schedule_start, schedule_end, schedule_days, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),$11,NULLIF($12,''),NULLIF($13,''),
			$14,NULLIF($15,''),NULLIF($16,''),$17,$18,$19)`
	_, err := s.ext.ExecContext(ctx, q, b.ID, b.Name, b.URL, string(b.Format), string(b.ListType),
		b.Enabled, b.UpdateFrequencyHours, nullTime(b.LastUpdated), b.LastUpdateStatus, b.LastError,
		b.EntryCount, b.ETag, b.LastModified, b.ScheduleEnabled, b.ScheduleStart, b.ScheduleEnd,
		pq.Array(b.ScheduleDays), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return domain.Blocklist{}, err
	}
	return b, nil
}

func (s *Store) UpdateBlocklist(ctx context.Context, b domain.Blocklist) (domain.Blocklist, error) {
	existing, err := s.GetBlocklist(ctx, b.ID)
	if err != nil {
		return domain.Blocklist{}, err
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	const q = `
		UPDATE blocklists SET name=$2, url=$3, format=$4, list_type=$5, enabled=$6,
			update_frequency_hours=$7, last_updated=$8, last_update_status=NULLIF($9,''),
			last_error=NULLIF($10,''), entry_count=$11, etag=NULLIF($12,''),
			last_modified=NULLIF($13,''), schedule_enabled=$14, schedule_start=NULLIF($15,''),
			schedule_end=NULLIF($16,''), schedule_days=$17, updated_at=$18
		WHERE id=$1`
	res, err := s.ext.ExecContext(ctx, q, b.ID, b.Name, b.URL, string(b.Format), string(b.ListType),
		b.Enabled, b.UpdateFrequencyHours, nullTime(b.LastUpdated), b.LastUpdateStatus, b.LastError,
		b.EntryCount, b.ETag, b.LastModified, b.ScheduleEnabled, b.ScheduleStart, b.ScheduleEnd,
		pq.Array(b.ScheduleDays), b.UpdatedAt)
	if err != nil {
		return domain.Blocklist{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Blocklist{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) DeleteBlocklist(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM blocklists WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceBlocklistEntries swaps a blocklist's parsed entries wholesale,
// inside the caller's transaction. Invoked only after a successful fetch +
// parse; a failed fetch leaves prior entries untouched per the error policy.
func (s *Store) ReplaceBlocklistEntries(ctx context.Context, blocklistID string, domains []string) (int64, error) {
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM blocklist_entries WHERE blocklist_id=$1`, blocklistID); err != nil {
		return 0, err
	}
	if len(domains) == 0 {
		return 0, nil
	}

	const q = `INSERT INTO blocklist_entries (id, blocklist_id, domain, created_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT (blocklist_id, domain) DO NOTHING`
	now := time.Now().UTC()
	var inserted int64
	for _, d := range domains {
		res, err := s.ext.ExecContext(ctx, q, uuid.NewString(), blocklistID, d, now)
		if err != nil {
			return inserted, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	return inserted, nil
}

func (s *Store) ListManualDomains(ctx context.Context, entryType domain.ManualEntryType) ([]string, error) {
	var out []string
	q := `SELECT domain FROM manual_entries WHERE entry_type=$1`
	if err := sqlx.SelectContext(ctx, s.ext, &out, q, string(entryType)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListAllBlocklistDomains(ctx context.Context, listType domain.BlocklistType) ([]string, error) {
	var out []string
	const q = `SELECT lower(be.domain) FROM blocklist_entries be
		JOIN blocklists b ON b.id = be.blocklist_id
		WHERE b.enabled AND b.list_type=$1`
	if err := sqlx.SelectContext(ctx, s.ext, &out, q, string(listType)); err != nil {
		return nil, err
	}
	return out, nil
}
