package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresStore is the hosted catalog backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPostgresStore wraps an open pool. The pool is owned by the caller
// unless Close is called.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate creates the catalog tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const entryColumns = `id, title, composer, arranger, voicing, physical_copies_count,
	physical_location, condition_notes, last_inventory_date, is_public, created_by, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e  Entry
		id uuid.UUID
	)
	err := row.Scan(&id, &e.Title, &e.Composer, &e.Arranger, &e.Voicing, &e.PhysicalCopiesCount,
		&e.PhysicalLocation, &e.ConditionNotes, &e.LastInventoryDate, &e.IsPublic, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByTitleAndComposer implements Reader.
func (s *PostgresStore) FindByTitleAndComposer(ctx context.Context, title, composer string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM music_library WHERE title ILIKE $1`
	args := []any{likePattern(title)}
	if composer != "" {
		query += ` AND composer ILIKE $2`
		args = append(args, likePattern(composer))
	}
	query += ` ORDER BY created_at, id LIMIT 1`

	e, err := scanEntry(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return &e, nil
}

// ListCandidates implements Reader.
func (s *PostgresStore) ListCandidates(ctx context.Context, composer string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM music_library`
	var args []any
	if composer != "" {
		query += ` WHERE composer ILIKE $1`
		args = append(args, likePattern(composer))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return collectEntries(rows)
}

// List implements Reader.
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM music_library ORDER BY title, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return collectEntries(rows)
}

// Create implements Writer.
func (s *PostgresStore) Create(ctx context.Context, e NewEntry) (string, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO music_library (id, title, composer, voicing, physical_copies_count,
			physical_location, last_inventory_date, is_public, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, clock_timestamp())`,
		id, e.Title, e.Composer, e.Voicing, e.PhysicalCopiesCount,
		e.PhysicalLocation, dateOnly(e.LastInventoryDate), e.IsPublic, e.CreatedBy)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return id.String(), nil
}

// Update implements Writer.
func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid entry ID: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE music_library
		SET physical_copies_count = $2,
			physical_location = $3,
			last_inventory_date = $4,
			voicing = COALESCE($5, voicing)
		WHERE id = $1`,
		uid, p.PhysicalCopiesCount, p.PhysicalLocation, dateOnly(p.LastInventoryDate), p.Voicing)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveTemplate implements MetaStore. A template without an ID is inserted.
func (s *PostgresStore) SaveTemplate(ctx context.Context, t MappingTemplate) (MappingTemplate, error) {
	mappingJSON, err := json.Marshal(t.Mapping)
	if err != nil {
		return MappingTemplate{}, fmt.Errorf("marshal mapping: %w", err)
	}
	headersJSON, err := json.Marshal(t.Headers)
	if err != nil {
		return MappingTemplate{}, fmt.Errorf("marshal headers: %w", err)
	}

	var row pgx.Row
	if t.ID == "" {
		row = s.db.QueryRow(ctx, `
			INSERT INTO mapping_templates (id, name, mapping, headers)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`,
			uuid.New(), t.Name, mappingJSON, headersJSON)
	} else {
		uid, err := uuid.Parse(t.ID)
		if err != nil {
			return MappingTemplate{}, fmt.Errorf("invalid template ID: %w", err)
		}
		row = s.db.QueryRow(ctx, `
			UPDATE mapping_templates SET name = $2, mapping = $3, headers = $4, updated_at = now()
			WHERE id = $1
			RETURNING id, created_at, updated_at`,
			uid, t.Name, mappingJSON, headersJSON)
	}

	var id uuid.UUID
	if err := row.Scan(&id, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MappingTemplate{}, fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return MappingTemplate{}, fmt.Errorf("template %q already exists", t.Name)
		}
		return MappingTemplate{}, fmt.Errorf("save template: %w", err)
	}
	t.ID = id.String()
	return t, nil
}

func scanTemplate(row pgx.Row) (MappingTemplate, error) {
	var (
		t                  MappingTemplate
		id                 uuid.UUID
		mappingJSON, hJSON []byte
	)
	if err := row.Scan(&id, &t.Name, &mappingJSON, &hJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return MappingTemplate{}, err
	}
	if err := json.Unmarshal(mappingJSON, &t.Mapping); err != nil {
		return MappingTemplate{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	if err := json.Unmarshal(hJSON, &t.Headers); err != nil {
		return MappingTemplate{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	t.ID = id.String()
	return t, nil
}

// GetTemplate implements MetaStore.
func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid template ID: %w", err)
	}
	t, err := scanTemplate(s.db.QueryRow(ctx,
		`SELECT id, name, mapping, headers, created_at, updated_at FROM mapping_templates WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates implements MetaStore.
func (s *PostgresStore) ListTemplates(ctx context.Context) ([]MappingTemplate, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, mapping, headers, created_at, updated_at FROM mapping_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []MappingTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate implements MetaStore.
func (s *PostgresStore) DeleteTemplate(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid template ID: %w", err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveRun implements MetaStore.
func (s *PostgresStore) SaveRun(ctx context.Context, run ImportRun) error {
	uid, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO import_runs (id, file_name, user_id, total, created, updated, errors,
			cancelled, outcomes, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uid, run.FileName, run.UserID, run.Total, run.Created, run.Updated, run.Errors,
		run.Cancelled, []byte(run.Outcomes), run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun implements MetaStore.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}
	var (
		run      ImportRun
		rid      uuid.UUID
		outcomes []byte
	)
	err = s.db.QueryRow(ctx, `
		SELECT id, file_name, user_id, total, created, updated, errors, cancelled, outcomes,
			started_at, finished_at
		FROM import_runs WHERE id = $1`, uid).
		Scan(&rid, &run.FileName, &run.UserID, &run.Total, &run.Created, &run.Updated, &run.Errors,
			&run.Cancelled, &outcomes, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.ID = rid.String()
	run.Outcomes = outcomes
	return &run, nil
}

// ListRuns implements MetaStore. Outcomes are omitted from listings.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, file_name, user_id, total, created, updated, errors, cancelled, started_at, finished_at
		FROM import_runs ORDER BY started_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		var (
			run ImportRun
			rid uuid.UUID
		)
		if err := rows.Scan(&rid, &run.FileName, &run.UserID, &run.Total, &run.Created, &run.Updated,
			&run.Errors, &run.Cancelled, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.ID = rid.String()
		out = append(out, run)
	}
	return out, rows.Err()
}

// AppendAudit implements MetaStore.
func (s *PostgresStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, action, severity, user_id, ip_address, user_agent, run_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), rec.Action, rec.Severity, StringPtr(rec.UserID), StringPtr(rec.IPAddress),
		StringPtr(rec.UserAgent), StringPtr(rec.RunID), StringPtr(rec.Detail), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit implements MetaStore.
func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, action, severity, user_id, ip_address, user_agent, run_id, detail, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec                         AuditRecord
			id                          uuid.UUID
			user, ip, ua, runID, detail *string
		)
		if err := rows.Scan(&id, &rec.Action, &rec.Severity, &user, &ip, &ua, &runID, &detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.ID = id.String()
		rec.UserID, rec.IPAddress, rec.UserAgent = Deref(user), Deref(ip), Deref(ua)
		rec.RunID, rec.Detail = Deref(runID), Deref(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}
