package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// fold(x) lowercases with Go's Unicode tables, matching containsFold.
// SQLite's own lower() folds ASCII only.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, foldFunc)
}

func foldFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// SQLiteStore is the local, single-file catalog backend used by the CLI
// and for offline work.
type SQLiteStore struct {
	db *sql.DB

	// created_at is stored in nanoseconds; lastStamp keeps it strictly
	// increasing so two inserts in the same tick still order by creation.
	mu        sync.Mutex
	lastStamp int64
}

// OpenSQLite opens (or creates) a database file at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serialises
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e         Entry
		composer  sql.NullString
		arranger  sql.NullString
		voicing   sql.NullString
		location  sql.NullString
		condition sql.NullString
		invDate   sql.NullString
		created   int64
	)
	err := row.Scan(&e.ID, &e.Title, &composer, &arranger, &voicing, &e.PhysicalCopiesCount,
		&location, &condition, &invDate, &e.IsPublic, &e.CreatedBy, &created)
	if err != nil {
		return Entry{}, err
	}
	e.Composer = nullString(composer)
	e.Arranger = nullString(arranger)
	e.Voicing = nullString(voicing)
	e.PhysicalLocation = nullString(location)
	e.ConditionNotes = nullString(condition)
	if invDate.Valid && invDate.String != "" {
		if d, err := time.Parse(DateLayout, invDate.String); err == nil {
			e.LastInventoryDate = &d
		}
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByTitleAndComposer implements Reader.
func (s *SQLiteStore) FindByTitleAndComposer(ctx context.Context, title, composer string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM music_library WHERE instr(fold(title), fold(?)) > 0`
	args := []any{title}
	if composer != "" {
		query += ` AND instr(fold(coalesce(composer, '')), fold(?)) > 0`
		args = append(args, composer)
	}
	query += ` ORDER BY created_at, id LIMIT 1`

	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return &e, nil
}

// ListCandidates implements Reader.
func (s *SQLiteStore) ListCandidates(ctx context.Context, composer string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM music_library`
	var args []any
	if composer != "" {
		query += ` WHERE instr(fold(coalesce(composer, '')), fold(?)) > 0`
		args = append(args, composer)
	}
	query += ` ORDER BY created_at, id`

	out, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// List implements Reader.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	out, err := s.queryEntries(ctx, `SELECT `+entryColumns+` FROM music_library ORDER BY title, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out, nil
}

// Create implements Writer.
func (s *SQLiteStore) Create(ctx context.Context, e NewEntry) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO music_library (id, title, composer, voicing, physical_copies_count,
			physical_location, last_inventory_date, is_public, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Title, e.Composer, e.Voicing, e.PhysicalCopiesCount,
		e.PhysicalLocation, e.LastInventoryDate.Format(DateLayout), e.IsPublic, e.CreatedBy, s.stamp())
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return id, nil
}

// Update implements Writer.
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE music_library
		SET physical_copies_count = ?,
			physical_location = ?,
			last_inventory_date = ?,
			voicing = coalesce(?, voicing)
		WHERE id = ?`,
		p.PhysicalCopiesCount, p.PhysicalLocation, p.LastInventoryDate.Format(DateLayout), p.Voicing, id)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveTemplate implements MetaStore.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, t MappingTemplate) (MappingTemplate, error) {
	mappingJSON, err := json.Marshal(t.Mapping)
	if err != nil {
		return MappingTemplate{}, fmt.Errorf("marshal mapping: %w", err)
	}
	headersJSON, err := json.Marshal(t.Headers)
	if err != nil {
		return MappingTemplate{}, fmt.Errorf("marshal headers: %w", err)
	}

	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
		t.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO mapping_templates (id, name, mapping, headers, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, string(mappingJSON), string(headersJSON), now.UnixNano(), now.UnixNano())
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, `
			UPDATE mapping_templates SET name = ?, mapping = ?, headers = ?, updated_at = ?
			WHERE id = ?`,
			t.Name, string(mappingJSON), string(headersJSON), now.UnixNano(), t.ID)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return MappingTemplate{}, fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
			}
		}
	}
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return MappingTemplate{}, fmt.Errorf("template %q already exists", t.Name)
		}
		return MappingTemplate{}, fmt.Errorf("save template: %w", err)
	}
	t.UpdatedAt = now

	if t.CreatedAt.IsZero() {
		stored, err := s.GetTemplate(ctx, t.ID)
		if err == nil {
			t.CreatedAt = stored.CreatedAt
		}
	}
	return t, nil
}

func scanSQLiteTemplate(row rowScanner) (MappingTemplate, error) {
	var (
		t                  MappingTemplate
		mappingJSON, hJSON string
		created, updated   int64
	)
	if err := row.Scan(&t.ID, &t.Name, &mappingJSON, &hJSON, &created, &updated); err != nil {
		return MappingTemplate{}, err
	}
	if err := json.Unmarshal([]byte(mappingJSON), &t.Mapping); err != nil {
		return MappingTemplate{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(hJSON), &t.Headers); err != nil {
		return MappingTemplate{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return t, nil
}

// GetTemplate implements MetaStore.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*MappingTemplate, error) {
	t, err := scanSQLiteTemplate(s.db.QueryRowContext(ctx,
		`SELECT id, name, mapping, headers, created_at, updated_at FROM mapping_templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates implements MetaStore.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]MappingTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mapping, headers, created_at, updated_at FROM mapping_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []MappingTemplate
	for rows.Next() {
		t, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate implements MetaStore.
func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mapping_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveRun implements MetaStore.
func (s *SQLiteStore) SaveRun(ctx context.Context, run ImportRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, file_name, user_id, total, created, updated, errors,
			cancelled, outcomes, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FileName, run.UserID, run.Total, run.Created, run.Updated, run.Errors,
		run.Cancelled, string(run.Outcomes), run.StartedAt.UnixNano(), run.FinishedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun implements MetaStore.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	var (
		run               ImportRun
		outcomes          sql.NullString
		started, finished int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, user_id, total, created, updated, errors, cancelled, outcomes,
			started_at, finished_at
		FROM import_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.FileName, &run.UserID, &run.Total, &run.Created, &run.Updated, &run.Errors,
			&run.Cancelled, &outcomes, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if outcomes.Valid && outcomes.String != "" {
		run.Outcomes = json.RawMessage(outcomes.String)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.FinishedAt = time.Unix(0, finished).UTC()
	return &run, nil
}

// ListRuns implements MetaStore.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, user_id, total, created, updated, errors, cancelled, started_at, finished_at
		FROM import_runs ORDER BY started_at DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		var (
			run               ImportRun
			started, finished int64
		)
		if err := rows.Scan(&run.ID, &run.FileName, &run.UserID, &run.Total, &run.Created, &run.Updated,
			&run.Errors, &run.Cancelled, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started).UTC()
		run.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, run)
	}
	return out, rows.Err()
}

// AppendAudit implements MetaStore.
func (s *SQLiteStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, severity, user_id, ip_address, user_agent, run_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.Action, rec.Severity, StringPtr(rec.UserID), StringPtr(rec.IPAddress),
		StringPtr(rec.UserAgent), StringPtr(rec.RunID), StringPtr(rec.Detail), rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit implements MetaStore.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, severity, user_id, ip_address, user_agent, run_id, detail, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec                         AuditRecord
			user, ip, ua, runID, detail sql.NullString
			created                     int64
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Severity, &user, &ip, &ua, &runID, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.UserID, rec.IPAddress, rec.UserAgent = user.String, ip.String, ua.String
		rec.RunID, rec.Detail = runID.String, detail.String
		rec.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
