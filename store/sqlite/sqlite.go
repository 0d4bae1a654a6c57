/*
Package sqlite provides the SQLite-backed entry ledger.

PURPOSE:
  Implements timeclock.Store using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  owners:    identities (opaque api token -> owner id)
  projects:  per-owner named buckets, name unique per owner
  entries:   the time-entry ledger

CONSTRAINT-DRIVEN CONCURRENCY:
  The single-open-entry invariant is enforced by a partial unique
  index on (owner_id) WHERE stop IS NULL. The index is NOT part of the
  base migration: it is created by ActivateOpenEntryConstraint after
  the reconciler has repaired pre-existing violations. From then on a
  second concurrent open-entry insert fails at the storage layer and
  is translated to a domain conflict - never check-then-act.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: readers don't block, single writer at a time.

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety. With PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/timeclock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - timeclock/store.go:        interface definitions
  - timeclock/reconcile.go:    pre-constraint repair
  - timeclock/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/track-engine/timeclock"
)

// Store implements timeclock.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer, and :memory: databases are
	// per-connection; the pool must not fan out.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the base schema. The open-entry unique index is
// deliberately absent here; see ActivateOpenEntryConstraint.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		api_token TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id),
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		visible INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		UNIQUE(owner_id, name)
	);

	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id),
		project_id INTEGER NOT NULL REFERENCES projects(id),
		start TEXT NOT NULL,
		stop TEXT,
		created_at TEXT NOT NULL
	);

	-- Listing hot path: newest start first per owner
	CREATE INDEX IF NOT EXISTS idx_entries_owner_start
		ON entries(owner_id, start DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_project
		ON entries(project_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ActivateOpenEntryConstraint creates the partial unique index that
// makes the single-open-entry invariant a storage guarantee. Creation
// fails if surplus open entries still exist, so reconciliation must
// run first.
func (s *Store) ActivateOpenEntryConstraint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_owner_open
			ON entries(owner_id) WHERE stop IS NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to activate open-entry constraint: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// WithTx executes fn within a database transaction. A nil return from
// fn commits; anything else rolls back in full.
func (s *Store) WithTx(ctx context.Context, fn func(timeclock.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&entryTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		// Statement-time violations are translated with the owner in
		// hand (InsertEntry/UpdateEntry); at commit the owner is no
		// longer known, so the conflict stays generic.
		if isOpenEntryViolation(err) {
			return &timeclock.ConflictError{Reason: "an open entry already exists"}
		}
		return err
	}
	return nil
}

type entryTx struct {
	tx *sql.Tx
}

const entryColumns = "id, owner_id, project_id, start, stop"

func (t *entryTx) GetEntry(ctx context.Context, ownerID, entryID int64) (*timeclock.Entry, error) {
	return scanEntry(t.tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ? AND owner_id = ?",
		entryID, ownerID,
	))
}

func (t *entryTx) GetOpenEntry(ctx context.Context, ownerID int64) (*timeclock.Entry, error) {
	return scanEntry(t.tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE owner_id = ? AND stop IS NULL",
		ownerID,
	))
}

func (t *entryTx) InsertEntry(ctx context.Context, e timeclock.Entry) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO entries (owner_id, project_id, start, stop, created_at) VALUES (?, ?, ?, ?, ?)",
		e.OwnerID, e.ProjectID, fmtTime(e.Start), fmtTimePtr(e.Stop), fmtTime(time.Now()),
	)
	if err != nil {
		return 0, translateConstraint(err, e.OwnerID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted entry id: %w", err)
	}
	return id, nil
}

func (t *entryTx) UpdateEntry(ctx context.Context, e timeclock.Entry) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE entries SET project_id = ?, start = ?, stop = ? WHERE id = ? AND owner_id = ?",
		e.ProjectID, fmtTime(e.Start), fmtTimePtr(e.Stop), e.ID, e.OwnerID,
	)
	if err != nil {
		return translateConstraint(err, e.OwnerID)
	}
	return nil
}

func (t *entryTx) DeleteEntry(ctx context.Context, ownerID, entryID int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM entries WHERE id = ? AND owner_id = ?",
		entryID, ownerID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *entryTx) GetProject(ctx context.Context, ownerID, projectID int64) (*timeclock.Project, error) {
	var (
		p         timeclock.Project
		createdAt string
	)
	err := t.tx.QueryRowContext(ctx,
		"SELECT id, owner_id, name, color, visible, created_at FROM projects WHERE id = ? AND owner_id = ?",
		projectID, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Color, &p.Visible, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseStoredTime(createdAt)
	return &p, nil
}

func (t *entryTx) ListOpenEntries(ctx context.Context) ([]timeclock.Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE stop IS NULL ORDER BY id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open entries: %w", err)
	}
	defer rows.Close()

	var entries []timeclock.Entry
	for rows.Next() {
		e, err := scanEntryFrom(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// READ QUERIES
// =============================================================================

const detailSelect = `
	SELECT e.id, e.owner_id, e.project_id, e.start, e.stop, p.name
	FROM entries e
	JOIN projects p ON p.id = e.project_id
	WHERE e.owner_id = ?`

// ListEntries returns the owner's entries newest-start first,
// optionally windowed by start time.
func (s *Store) ListEntries(ctx context.Context, ownerID int64, w timeclock.Window) ([]timeclock.EntryDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const order = " ORDER BY e.start DESC, e.id DESC"

	var (
		query string
		args  []any
	)
	switch {
	case w.From != nil && w.To != nil:
		query = detailSelect + " AND e.start >= ? AND e.start <= ?" + order
		args = []any{ownerID, fmtTime(*w.From), fmtTime(*w.To)}
	case w.From != nil:
		query = detailSelect + " AND e.start >= ?" + order
		args = []any{ownerID, fmtTime(*w.From)}
	case w.To != nil:
		query = detailSelect + " AND e.start <= ?" + order
		args = []any{ownerID, fmtTime(*w.To)}
	default:
		query = detailSelect + order
		args = []any{ownerID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var details []timeclock.EntryDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// OpenEntry returns the owner's currently open entry, or nil.
func (s *Store) OpenEntry(ctx context.Context, ownerID int64) (*timeclock.EntryDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, detailSelect+" AND e.stop IS NULL", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	d, err := scanDetail(rows)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =============================================================================
// OWNER / PROJECT PLUMBING
// =============================================================================

// CreateOwner registers an identity under an opaque api token.
func (s *Store) CreateOwner(ctx context.Context, name, token string) (timeclock.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO owners (name, api_token, created_at) VALUES (?, ?, ?)",
		name, token, fmtTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return timeclock.Owner{}, &timeclock.ConflictError{Reason: "owner name already taken"}
		}
		return timeclock.Owner{}, fmt.Errorf("failed to create owner: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return timeclock.Owner{}, err
	}
	return timeclock.Owner{ID: id, Name: name, Token: token, CreatedAt: now}, nil
}

// OwnerByToken resolves an opaque credential to an owner, or nil when
// the credential is unknown. The token is matched, never parsed.
func (s *Store) OwnerByToken(ctx context.Context, token string) (*timeclock.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o         timeclock.Owner
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, api_token, created_at FROM owners WHERE api_token = ?",
		token,
	).Scan(&o.ID, &o.Name, &o.Token, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = parseStoredTime(createdAt)
	return &o, nil
}

// CreateProject creates a project; names are unique per owner.
func (s *Store) CreateProject(ctx context.Context, p timeclock.Project) (timeclock.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (owner_id, name, color, visible, created_at) VALUES (?, ?, ?, ?, ?)",
		p.OwnerID, p.Name, p.Color, p.Visible, fmtTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return timeclock.Project{}, &timeclock.ConflictError{Reason: "project name already exists"}
		}
		return timeclock.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return timeclock.Project{}, err
	}
	p.ID = id
	p.CreatedAt = now
	return p, nil
}

// ListProjects returns the owner's projects ordered by name.
func (s *Store) ListProjects(ctx context.Context, ownerID int64) ([]timeclock.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, name, color, visible, created_at FROM projects WHERE owner_id = ? ORDER BY name",
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []timeclock.Project
	for rows.Next() {
		var (
			p         timeclock.Project
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Color, &p.Visible, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseStoredTime(createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// =============================================================================
// SCANNING / HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row *sql.Row) (*timeclock.Entry, error) {
	e, err := scanEntryFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntryFrom(r rowScanner) (timeclock.Entry, error) {
	var (
		e     timeclock.Entry
		start string
		stop  sql.NullString
	)
	if err := r.Scan(&e.ID, &e.OwnerID, &e.ProjectID, &start, &stop); err != nil {
		return e, err
	}
	e.Start = parseStoredTime(start)
	if stop.Valid {
		t := parseStoredTime(stop.String)
		e.Stop = &t
	}
	return e, nil
}

func scanDetail(rows *sql.Rows) (timeclock.EntryDetail, error) {
	var (
		d     timeclock.EntryDetail
		start string
		stop  sql.NullString
	)
	if err := rows.Scan(&d.ID, &d.OwnerID, &d.ProjectID, &start, &stop, &d.ProjectName); err != nil {
		return d, fmt.Errorf("failed to scan entry: %w", err)
	}
	d.Start = parseStoredTime(start)
	if stop.Valid {
		t := parseStoredTime(stop.String)
		d.Stop = &t
	}
	return d, nil
}

// storedTimeLayout keeps full nanosecond precision so stored instants
// round-trip exactly and validation (start < stop) holds for the
// committed row, not just the in-flight values. The fractional part is
// fixed-width so lexicographic order on the TEXT column matches
// chronological order for ORDER BY and window comparisons.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// parseStoredTime reads both the current nanosecond layout and
// second-precision rows written before it.
func parseStoredTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

// translateConstraint maps the open-entry unique violation to the
// domain conflict so storage errors never leak into the taxonomy.
func translateConstraint(err error, ownerID int64) error {
	if isOpenEntryViolation(err) {
		return timeclock.NewOpenEntryConflict(ownerID)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SQLite names the indexed columns in the violation message for plain
// column indexes and the index itself for expression indexes; accept
// both. No other unique constraint exists on entries.
func isOpenEntryViolation(err error) bool {
	if !isUniqueViolation(err) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "entries.owner_id") || strings.Contains(msg, "idx_entries_owner_open")
}
