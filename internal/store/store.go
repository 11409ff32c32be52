// Package store provides the SQLite + FTS5 storage layer for the task
// index.
//
// All indexed tasks live in a single SQLite database file: one row per
// checkbox line with its parsed metadata, plus an FTS5 index over the task
// text for keyword candidate retrieval. The corpus version in the meta
// table increments on every write, so derived score caches can detect
// staleness.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fernwick/taskrank/internal/task"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.taskrank/tasks.db"

// DefaultBatchSize is the default batch size for bulk inserts.
const DefaultBatchSize = 500

// ListOpts controls structural prefiltering for List operations. All
// filters are conjunctive; keyword relevance is scored by the caller, not
// here.
type ListOpts struct {
	Folder          string   // prefix match on the folder path
	Tags            []string // task must carry every listed tag
	Statuses        []string // canonical status keys, any-of
	ExcludeStatuses []string // canonical status keys to drop
	Priorities      []int    // canonical priority levels, any-of
	MatchAny        []string // FTS candidate restriction, any-of keywords
	Limit           int
	Offset          int
}

// Stats holds observability counters about the store.
type Stats struct {
	TaskCount     int64
	SourceCount   int64
	CorpusVersion int64
	DBSizeBytes   int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath    string
	BatchSize int
}

// Store defines the task storage interface.
type Store interface {
	// Writes. ReplaceSource atomically swaps every task from one source
	// file; both write paths bump the corpus version.
	ReplaceSource(ctx context.Context, sourceFile string, tasks []*task.Task) ([]int64, error)
	DeleteSource(ctx context.Context, sourceFile string) (int64, error)

	// Reads.
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	ListTasks(ctx context.Context, opts ListOpts) ([]task.Task, error)

	// CorpusVersion increments monotonically on every write batch. Score
	// caches keyed on it are invalid once it moves.
	CorpusVersion(ctx context.Context) (int64, error)

	// Readiness. The engine reports Source-Not-Ready while a bulk index
	// rebuild is running rather than serving partial results as empty.
	Ready() bool
	SetIndexing(indexing bool)

	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite + FTS5.
type SQLiteStore struct {
	db        *sql.DB
	dbPath    string
	batchSize int
	indexing  atomic.Bool
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:        db,
		dbPath:    cfg.DBPath,
		batchSize: cfg.BatchSize,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Ready reports whether the index can serve queries.
func (s *SQLiteStore) Ready() bool {
	return !s.indexing.Load()
}

// SetIndexing flips the bulk-rebuild flag. Queries arriving while it is
// set get a Source-Not-Ready error instead of a misleading empty result.
func (s *SQLiteStore) SetIndexing(indexing bool) {
	s.indexing.Store(indexing)
}

// ReplaceSource swaps all tasks for one source file in a single
// transaction and bumps the corpus version once.
func (s *SQLiteStore) ReplaceSource(ctx context.Context, sourceFile string, tasks []*task.Task) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE source_file = ?", sourceFile); err != nil {
		return nil, fmt.Errorf("clearing source %q: %w", sourceFile, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (source_file, source_line, text, symbol, status, priority, due, created, completed, tags, folder, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		res, err := stmt.ExecContext(ctx,
			t.SourceFile, t.SourceLine, t.Text, t.Symbol, t.Status, t.Priority,
			timeArg(t.Due), timeArg(t.Created), timeArg(t.Completed),
			encodeTags(t.Tags), t.Folder, t.ParentID,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting task %s: %w", t.Location(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading insert id: %w", err)
		}
		t.ID = id
		ids = append(ids, id)
	}

	if err := bumpCorpusVersion(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return ids, nil
}

// DeleteSource removes every task from one source file and returns the
// number removed.
func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceFile string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE source_file = ?", sourceFile)
	if err != nil {
		return 0, fmt.Errorf("deleting source %q: %w", sourceFile, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := bumpCorpusVersion(ctx, tx); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return n, nil
}

// GetTask fetches one task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", id, err)
	}
	return t, nil
}

const taskSelect = `
	SELECT tasks.id, tasks.source_file, tasks.source_line, tasks.text, tasks.symbol, tasks.status, tasks.priority, tasks.due, tasks.created, tasks.completed, tasks.tags, tasks.folder, tasks.parent_id
	FROM tasks`

// ListTasks returns tasks matching the structural filters, ordered by
// source file then line for determinism.
func (s *SQLiteStore) ListTasks(ctx context.Context, opts ListOpts) ([]task.Task, error) {
	query := taskSelect
	var conds []string
	var args []any

	if len(opts.MatchAny) > 0 {
		query += " JOIN tasks_fts ON tasks_fts.rowid = tasks.id"
		conds = append(conds, "tasks_fts MATCH ?")
		args = append(args, ftsQuery(opts.MatchAny))
	}
	if opts.Folder != "" {
		conds = append(conds, "(tasks.folder = ? OR tasks.folder LIKE ?)")
		args = append(args, opts.Folder, opts.Folder+"/%")
	}
	for _, tag := range opts.Tags {
		conds = append(conds, "tasks.tags LIKE ?")
		args = append(args, "%,"+strings.ToLower(tag)+",%")
	}
	if len(opts.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(opts.Statuses))+")")
		for _, st := range opts.Statuses {
			args = append(args, st)
		}
	}
	if len(opts.ExcludeStatuses) > 0 {
		conds = append(conds, "status NOT IN ("+placeholders(len(opts.ExcludeStatuses))+")")
		for _, st := range opts.ExcludeStatuses {
			args = append(args, st)
		}
	}
	if len(opts.Priorities) > 0 {
		conds = append(conds, "priority IN ("+placeholders(len(opts.Priorities))+")")
		for _, p := range opts.Priorities {
			args = append(args, p)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY source_file, source_line"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CorpusVersion returns the current write generation.
func (s *SQLiteStore) CorpusVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		"SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'corpus_version'",
	).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading corpus version: %w", err)
	}
	return v, nil
}

// Stats reports store counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&st.TaskCount); err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source_file) FROM tasks").Scan(&st.SourceCount); err != nil {
		return nil, fmt.Errorf("counting sources: %w", err)
	}
	v, err := s.CorpusVersion(ctx)
	if err != nil {
		return nil, err
	}
	st.CorpusVersion = v

	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = fi.Size()
		}
	}
	return st, nil
}

func bumpCorpusVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('corpus_version', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`)
	if err != nil {
		return fmt.Errorf("bumping corpus version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var due, created, completed, tags sql.NullString
	err := row.Scan(
		&t.ID, &t.SourceFile, &t.SourceLine, &t.Text, &t.Symbol, &t.Status,
		&t.Priority, &due, &created, &completed, &tags, &t.Folder, &t.ParentID,
	)
	if err != nil {
		return nil, err
	}
	t.Due = parseTimeCol(due)
	t.Created = parseTimeCol(created)
	t.Completed = parseTimeCol(completed)
	t.Tags = decodeTags(tags.String)
	return &t, nil
}

// Timestamps are stored as RFC 3339 text so the schema stays portable
// across driver versions.
func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimeCol(col sql.NullString) *time.Time {
	if !col.Valid || col.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, col.String)
	if err != nil {
		return nil
	}
	return &t
}

// Tags are stored comma-delimited with sentinel commas at both ends so a
// single LIKE matches whole tags only.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	lower := make([]string, len(tags))
	for i, tg := range tags {
		lower[i] = strings.ToLower(tg)
	}
	return "," + strings.Join(lower, ",") + ","
}

func decodeTags(enc string) []string {
	enc = strings.Trim(enc, ",")
	if enc == "" {
		return nil
	}
	return strings.Split(enc, ",")
}

// ftsQuery builds an any-of FTS5 match expression, quoting each term so
// user input can't inject FTS syntax.
func ftsQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(strings.ReplaceAll(t, `"`, `""`))
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
