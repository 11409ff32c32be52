package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction — meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// One row per checkbox line lifted from the corpus.
		`CREATE TABLE IF NOT EXISTS tasks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			source_file TEXT NOT NULL,
			source_line INTEGER NOT NULL,
			text        TEXT NOT NULL,
			symbol      TEXT NOT NULL DEFAULT ' ',
			status      TEXT NOT NULL DEFAULT 'open',
			priority    INTEGER NOT NULL DEFAULT 0,
			due         TEXT,
			created     TEXT,
			completed   TEXT,
			tags        TEXT NOT NULL DEFAULT '',
			folder      TEXT NOT NULL DEFAULT '',
			parent_id   INTEGER NOT NULL DEFAULT 0,
			imported_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_file, source_line)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tasks_source ON tasks(source_file)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_folder ON tasks(folder)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due)`,

		// FTS5 candidate index over task text and context. Plain unicode61:
		// porter stemming mangles CJK text and the relevance scorer does its
		// own matching anyway, FTS only narrows candidates.
		`CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
			text,
			folder,
			tags,
			content=tasks,
			content_rowid=id,
			tokenize='unicode61'
		)`,

		// FTS sync triggers
		`CREATE TRIGGER IF NOT EXISTS tasks_ai AFTER INSERT ON tasks BEGIN
			INSERT INTO tasks_fts(rowid, text, folder, tags)
			VALUES (new.id, new.text, new.folder, new.tags);
		END`,

		`CREATE TRIGGER IF NOT EXISTS tasks_ad AFTER DELETE ON tasks BEGIN
			INSERT INTO tasks_fts(tasks_fts, rowid, text, folder, tags)
			VALUES('delete', old.id, old.text, old.folder, old.tags);
		END`,

		`CREATE TRIGGER IF NOT EXISTS tasks_au AFTER UPDATE ON tasks BEGIN
			INSERT INTO tasks_fts(tasks_fts, rowid, text, folder, tags)
			VALUES('delete', old.id, old.text, old.folder, old.tags);
			INSERT INTO tasks_fts(rowid, text, folder, tags)
			VALUES (new.id, new.text, new.folder, new.tags);
		END`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"corpus_version": "0",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
