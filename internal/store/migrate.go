package store

import (
	"context"
	"fmt"
)

// schemaVersion is recorded in meta so future readers can tell what
// shape the tables are in. Migrations are additive only: columns are
// added, never renamed or dropped, so older databases keep working.
const schemaVersion = "1"

func (s *Store) ensureSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS meta(
			k TEXT PRIMARY KEY,
			v TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chunks(
			id INTEGER PRIMARY KEY,
			text TEXT,
			date TEXT, dow TEXT, "start" TEXT, "end" TEXT,
			location TEXT, participants TEXT, title TEXT, raw TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS uploads(
			id INTEGER PRIMARY KEY,
			filename TEXT, tag TEXT, mode TEXT,
			total_events INTEGER, added_events INTEGER,
			status TEXT, log TEXT, created_at TEXT, updated_at TEXT
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("schema creation failed: %w", err)
		}
	}

	// Columns that arrived after the tables first shipped. Databases
	// created by older builds gain them in place.
	additive := []struct {
		table, column, decl string
	}{
		{"chunks", "hash", "hash TEXT"},
		{"uploads", "task_id", "task_id TEXT"},
	}
	for _, a := range additive {
		cols, err := s.tableColumns(ctx, a.table)
		if err != nil {
			return err
		}
		if !cols[a.column] {
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", a.table, a.decl)
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", a.table, a.column, err)
			}
		}
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_hash_unique ON chunks(hash)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_task_id ON uploads(task_id)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}

	return s.SetMeta(ctx, MetaSchemaVersion, schemaVersion)
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
