// Package store persists record metadata in SQLite. One database file
// per store directory holds the chunks table (ordinal id keyed record
// rows), the meta key/value table, and the uploads task log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"lockstep/internal/record"
)

// Meta keys used by the consistency engine.
const (
	MetaModel         = "emb_model"
	MetaDim           = "emb_dim"
	MetaSchemaVersion = "schema_version"
)

// Row is one chunks table row. ID is the ordinal id shared with the
// vector at the same index position.
type Row struct {
	ID     int
	Hash   string
	Text   string
	Record record.Record
}

// Store wraps the SQLite database for one store directory.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	return s.ensureSchema(context.Background())
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RowCount returns the number of committed chunk rows.
func (s *Store) RowCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ExistingHashes returns the set of content hashes already committed.
func (s *Store) ExistingHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT hash FROM chunks WHERE hash IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("select hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		if h != "" {
			hashes[h] = struct{}{}
		}
	}
	return hashes, rows.Err()
}

const chunkColumns = `id, text, date, dow, "start", "end", location, participants, title, raw, hash`

// InsertRows writes rows in one transaction. Conflicts on id or hash
// replace the previous row, so a retried ingestion with the same ids
// is idempotent rather than duplicating.
func (s *Store) InsertRows(ctx context.Context, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRowsTx(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRowsTx(ctx context.Context, tx *sql.Tx, rows []Row) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO chunks ("+chunkColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		rec := r.Record
		_, err := stmt.ExecContext(ctx, r.ID, r.Text,
			nullable(rec.Date), nullable(rec.Dow), nullable(rec.Start), nullable(rec.End),
			nullable(rec.Location), nullable(rec.Participants), nullable(rec.Title), nullable(rec.Raw),
			r.Hash)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", r.ID, err)
		}
	}
	return nil
}

// ReplaceAllRows deletes every chunk row and inserts the given rows in
// a single transaction. Used by rebuild and repair, where the new row
// set supersedes the old one completely.
func (s *Store) ReplaceAllRows(ctx context.Context, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if err := insertRowsTx(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// AllRows returns every chunk row ordered by ordinal id ascending.
func (s *Store) AllRows(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RowsByIDs returns the rows for the given ordinal ids, keyed by id.
// Missing ids are simply absent from the result.
func (s *Store) RowsByIDs(ctx context.Context, ids []int) (map[int]Row, error) {
	if len(ids) == 0 {
		return map[int]Row{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("select chunks by id: %w", err)
	}
	defer rows.Close()

	out := make(map[int]Row, len(ids))
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	var text, date, dow, start, end, location, participants, title, raw, hash sql.NullString

	if err := rows.Scan(&r.ID, &text, &date, &dow, &start, &end,
		&location, &participants, &title, &raw, &hash); err != nil {
		return Row{}, err
	}

	r.Text = text.String
	r.Hash = hash.String
	r.Record = record.Record{
		Date:         date.String,
		Dow:          dow.String,
		Start:        start.String,
		End:          end.String,
		Location:     location.String,
		Participants: participants.String,
		Title:        title.String,
		Raw:          raw.String,
	}
	return r, nil
}

// GetMeta returns the value for key, or "" when the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT v FROM meta WHERE k=?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, nil
}

// SetMeta upserts a metadata key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta(k, v) VALUES(?, ?)
		ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// VacuumInto writes a compacted copy of the database to dest. Backups
// use it to snapshot a live database safely.
func (s *Store) VacuumInto(ctx context.Context, dest string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest)
	return err
}

// nullable maps "" to NULL so empty record fields do not masquerade
// as empty strings in filters.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
