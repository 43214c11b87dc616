// Package tilestore persists per-tile outcomes in a single SQLite file:
// asset IDs, pending upload operations, missed-tile markers, and mesh
// vertex offsets, all addressed by (table, x, y, z).
package tilestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is a durable mapping keyed by (Table, tiles.Key). Writes are
// upserts committed per-row, so concurrent workers touching different
// tiles never serialize on each other beyond SQLite's own WAL commit.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the store at path and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("tilestore: empty store path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tilestore: create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tilestore: open %s: %w", path, err)
	}

	// WAL lets readers proceed while a worker commits; busy_timeout
	// absorbs short write contention before we classify it as transient.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("tilestore: %s: %w", p, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put upserts the value for (table, key). Last writer wins per key.
func (s *Store) Put(ctx context.Context, table Table, key Key, value string) error {
	if !table.valid() {
		return fmt.Errorf("tilestore: unknown table %q", table)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tile_records (tbl, x, y, z, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tbl, x, y, z) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		string(table), key.X, key.Y, key.Z, value)
	return wrapErr(fmt.Sprintf("put %s %s", table, key), err)
}

// PutIfAbsent inserts the value only when no record exists yet, in one
// atomic statement. It reports whether the insert happened.
func (s *Store) PutIfAbsent(ctx context.Context, table Table, key Key, value string) (bool, error) {
	if !table.valid() {
		return false, fmt.Errorf("tilestore: unknown table %q", table)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tile_records (tbl, x, y, z, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tbl, x, y, z) DO NOTHING`,
		string(table), key.X, key.Y, key.Z, value)
	if err != nil {
		return false, wrapErr(fmt.Sprintf("put-if-absent %s %s", table, key), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("rows affected", err)
	}
	return n > 0, nil
}

// Get returns the value for (table, key), or ErrNotFound.
func (s *Store) Get(ctx context.Context, table Table, key Key) (string, error) {
	if !table.valid() {
		return "", fmt.Errorf("tilestore: unknown table %q", table)
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tile_records WHERE tbl = ? AND x = ? AND y = ? AND z = ?`,
		string(table), key.X, key.Y, key.Z).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr(fmt.Sprintf("get %s %s", table, key), err)
	}
	return value, nil
}

// Has reports whether a record exists for (table, key). This is the
// resume/skip check, an index lookup on the primary key.
func (s *Store) Has(ctx context.Context, table Table, key Key) (bool, error) {
	if !table.valid() {
		return false, fmt.Errorf("tilestore: unknown table %q", table)
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tile_records WHERE tbl = ? AND x = ? AND y = ? AND z = ? LIMIT 1`,
		string(table), key.X, key.Y, key.Z).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(fmt.Sprintf("has %s %s", table, key), err)
	}
	return true, nil
}

// Delete removes the record for (table, key). Deleting a missing record
// is not an error.
func (s *Store) Delete(ctx context.Context, table Table, key Key) error {
	if !table.valid() {
		return fmt.Errorf("tilestore: unknown table %q", table)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tile_records WHERE tbl = ? AND x = ? AND y = ? AND z = ?`,
		string(table), key.X, key.Y, key.Z)
	return wrapErr(fmt.Sprintf("delete %s %s", table, key), err)
}

// Count returns the number of records in a table.
func (s *Store) Count(ctx context.Context, table Table) (int, error) {
	if !table.valid() {
		return 0, fmt.Errorf("tilestore: unknown table %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tile_records WHERE tbl = ?`, string(table)).Scan(&n)
	if err != nil {
		return 0, wrapErr(fmt.Sprintf("count %s", table), err)
	}
	return n, nil
}
