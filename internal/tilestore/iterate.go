package tilestore

import (
	"context"
	"database/sql"
	"fmt"
)

// Entry is one (key, value) pair yielded by ListAll.
type Entry struct {
	Key   Key
	Value string
}

// Rows streams the records of one table without loading the table into
// memory. Callers must Close it and check Err afterwards.
type Rows struct {
	rows *sql.Rows
	err  error
}

// ListAll returns a streaming iterator over every record in a table,
// ordered by key for reproducible reconciliation passes.
func (s *Store) ListAll(ctx context.Context, table Table) (*Rows, error) {
	if !table.valid() {
		return nil, fmt.Errorf("tilestore: unknown table %q", table)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, value FROM tile_records WHERE tbl = ? ORDER BY z, x, y`,
		string(table))
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("list %s", table), err)
	}
	return &Rows{rows: rows}, nil
}

// Next yields the next entry. It returns false at the end of the table or
// on error; check Err to distinguish.
func (r *Rows) Next() (Entry, bool) {
	if r.err != nil || !r.rows.Next() {
		return Entry{}, false
	}
	var e Entry
	if err := r.rows.Scan(&e.Key.X, &e.Key.Y, &e.Key.Z, &e.Value); err != nil {
		r.err = wrapErr("scan record", err)
		return Entry{}, false
	}
	return e, true
}

// Err returns the first error encountered while iterating.
func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	return wrapErr("iterate records", r.rows.Err())
}

// Close releases the iterator.
func (r *Rows) Close() error { return r.rows.Close() }

// CollectAll drains a table into memory. Only for small tables and tests;
// reconciliation uses ListAll directly.
func (s *Store) CollectAll(ctx context.Context, table Table) ([]Entry, error) {
	rows, err := s.ListAll(ctx, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for {
		e, ok := rows.Next()
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
