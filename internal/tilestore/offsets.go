package tilestore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// vertexCounter is the counters row holding the next unassigned global
// vertex index base.
const vertexCounter = "mesh_vertex_offset"

// VertexOffset returns the persisted vertex index base for a mesh tile.
// The second return is false when no offset has been assigned yet.
func (s *Store) VertexOffset(ctx context.Context, key Key) (int64, bool, error) {
	v, err := s.Get(ctx, TableMeshVertexOffsets, key)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	offset, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, &StoreError{
			Op:  fmt.Sprintf("parse vertex offset %s", key),
			Err: err,
		}
	}
	return offset, true, nil
}

// AllocateVertexOffset assigns the tile its vertex index base, advancing
// the global counter by stride. The read of any existing assignment, the
// counter bump, and the new record commit in one transaction, so a retry
// after a crash re-reads the assignment instead of burning a new range,
// and concurrent mesh workers can never receive overlapping ranges.
func (s *Store) AllocateVertexOffset(ctx context.Context, key Key, stride int64) (int64, error) {
	if stride <= 0 {
		return 0, fmt.Errorf("tilestore: vertex stride must be positive, got %d", stride)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin vertex offset tx", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM tile_records WHERE tbl = ? AND x = ? AND y = ? AND z = ?`,
		string(TableMeshVertexOffsets), key.X, key.Y, key.Z).Scan(&existing)
	if err == nil {
		offset, perr := strconv.ParseInt(existing, 10, 64)
		if perr != nil {
			return 0, &StoreError{Op: fmt.Sprintf("parse vertex offset %s", key), Err: perr}
		}
		return offset, nil
	}
	if err != sql.ErrNoRows {
		return 0, wrapErr(fmt.Sprintf("read vertex offset %s", key), err)
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = ?`, vertexCounter).Scan(&next)
	if err == sql.ErrNoRows {
		next = 0
	} else if err != nil {
		return 0, wrapErr("read vertex counter", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		vertexCounter, next+stride); err != nil {
		return 0, wrapErr("advance vertex counter", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tile_records (tbl, x, y, z, value) VALUES (?, ?, ?, ?, ?)`,
		string(TableMeshVertexOffsets), key.X, key.Y, key.Z,
		strconv.FormatInt(next, 10)); err != nil {
		return 0, wrapErr(fmt.Sprintf("record vertex offset %s", key), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit vertex offset", err)
	}
	return next, nil
}
