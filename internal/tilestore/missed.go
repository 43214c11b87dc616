package tilestore

import (
	"context"
	"encoding/json"
	"fmt"
)

// MissedMarker is the value stored in the missed-tile tables. It records
// how often the tile has been attempted and why the last attempt failed.
type MissedMarker struct {
	Retries   int    `json:"retries"`
	LastError string `json:"last_error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// ParseMissedMarker decodes a missed-table value. Legacy plain-string
// values (a bare error message) decode as a marker with one retry.
func ParseMissedMarker(value string) MissedMarker {
	var m MissedMarker
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return MissedMarker{Retries: 1, LastError: value}
	}
	return m
}

// EncodeMissedMarker encodes a marker as a missed-table value.
func EncodeMissedMarker(m MissedMarker) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("tilestore: encode missed marker: %w", err)
	}
	return string(b), nil
}

// MarkMissed upserts the missed marker for a tile, incrementing its retry
// count. The read-modify-write runs in one transaction so two workers
// reporting the same tile cannot lose an increment. Returns the new count.
func (s *Store) MarkMissed(ctx context.Context, table Table, key Key, cause string, now int64) (int, error) {
	if table != TableMissedImages && table != TableMissedMeshes {
		return 0, fmt.Errorf("tilestore: %q is not a missed table", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin missed tx", err)
	}
	defer tx.Rollback()

	marker := MissedMarker{}
	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM tile_records WHERE tbl = ? AND x = ? AND y = ? AND z = ?`,
		string(table), key.X, key.Y, key.Z).Scan(&existing)
	if err == nil {
		marker = ParseMissedMarker(existing)
	}

	marker.Retries++
	marker.LastError = cause
	marker.UpdatedAt = now

	encoded, err := json.Marshal(marker)
	if err != nil {
		return 0, fmt.Errorf("tilestore: encode missed marker: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tile_records (tbl, x, y, z, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tbl, x, y, z) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		string(table), key.X, key.Y, key.Z, string(encoded)); err != nil {
		return 0, wrapErr(fmt.Sprintf("mark missed %s %s", table, key), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit missed marker", err)
	}
	return marker.Retries, nil
}
