package tilestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/atlastiles/tilegen/internal/tiles"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(10, 20, 5)

	if err := s.Put(ctx, TableImageAssets, key, "asset-1"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, TableImageAssets, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "asset-1" {
		t.Fatalf("Get = %q, want %q", got, "asset-1")
	}
}

func TestPutUpsertsLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(1, 2, 3)

	if err := s.Put(ctx, TableImageAssets, key, "first"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, TableImageAssets, key, "second"); err != nil {
		t.Fatalf("Put (overwrite): %v", err)
	}

	got, err := s.Get(ctx, TableImageAssets, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "second" {
		t.Fatalf("Get = %q, want %q", got, "second")
	}

	n, err := s.Count(ctx, TableImageAssets)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), TableMeshAssets, tiles.NewKey(0, 0, 0))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestPutIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(3, 3, 3)

	inserted, err := s.PutIfAbsent(ctx, TableMissedImages, key, "first")
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatal("PutIfAbsent on empty table reported no insert")
	}

	inserted, err = s.PutIfAbsent(ctx, TableMissedImages, key, "second")
	if err != nil {
		t.Fatalf("PutIfAbsent (existing): %v", err)
	}
	if inserted {
		t.Fatal("PutIfAbsent overwrote an existing record")
	}

	got, err := s.Get(ctx, TableMissedImages, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "first" {
		t.Fatalf("Get = %q, want the original value", got)
	}
}

func TestHasAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(7, 8, 9)

	ok, err := s.Has(ctx, TableMeshAssets, key)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Fatal("Has reported a record in an empty store")
	}

	if err := s.Put(ctx, TableMeshAssets, key, "m"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = s.Has(ctx, TableMeshAssets, key)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Fatal("Has missed a stored record")
	}

	if err := s.Delete(ctx, TableMeshAssets, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting again must not error.
	if err := s.Delete(ctx, TableMeshAssets, key); err != nil {
		t.Fatalf("Delete (missing): %v", err)
	}
	ok, err = s.Has(ctx, TableMeshAssets, key)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Fatal("record survived Delete")
	}
}

func TestTablesAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(5, 5, 5)

	if err := s.Put(ctx, TableImageAssets, key, "img"); err != nil {
		t.Fatalf("Put image: %v", err)
	}
	if err := s.Put(ctx, TableMeshAssets, key, "mesh"); err != nil {
		t.Fatalf("Put mesh: %v", err)
	}

	got, err := s.Get(ctx, TableImageAssets, key)
	if err != nil || got != "img" {
		t.Fatalf("Get image = %q, %v", got, err)
	}
	got, err = s.Get(ctx, TableMeshAssets, key)
	if err != nil || got != "mesh" {
		t.Fatalf("Get mesh = %q, %v", got, err)
	}

	if err := s.Delete(ctx, TableImageAssets, key); err != nil {
		t.Fatalf("Delete image: %v", err)
	}
	if ok, _ := s.Has(ctx, TableMeshAssets, key); !ok {
		t.Fatal("deleting from one table removed the other table's record")
	}
}

func TestUnknownTableRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(0, 0, 0)

	if err := s.Put(ctx, Table("bogus"), key, "v"); err == nil {
		t.Fatal("Put accepted an unknown table")
	}
	if _, err := s.Get(ctx, Table("bogus"), key); err == nil {
		t.Fatal("Get accepted an unknown table")
	}
	if _, err := s.ListAll(ctx, Table("bogus")); err == nil {
		t.Fatal("ListAll accepted an unknown table")
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.db")
	ctx := context.Background()
	key := tiles.NewKey(12, 34, 7)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(ctx, TableImageAssets, key, "persisted"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, TableImageAssets, key)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "persisted" {
		t.Fatalf("Get after reopen = %q", got)
	}

	version, dirty, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if dirty {
		t.Fatal("schema reported dirty after clean reopen")
	}
	if version == 0 {
		t.Fatal("schema version 0 after migrations ran")
	}
}

func TestListAllOrderedByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []tiles.Key{
		tiles.NewKey(9, 1, 4),
		tiles.NewKey(0, 0, 2),
		tiles.NewKey(1, 7, 2),
		tiles.NewKey(1, 2, 2),
	}
	for _, k := range keys {
		if err := s.Put(ctx, TableImageOperations, k, "op-"+k.String()); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	entries, err := s.CollectAll(ctx, TableImageOperations)
	if err != nil {
		t.Fatalf("CollectAll: %v", err)
	}
	want := []tiles.Key{
		tiles.NewKey(0, 0, 2),
		tiles.NewKey(1, 2, 2),
		tiles.NewKey(1, 7, 2),
		tiles.NewKey(9, 1, 4),
	}
	if len(entries) != len(want) {
		t.Fatalf("CollectAll returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Fatalf("entry %d = %s, want %s", i, e.Key, want[i])
		}
		if e.Value != "op-"+want[i].String() {
			t.Fatalf("entry %d value = %q", i, e.Value)
		}
	}
}
