package tilestore

import (
	"context"
	"testing"

	"github.com/atlastiles/tilegen/internal/tiles"
)

func TestMarkMissedIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(2, 4, 6)

	n, err := s.MarkMissed(ctx, TableMissedImages, key, "fetch failed", 1000)
	if err != nil {
		t.Fatalf("MarkMissed: %v", err)
	}
	if n != 1 {
		t.Fatalf("first MarkMissed = %d, want 1", n)
	}

	n, err = s.MarkMissed(ctx, TableMissedImages, key, "upload failed", 2000)
	if err != nil {
		t.Fatalf("MarkMissed (second): %v", err)
	}
	if n != 2 {
		t.Fatalf("second MarkMissed = %d, want 2", n)
	}

	value, err := s.Get(ctx, TableMissedImages, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	marker := ParseMissedMarker(value)
	if marker.Retries != 2 {
		t.Fatalf("marker retries = %d, want 2", marker.Retries)
	}
	if marker.LastError != "upload failed" {
		t.Fatalf("marker last error = %q", marker.LastError)
	}
	if marker.UpdatedAt != 2000 {
		t.Fatalf("marker updated at = %d, want 2000", marker.UpdatedAt)
	}
}

func TestMarkMissedCountsFromPendingMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := tiles.NewKey(1, 1, 1)

	// A pending upload plants a zero-retry marker; a later failure counts
	// from there, not from scratch.
	marker, err := EncodeMissedMarker(MissedMarker{LastError: "upload pending", UpdatedAt: 500})
	if err != nil {
		t.Fatalf("EncodeMissedMarker: %v", err)
	}
	if _, err := s.PutIfAbsent(ctx, TableMissedMeshes, key, marker); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}

	n, err := s.MarkMissed(ctx, TableMissedMeshes, key, "operation failed", 600)
	if err != nil {
		t.Fatalf("MarkMissed: %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkMissed after pending marker = %d, want 1", n)
	}
}

func TestMarkMissedRejectsWrongTable(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.MarkMissed(context.Background(), TableImageAssets, tiles.NewKey(0, 0, 0), "x", 0); err == nil {
		t.Fatal("MarkMissed accepted an asset table")
	}
}

func TestParseMissedMarkerLegacyValue(t *testing.T) {
	marker := ParseMissedMarker("timeout talking to tile server")
	if marker.Retries != 1 {
		t.Fatalf("legacy marker retries = %d, want 1", marker.Retries)
	}
	if marker.LastError != "timeout talking to tile server" {
		t.Fatalf("legacy marker error = %q", marker.LastError)
	}
}
