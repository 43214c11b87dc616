package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/atlastiles/tilegen/internal/tilestore"
)

func sampleAssets(n int) map[string]*tileAssets {
	assetMap := make(map[string]*tileAssets, n)
	for i := 0; i < n; i++ {
		assetMap[fmt.Sprintf("%d_%d_14", i, i*2)] = &tileAssets{
			Image:        strconv.Itoa(100000 + i),
			Mesh:         strconv.Itoa(200000 + i),
			VertexOffset: int64(i) * 1089,
		}
	}
	return assetMap
}

func TestChunkAssetsRespectsLimit(t *testing.T) {
	assetMap := sampleAssets(50)

	chunks, err := chunkAssets(assetMap, 300)
	if err != nil {
		t.Fatalf("chunkAssets: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 300 {
			t.Fatalf("chunk %d is %d bytes, limit 300", i, len(chunk))
		}
	}
}

func TestChunkAssetsRoundTrip(t *testing.T) {
	assetMap := sampleAssets(50)

	chunks, err := chunkAssets(assetMap, 300)
	if err != nil {
		t.Fatalf("chunkAssets: %v", err)
	}

	merged := make(map[string]*tileAssets)
	for i, chunk := range chunks {
		part := make(map[string]*tileAssets)
		if err := json.Unmarshal(chunk, &part); err != nil {
			t.Fatalf("chunk %d is not valid JSON: %v", i, err)
		}
		for k, v := range part {
			if _, ok := merged[k]; ok {
				t.Fatalf("tile %s appears in more than one chunk", k)
			}
			merged[k] = v
		}
	}
	if len(merged) != len(assetMap) {
		t.Fatalf("merged %d tiles, want %d", len(merged), len(assetMap))
	}
	for k, want := range assetMap {
		got, ok := merged[k]
		if !ok {
			t.Fatalf("tile %s missing from chunks", k)
		}
		if *got != *want {
			t.Fatalf("tile %s = %+v, want %+v", k, got, want)
		}
	}
}

func TestChunkAssetsDeterministic(t *testing.T) {
	assetMap := sampleAssets(20)

	first, err := chunkAssets(assetMap, 300)
	if err != nil {
		t.Fatalf("chunkAssets: %v", err)
	}
	second, err := chunkAssets(assetMap, 300)
	if err != nil {
		t.Fatalf("chunkAssets: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if string(first[i]) != string(second[i]) {
			t.Fatalf("chunk %d differs across runs", i)
		}
	}
}

func TestChunkAssetsEmpty(t *testing.T) {
	chunks, err := chunkAssets(nil, 300)
	if err != nil {
		t.Fatalf("chunkAssets: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestCollectAssetsMergesTables(t *testing.T) {
	store, err := tilestore.Open(t.TempDir() + "/tiles.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	put := func(table tilestore.Table, x, y, z uint32, value string) {
		t.Helper()
		if err := store.Put(ctx, table, tilestore.Key{X: x, Y: y, Z: z}, value); err != nil {
			t.Fatalf("put %s: %v", table, err)
		}
	}
	put(tilestore.TableImageAssets, 1, 2, 3, "111")
	put(tilestore.TableMeshAssets, 1, 2, 3, "222")
	put(tilestore.TableMeshVertexOffsets, 1, 2, 3, "2178")
	put(tilestore.TableImageAssets, 5, 6, 7, "333")

	assetMap, err := collectAssets(ctx, store)
	if err != nil {
		t.Fatalf("collectAssets: %v", err)
	}
	if len(assetMap) != 2 {
		t.Fatalf("collected %d tiles, want 2", len(assetMap))
	}

	full := assetMap["1_2_3"]
	if full == nil || full.Image != "111" || full.Mesh != "222" || full.VertexOffset != 2178 {
		t.Fatalf("tile 1_2_3 = %+v", full)
	}
	imageOnly := assetMap["5_6_7"]
	if imageOnly == nil || imageOnly.Image != "333" || imageOnly.Mesh != "" {
		t.Fatalf("tile 5_6_7 = %+v", imageOnly)
	}
}
