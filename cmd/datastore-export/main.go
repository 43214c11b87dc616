// Command datastore-export publishes the finished asset tables of a
// tile state database to the remote key/value datastore, in chunks
// small enough for the service's entry size limit, and writes a local
// JSON asset map alongside.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/atlastiles/tilegen/internal/config"
	"github.com/atlastiles/tilegen/internal/tilestore"
	"github.com/atlastiles/tilegen/internal/timeutil"
	"github.com/atlastiles/tilegen/internal/uploader"
)

var (
	storePath  = flag.String("store", "", "Tile state database to export (required)")
	outPath    = flag.String("out", "asset_map.json", "Local JSON asset map output path")
	datastore  = flag.String("datastore", "TileAssets", "Target datastore name")
	keyPrefix  = flag.String("key-prefix", "tile_assets", "Datastore entry key prefix")
	chunkBytes = flag.Int("chunk-bytes", 3_500_000, "Maximum encoded size of one datastore entry")
	dryRun     = flag.Bool("dry-run", false, "Write the local asset map but skip the datastore upload")
)

// tileAssets is one exported tile: its image and mesh asset IDs and the
// mesh's base vertex index.
type tileAssets struct {
	Image        string `json:"img,omitempty"`
	Mesh         string `json:"mesh,omitempty"`
	VertexOffset int64  `json:"mesh_vert,omitempty"`
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("datastore-export: %v", err)
	}
}

func run(ctx context.Context) error {
	if *storePath == "" {
		return fmt.Errorf("-store is required")
	}

	store, err := tilestore.Open(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	assetMap, err := collectAssets(ctx, store)
	if err != nil {
		return err
	}
	log.Printf("collected %d tiles from %s", len(assetMap), *storePath)

	encoded, err := json.MarshalIndent(assetMap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write asset map: %w", err)
	}
	log.Printf("asset map: %s (%d bytes)", *outPath, len(encoded))

	if *dryRun {
		return nil
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if err := env.ValidateForExport(); err != nil {
		return err
	}

	chunks, err := chunkAssets(assetMap, *chunkBytes)
	if err != nil {
		return err
	}

	clock := timeutil.RealClock{}
	client := uploader.NewDatastore(&http.Client{Timeout: 2 * time.Minute}, clock, env.DatastoreURL, env.AssetAPIKey)

	for i, chunk := range chunks {
		key := fmt.Sprintf("%s_%d", *keyPrefix, i)
		if err := client.SetEntry(ctx, *datastore, key, chunk); err != nil {
			return fmt.Errorf("upload chunk %s: %w", key, err)
		}
		log.Printf("uploaded %s (%d bytes)", key, len(chunk))
	}

	meta, err := json.Marshal(map[string]any{
		"chunks":      len(chunks),
		"exported_at": clock.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := client.SetEntry(ctx, *datastore, *keyPrefix+"_meta", meta); err != nil {
		return fmt.Errorf("upload meta entry: %w", err)
	}
	log.Printf("uploaded %d chunks to %s/%s", len(chunks), *datastore, *keyPrefix)
	return nil
}

// collectAssets merges the image, mesh and vertex-offset tables into one
// map keyed by the tile's "x_y_z" name.
func collectAssets(ctx context.Context, store *tilestore.Store) (map[string]*tileAssets, error) {
	assetMap := make(map[string]*tileAssets)
	at := func(key string) *tileAssets {
		if a, ok := assetMap[key]; ok {
			return a
		}
		a := &tileAssets{}
		assetMap[key] = a
		return a
	}

	for _, table := range []tilestore.Table{
		tilestore.TableImageAssets,
		tilestore.TableMeshAssets,
		tilestore.TableMeshVertexOffsets,
	} {
		rows, err := store.ListAll(ctx, table)
		if err != nil {
			return nil, err
		}
		for {
			entry, ok := rows.Next()
			if !ok {
				break
			}
			a := at(entry.Key.String())
			switch table {
			case tilestore.TableImageAssets:
				a.Image = entry.Value
			case tilestore.TableMeshAssets:
				a.Mesh = entry.Value
			case tilestore.TableMeshVertexOffsets:
				offset, err := strconv.ParseInt(entry.Value, 10, 64)
				if err != nil {
					rows.Close()
					return nil, fmt.Errorf("bad vertex offset for %s: %w", entry.Key, err)
				}
				a.VertexOffset = offset
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return assetMap, nil
}

// chunkAssets splits the asset map into JSON objects no larger than
// limit bytes each, packing tiles in key order so repeated exports
// produce the same chunks.
func chunkAssets(assetMap map[string]*tileAssets, limit int) ([][]byte, error) {
	keys := make([]string, 0, len(assetMap))
	for k := range assetMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var chunks [][]byte
	current := make(map[string]*tileAssets)
	size := 2 // braces

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		encoded, err := json.Marshal(current)
		if err != nil {
			return err
		}
		chunks = append(chunks, encoded)
		current = make(map[string]*tileAssets)
		size = 2
		return nil
	}

	for _, k := range keys {
		entry, err := json.Marshal(assetMap[k])
		if err != nil {
			return nil, err
		}
		// "key":{...},
		entrySize := len(k) + len(entry) + 4
		if size+entrySize > limit && len(current) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current[k] = assetMap[k]
		size += entrySize
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}
