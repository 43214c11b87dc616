// Command tilegen builds the quadtree for a configured region and runs
// the tile generation pipeline against a resumable state database.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/atlastiles/tilegen/internal/config"
	"github.com/atlastiles/tilegen/internal/mesher"
	"github.com/atlastiles/tilegen/internal/pipeline"
	"github.com/atlastiles/tilegen/internal/processor"
	"github.com/atlastiles/tilegen/internal/provider"
	"github.com/atlastiles/tilegen/internal/tiles"
	"github.com/atlastiles/tilegen/internal/tilestore"
	"github.com/atlastiles/tilegen/internal/timeutil"
	"github.com/atlastiles/tilegen/internal/uploader"
	"github.com/atlastiles/tilegen/internal/workspace"
)

var (
	settingsPath = flag.String("settings", "settings.json", "Path to the JSON settings file")
	storePath    = flag.String("store", "", "Tile state database (default output/<timestamp>/tiles.db; reuse a path to resume)")
	asset        = flag.String("asset", "all", "Asset kinds to generate: all, img or mesh")
	disableLOD   = flag.Bool("disable-lod", false, "Skip proximity subdivision and emit a uniform grid at max depth")
	allNodes     = flag.Bool("all-nodes", false, "Process interior quadtree nodes as well as leaves")
	workers      = flag.Int("workers", 0, "Worker pool size (overrides settings when > 0)")
	outputJSON   = flag.Bool("output-json", false, "Print the run summary as JSON")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("tilegen: %v", err)
	}
}

func run(ctx context.Context) error {
	if *asset != "all" && *asset != "img" && *asset != "mesh" {
		return fmt.Errorf("invalid -asset %q: want all, img or mesh", *asset)
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if err := env.ValidateForRun(); err != nil {
		return err
	}

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		return err
	}

	root, err := settings.Root()
	if err != nil {
		return err
	}

	builder := tiles.Builder{
		Root:         root,
		MaxDepth:     settings.MaxDepth,
		Points:       settings.Points(),
		DisableLOD:   *disableLOD,
		EmitInterior: *allNodes,
	}
	nodes, err := builder.Build()
	if err != nil {
		return err
	}
	log.Printf("quadtree: %d nodes from root %s to depth %d", len(nodes), root, settings.MaxDepth)

	dbPath := *storePath
	if dbPath == "" {
		dbPath = filepath.Join("output", time.Now().Format("20060102-150405"), "tiles.db")
	}
	store, err := tilestore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("state store: %s", dbPath)

	ws, err := workspace.New(filepath.Join(filepath.Dir(dbPath), "work"))
	if err != nil {
		return err
	}

	clock := timeutil.RealClock{}
	httpClient := &http.Client{Timeout: 2 * time.Minute}

	source := provider.New(httpClient, clock, env.ImageryBaseURL, env.ImageryToken)
	source.BlankFallback = []string{settings.TerrainTileset}

	assets := uploader.New(httpClient, clock, env.AssetsURL, env.OperationsURL, env.AssetAPIKey, env.AssetCreator)

	var gen mesher.Generator = &mesher.HeightfieldGenerator{Encoding: mesher.DefaultEncoding()}
	if settings.MeshCommand != "" {
		gen = &mesher.ExecGenerator{Command: settings.MeshCommand}
	}

	runner := &pipeline.Runner{
		Store:            store,
		Assets:           assets,
		Clock:            clock,
		Log:              log.Default(),
		Workers:          poolSize(settings),
		MaxMissedRetries: settings.MaxMissedRetries,
	}
	if *asset == "all" || *asset == "img" {
		runner.Image = &processor.Processor{
			Store:   store,
			Source:  source,
			Assets:  assets,
			WS:      ws,
			Clock:   clock,
			Kind:    processor.KindImage,
			Tileset: settings.SatelliteTileset,
			Format:  ".jpg",
			Padding: settings.EdgePadding,
		}
	}
	if *asset == "all" || *asset == "mesh" {
		runner.Mesh = &processor.Processor{
			Store:   store,
			Source:  source,
			Assets:  assets,
			Gen:     gen,
			WS:      ws,
			Clock:   clock,
			Kind:    processor.KindMesh,
			Tileset: settings.TerrainTileset,
			Format:  ".pngraw",
		}
	}

	summary, runErr := runner.Run(ctx, nodes)

	if *outputJSON {
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		log.Printf("run complete: %s", summary)
	}

	return runErr
}

func poolSize(settings config.Settings) int {
	if *workers > 0 {
		return *workers
	}
	return settings.Workers
}
