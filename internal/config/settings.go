package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/atlastiles/tilegen/internal/provider"
	"github.com/atlastiles/tilegen/internal/tiles"
)

// PointOfInterest is a named location that drives quadtree subdivision.
type PointOfInterest struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
}

// Settings are the per-run parameters, loaded from a JSON file so runs
// are reproducible from a checked-in description of the region.
type Settings struct {
	RootTile         string            `json:"root_tile"`
	MaxDepth         uint32            `json:"max_depth"`
	EdgePadding      int               `json:"edge_padding"`
	SatelliteTileset string            `json:"satellite_tileset"`
	TerrainTileset   string            `json:"terrain_tileset"`
	MeshCommand      string            `json:"mesh_command"`
	Workers          int               `json:"workers"`
	MaxMissedRetries int               `json:"max_missed_retries"`
	PointsOfInterest []PointOfInterest `json:"points_of_interest"`
}

// DefaultSettings returns the values used when the settings file leaves
// a field unset.
func DefaultSettings() Settings {
	return Settings{
		RootTile:         "0_0_0",
		MaxDepth:         16,
		EdgePadding:      2,
		SatelliteTileset: provider.DefaultSatelliteTileset,
		TerrainTileset:   provider.DefaultTerrainTileset,
		Workers:          4,
		MaxMissedRetries: 3,
	}
}

// LoadSettings reads and validates a settings file. Unset fields keep
// their defaults.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Validate rejects settings the builder or pipeline would choke on.
func (s Settings) Validate() error {
	if _, err := tiles.ParseKey(s.RootTile); err != nil {
		return fmt.Errorf("root_tile: %w", err)
	}
	if s.MaxDepth > tiles.MaxSupportedDepth {
		return fmt.Errorf("max_depth %d exceeds supported depth %d", s.MaxDepth, tiles.MaxSupportedDepth)
	}
	if s.EdgePadding < 0 {
		return fmt.Errorf("edge_padding must not be negative")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if s.MaxMissedRetries < 0 {
		return fmt.Errorf("max_missed_retries must not be negative")
	}
	for _, p := range s.PointsOfInterest {
		if p.RadiusM < 0 {
			return fmt.Errorf("point of interest %q has negative radius", p.Name)
		}
	}
	return nil
}

// Root parses the configured root tile key.
func (s Settings) Root() (tiles.Key, error) {
	return tiles.ParseKey(s.RootTile)
}

// Points converts the configured points of interest for the builder.
func (s Settings) Points() []tiles.PointOfInterest {
	pts := make([]tiles.PointOfInterest, len(s.PointsOfInterest))
	for i, p := range s.PointsOfInterest {
		pts[i] = tiles.PointOfInterest{Name: p.Name, Lat: p.Lat, Lon: p.Lon, RadiusM: p.RadiusM}
	}
	return pts
}
