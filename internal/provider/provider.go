// Package provider fetches raster tiles (satellite imagery and terrain
// heightmaps) from a slippy-map tile API.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/atlastiles/tilegen/internal/httputil"
	"github.com/atlastiles/tilegen/internal/tiles"
	"github.com/atlastiles/tilegen/internal/timeutil"
)

// Default tileset IDs, matching the hosted raster API this tool was built
// against. Both are overridable in the generation settings.
const (
	DefaultSatelliteTileset = "satellite"
	DefaultTerrainTileset   = "terrain-dem-v1"
)

// fallbackTileSize is the edge length of the synthesized sea-level tile.
const fallbackTileSize = 512

// Error reports a failed tile fetch after retries were exhausted.
type Error struct {
	Tileset string
	Key     tiles.Key
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: tile %s from %s: %v", e.Key, e.Tileset, e.Err)
	}
	return fmt.Sprintf("provider: tile %s from %s: status %d", e.Key, e.Tileset, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Client talks to the raster tile API.
type Client struct {
	HTTP    httputil.Doer
	Clock   timeutil.Clock
	BaseURL string
	Token   string
	Backoff httputil.Backoff

	// BlankFallback lists tilesets for which a "tile not found" answer is
	// replaced by an all-black tile. Heightmap coverage has holes over
	// open water; black decodes to sea level, which is what a missing DEM
	// tile means.
	BlankFallback []string
}

// New returns a client with the default backoff policy.
func New(httpClient httputil.Doer, clock timeutil.Clock, baseURL, token string) *Client {
	return &Client{
		HTTP:          httpClient,
		Clock:         clock,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Token:         token,
		Backoff:       httputil.DefaultBackoff(),
		BlankFallback: []string{DefaultTerrainTileset},
	}
}

// Tile fetches one raster tile in the given format (".jpg", ".png" or
// ".pngraw"). Rate limiting and transient server errors are retried with
// backoff; a missing tile on a BlankFallback tileset yields a synthesized
// black tile instead of an error.
func (c *Client) Tile(ctx context.Context, tileset string, key tiles.Key, format string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%d/%d/%d@2x%s?access_token=%s",
		c.BaseURL, tileset, key.Z, key.X, key.Y, format, c.Token)

	var lastStatus int
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &Error{Tileset: tileset, Key: key, Err: err}
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transport errors retry on the same schedule as 5xx.
			if attempt >= c.Backoff.MaxRetries {
				return nil, &Error{Tileset: tileset, Key: key, Err: err}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return nil, werr
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &Error{Tileset: tileset, Key: key, Err: err}
		}

		switch {
		case resp.StatusCode/100 == 2:
			return body, nil

		case resp.StatusCode == http.StatusNotFound && c.blankFallback(tileset) && strings.Contains(string(body), "Tile not found"):
			return blankTile(), nil

		case httputil.Retryable(resp.StatusCode):
			lastStatus = resp.StatusCode
			if attempt >= c.Backoff.MaxRetries {
				return nil, &Error{Tileset: tileset, Key: key, Status: lastStatus}
			}
			if werr := c.Backoff.Wait(ctx, c.Clock, attempt); werr != nil {
				return nil, werr
			}

		default:
			return nil, &Error{Tileset: tileset, Key: key, Status: resp.StatusCode}
		}
	}
}

func (c *Client) blankFallback(tileset string) bool {
	for _, t := range c.BlankFallback {
		if t == tileset {
			return true
		}
	}
	return false
}

var (
	blankOnce sync.Once
	blankPNG  []byte
)

// blankTile returns a black PNG tile, encoded once.
func blankTile() []byte {
	blankOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, fallbackTileSize, fallbackTileSize))
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 0xff
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			panic(fmt.Sprintf("provider: encode blank tile: %v", err))
		}
		blankPNG = buf.Bytes()
	})
	return blankPNG
}
