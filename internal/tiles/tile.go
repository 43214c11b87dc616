// Package tiles provides slippy-map tile addressing and the quadtree
// builder that decides which tiles to generate at which level of detail.
package tiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Key identifies a tile within one level of detail. Z is the LOD level;
// X and Y are grid coordinates within that level. Keys are comparable and
// usable as map keys.
type Key struct {
	X uint32
	Y uint32
	Z uint32
}

// NewKey returns the key for the given coordinates.
func NewKey(x, y, z uint32) Key {
	return Key{X: x, Y: y, Z: z}
}

// String renders the key as "x_y_z", the form used for display names and
// exported asset maps.
func (k Key) String() string {
	return fmt.Sprintf("%d_%d_%d", k.X, k.Y, k.Z)
}

// ParseKey parses a "x_y_z" string produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("invalid tile key %q: want x_y_z", s)
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Key{}, fmt.Errorf("invalid tile key %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}
	return Key{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// MapTile converts the key to its orb/maptile equivalent.
func (k Key) MapTile() maptile.Tile {
	return maptile.New(k.X, k.Y, maptile.Zoom(k.Z))
}

// Bound returns the geographic bounding box of the tile in degrees.
func (k Key) Bound() orb.Bound {
	return k.MapTile().Bound()
}

// Center returns the geographic center of the tile.
func (k Key) Center() orb.Point {
	return k.Bound().Center()
}

// Children returns the four quadrant keys at the next level, in
// deterministic order: top-left, top-right, bottom-left, bottom-right.
func (k Key) Children() [4]Key {
	x, y, z := k.X*2, k.Y*2, k.Z+1
	return [4]Key{
		{X: x, Y: y, Z: z},
		{X: x + 1, Y: y, Z: z},
		{X: x, Y: y + 1, Z: z},
		{X: x + 1, Y: y + 1, Z: z},
	}
}

// Node is one entry of the generation worklist. Nodes are immutable once
// emitted by the builder; the tree itself is not retained.
type Node struct {
	Key    Key
	Bound  orb.Bound
	Parent *Key // nil for the root
	Leaf   bool
}
