package tiles

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
)

// MaxSupportedDepth bounds recursion so a misconfigured depth cannot
// explode the tile count. Slippy-map zoom 22 is already sub-metre.
const MaxSupportedDepth = 22

// PointOfInterest is a configured location with a priority radius. Tiles
// whose center falls within RadiusM metres of the point subdivide to a
// deeper level of detail.
type PointOfInterest struct {
	Name    string
	Lat     float64
	Lon     float64
	RadiusM float64
}

func (p PointOfInterest) point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Builder produces the worklist of tiles covering a root tile. It is
// stateless: the same inputs always yield the same node sequence, which is
// what makes resuming a run against an existing store well-defined.
type Builder struct {
	// Root is the tile whose region the worklist covers.
	Root Key

	// MaxDepth is the deepest LOD level emitted. Recursion clamps here
	// regardless of proximity to points of interest.
	MaxDepth uint32

	// Points drive LOD assignment. Empty Points with DisableLOD unset
	// yields a single leaf at the root.
	Points []PointOfInterest

	// DisableLOD subdivides every tile uniformly to MaxDepth, ignoring
	// points of interest.
	DisableLOD bool

	// EmitInterior also emits non-leaf nodes, for runs that want assets
	// at every level of the tree rather than only the leaves.
	EmitInterior bool
}

// Build validates the configuration and returns the worklist. Children
// are visited in a fixed order so repeated calls produce identical slices.
func (b *Builder) Build() ([]Node, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	var nodes []Node
	b.recurse(b.Root, nil, &nodes)
	return nodes, nil
}

func (b *Builder) validate() error {
	if b.MaxDepth > MaxSupportedDepth {
		return fmt.Errorf("max depth %d exceeds supported depth %d", b.MaxDepth, MaxSupportedDepth)
	}
	if b.Root.Z > b.MaxDepth {
		return fmt.Errorf("root level %d is below max depth %d", b.Root.Z, b.MaxDepth)
	}
	if n := uint32(1) << b.Root.Z; b.Root.X >= n || b.Root.Y >= n {
		return fmt.Errorf("root tile %s out of range for level %d", b.Root, b.Root.Z)
	}
	bound := b.Root.Bound()
	if bound.Min[0] >= bound.Max[0] || bound.Min[1] >= bound.Max[1] {
		return fmt.Errorf("degenerate root region %v", bound)
	}
	for _, p := range b.Points {
		if p.RadiusM < 0 {
			return fmt.Errorf("point of interest %q has negative radius", p.Name)
		}
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("point of interest %q has invalid coordinates (%f, %f)", p.Name, p.Lat, p.Lon)
		}
	}
	return nil
}

func (b *Builder) recurse(k Key, parent *Key, out *[]Node) {
	if !b.shouldSubdivide(k) {
		*out = append(*out, Node{Key: k, Bound: k.Bound(), Parent: parent, Leaf: true})
		return
	}
	if b.EmitInterior {
		*out = append(*out, Node{Key: k, Bound: k.Bound(), Parent: parent, Leaf: false})
	}
	pk := k
	for _, child := range k.Children() {
		b.recurse(child, &pk, out)
	}
}

// shouldSubdivide reports whether the tile splits into quadrants. Depth is
// always clamped to MaxDepth. The radius comparison is inclusive: a center
// exactly at radius distance still subdivides, and a center equidistant
// from two points is governed by the larger radius since any single hit
// is enough.
func (b *Builder) shouldSubdivide(k Key) bool {
	if k.Z >= b.MaxDepth {
		return false
	}
	if b.DisableLOD {
		return true
	}
	center := k.Center()
	for _, p := range b.Points {
		if geo.Distance(center, p.point()) <= p.RadiusM {
			return true
		}
	}
	return false
}

// RootForBound returns the deepest single tile fully containing the given
// geographic bound, starting the search at level zero. A bound spanning
// the antimeridian or an empty bound yields the world tile.
func RootForBound(bound orb.Bound) Key {
	k := Key{}
	for k.Z < MaxSupportedDepth {
		var next *Key
		for _, child := range k.Children() {
			cb := maptile.New(child.X, child.Y, maptile.Zoom(child.Z)).Bound()
			if containsBound(cb, bound) {
				c := child
				next = &c
				break
			}
		}
		if next == nil {
			return k
		}
		k = *next
	}
	return k
}

func containsBound(outer, inner orb.Bound) bool {
	return outer.Min[0] <= inner.Min[0] && outer.Min[1] <= inner.Min[1] &&
		outer.Max[0] >= inner.Max[0] && outer.Max[1] >= inner.Max[1]
}
