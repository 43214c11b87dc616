package mesher

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/atlastiles/tilegen/internal/tiles"
)

// EdgeVertices is the number of vertices along one edge of a tile mesh.
const EdgeVertices = 33

// VertexStride is the number of vertices in one tile mesh, and therefore
// the amount the global vertex-offset counter advances per tile. Meshes
// from adjacent tiles are stitched by a downstream consumer; distinct
// strides keep their vertex indices globally unique.
const VertexStride = EdgeVertices * EdgeVertices

// earthCircumferenceM scales elevation against a tile's ground span.
const earthCircumferenceM = 40075000.0

// Generator produces mesh bytes from a heightmap tile. The tile key is
// supplied because the horizontal scale of a mesh depends on its level.
type Generator interface {
	Generate(ctx context.Context, heightmap []byte, key tiles.Key) ([]byte, error)
}

// GenerationError reports a failed mesh generation; the pipeline records
// it as a missed tile rather than aborting the run.
type GenerationError struct {
	Key tiles.Key
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("mesher: generate %s: %v", e.Key, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// HeightfieldGenerator is the built-in extruder: it samples the decoded
// heightmap onto an EdgeVertices grid and emits a Wavefront OBJ. Unit
// tile in XY, elevation scaled to the tile's ground span in Z.
type HeightfieldGenerator struct {
	Encoding Encoding
}

// Generate implements Generator.
func (g *HeightfieldGenerator) Generate(ctx context.Context, heightmap []byte, key tiles.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hm, err := DecodeHeightmap(heightmap, g.Encoding)
	if err != nil {
		return nil, &GenerationError{Key: key, Err: err}
	}

	// One tile spans circumference/2^z metres on the ground. Elevation in
	// the same unit space keeps stitched tiles proportionate.
	scale := earthCircumferenceM / math.Exp2(float64(key.Z))

	var b strings.Builder
	fmt.Fprintf(&b, "# tile %s\n", key)
	for row := 0; row < EdgeVertices; row++ {
		v := float64(row) / float64(EdgeVertices-1)
		for col := 0; col < EdgeVertices; col++ {
			u := float64(col) / float64(EdgeVertices-1)
			z := hm.Sample(u, v) / scale
			fmt.Fprintf(&b, "v %.6f %.6f %.6f\n", u, 1-v, z)
		}
	}
	for row := 0; row < EdgeVertices-1; row++ {
		for col := 0; col < EdgeVertices-1; col++ {
			// OBJ indices are 1-based.
			tl := row*EdgeVertices + col + 1
			tr := tl + 1
			bl := tl + EdgeVertices
			br := bl + 1
			fmt.Fprintf(&b, "f %d %d %d\n", tl, bl, tr)
			fmt.Fprintf(&b, "f %d %d %d\n", tr, bl, br)
		}
	}
	return []byte(b.String()), nil
}
