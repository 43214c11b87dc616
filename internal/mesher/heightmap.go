// Package mesher turns terrain heightmap tiles into meshes, either with
// the built-in heightfield extruder or by shelling out to an external
// modelling tool.
package mesher

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Encoding describes how a DEM tile packs elevation into RGB. The default
// is the terrain-RGB scheme: height = offset + (R*65536 + G*256 + B) *
// multiplier, clamped below at sea level.
type Encoding struct {
	Offset     float64
	Multiplier float64
}

// DefaultEncoding is the terrain-RGB encoding of the default DEM tileset.
func DefaultEncoding() Encoding {
	return Encoding{Offset: -10000, Multiplier: 0.1}
}

// Heightmap is a decoded elevation grid in metres, row-major from the
// north-west corner.
type Heightmap struct {
	Width  int
	Height int
	Data   []float64
}

// At returns the elevation at pixel (x, y).
func (h *Heightmap) At(x, y int) float64 {
	return h.Data[y*h.Width+x]
}

// Sample bilinearly interpolates the elevation at normalized coordinates
// (u, v) in [0, 1], v increasing southwards.
func (h *Heightmap) Sample(u, v float64) float64 {
	fx := u * float64(h.Width-1)
	fy := v * float64(h.Height-1)
	x0, y0 := int(fx), int(fy)
	x1, y1 := x0+1, y0+1
	if x1 >= h.Width {
		x1 = h.Width - 1
	}
	if y1 >= h.Height {
		y1 = h.Height - 1
	}
	tx, ty := fx-float64(x0), fy-float64(y0)

	top := h.At(x0, y0)*(1-tx) + h.At(x1, y0)*tx
	bottom := h.At(x0, y1)*(1-tx) + h.At(x1, y1)*tx
	return top*(1-ty) + bottom*ty
}

// DecodeHeightmap decodes a DEM tile image into elevations.
func DecodeHeightmap(data []byte, enc Encoding) (*Heightmap, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mesher: decode heightmap: %w", err)
	}

	b := img.Bounds()
	hm := &Heightmap{
		Width:  b.Dx(),
		Height: b.Dy(),
		Data:   make([]float64, b.Dx()*b.Dy()),
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels; shift back to 8-bit.
			value := float64((r>>8)<<16 + (g>>8)<<8 + bl>>8)
			h := enc.Offset + value*enc.Multiplier
			if h < 0 {
				h = 0
			}
			hm.Data[i] = h
			i++
		}
	}
	return hm, nil
}
