// Package imaging prepares fetched satellite tiles for upload.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
)

// jpegQuality matches the provider's own tile encoding closely enough
// that re-encoding after padding is not the visible quality bound.
const jpegQuality = 92

// ExtendEdges widens an image by padding pixels on every side, filling
// the border by replicating the outermost rows, columns, and corners.
// Renderers sample past tile edges when filtering; without the apron,
// adjacent tiles show visible seams. Returns JPEG bytes.
func ExtendEdges(data []byte, padding int) ([]byte, error) {
	if padding < 0 {
		return nil, fmt.Errorf("imaging: negative padding %d", padding)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode tile: %w", err)
	}
	if padding == 0 {
		return encodeJPEG(src)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w+2*padding, h+2*padding))

	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	for y := 0; y < h+2*padding; y++ {
		sy := b.Min.Y + clamp(y-padding, 0, h-1)
		for x := 0; x < w+2*padding; x++ {
			sx := b.Min.X + clamp(x-padding, 0, w-1)
			dst.Set(x, y, src.At(sx, sy))
		}
	}

	return encodeJPEG(dst)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("imaging: encode tile: %w", err)
	}
	return buf.Bytes(), nil
}
