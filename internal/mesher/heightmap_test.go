package mesher

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func encodeDEM(t *testing.T, w, h int, fill color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeHeightmapTerrainRGB(t *testing.T) {
	// R=1, G=134, B=160 -> value 100000 -> -10000 + 100000*0.1 = 0 m.
	// Pick something with a clear answer: R=1 G=184 B=80.
	// value = 65536 + 184*256 + 80 = 112720 -> height 1272 m.
	data := encodeDEM(t, 4, 4, color.RGBA{R: 1, G: 184, B: 80, A: 255})

	hm, err := DecodeHeightmap(data, DefaultEncoding())
	if err != nil {
		t.Fatalf("DecodeHeightmap: %v", err)
	}
	if hm.Width != 4 || hm.Height != 4 {
		t.Fatalf("heightmap %dx%d, want 4x4", hm.Width, hm.Height)
	}
	if got := hm.At(2, 2); math.Abs(got-1272) > 1e-9 {
		t.Fatalf("At(2,2) = %f, want 1272", got)
	}
}

func TestDecodeHeightmapClampsBelowSeaLevel(t *testing.T) {
	// All-black decodes to -10000 m, which clamps to 0 (missing-DEM
	// tiles mean open water).
	data := encodeDEM(t, 2, 2, color.RGBA{A: 255})

	hm, err := DecodeHeightmap(data, DefaultEncoding())
	if err != nil {
		t.Fatalf("DecodeHeightmap: %v", err)
	}
	for i, v := range hm.Data {
		if v != 0 {
			t.Fatalf("pixel %d = %f, want 0", i, v)
		}
	}
}

func TestDecodeHeightmapRejectsGarbage(t *testing.T) {
	if _, err := DecodeHeightmap([]byte("not an image"), DefaultEncoding()); err == nil {
		t.Fatal("garbage input accepted")
	}
}

func TestSampleInterpolates(t *testing.T) {
	hm := &Heightmap{
		Width:  2,
		Height: 2,
		Data:   []float64{0, 100, 200, 300},
	}

	cases := []struct {
		u, v float64
		want float64
	}{
		{0, 0, 0},
		{1, 0, 100},
		{0, 1, 200},
		{1, 1, 300},
		{0.5, 0, 50},
		{0, 0.5, 100},
		{0.5, 0.5, 150},
	}
	for _, tc := range cases {
		if got := hm.Sample(tc.u, tc.v); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Sample(%f, %f) = %f, want %f", tc.u, tc.v, got, tc.want)
		}
	}
}
