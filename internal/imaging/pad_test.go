package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidTile(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestExtendEdgesDimensions(t *testing.T) {
	src := encodePNG(t, solidTile(16, 16, color.RGBA{R: 120, G: 60, B: 30, A: 255}))

	out, err := ExtendEdges(src, 4)
	if err != nil {
		t.Fatalf("ExtendEdges: %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 24 || b.Dy() != 24 {
		t.Fatalf("padded size = %dx%d, want 24x24", b.Dx(), b.Dy())
	}
}

func TestExtendEdgesReplicatesBorder(t *testing.T) {
	// A solid tile keeps its color in the apron; JPEG noise stays small
	// on flat regions.
	want := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	src := encodePNG(t, solidTile(8, 8, want))

	out, err := ExtendEdges(src, 2)
	if err != nil {
		t.Fatalf("ExtendEdges: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}

	for _, pt := range []image.Point{{0, 0}, {11, 0}, {0, 11}, {11, 11}, {5, 5}} {
		r, g, b, _ := decoded.At(pt.X, pt.Y).RGBA()
		if !near(uint8(r>>8), want.R) || !near(uint8(g>>8), want.G) || !near(uint8(b>>8), want.B) {
			t.Fatalf("pixel %v = (%d, %d, %d), want near (%d, %d, %d)",
				pt, r>>8, g>>8, b>>8, want.R, want.G, want.B)
		}
	}
}

func near(got, want uint8) bool {
	d := int(got) - int(want)
	if d < 0 {
		d = -d
	}
	return d <= 10
}

func TestExtendEdgesZeroPaddingReencodes(t *testing.T) {
	src := encodePNG(t, solidTile(10, 10, color.RGBA{A: 255}))

	out, err := ExtendEdges(src, 0)
	if err != nil {
		t.Fatalf("ExtendEdges: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("size = %dx%d, want 10x10", b.Dx(), b.Dy())
	}
}

func TestExtendEdgesRejectsBadInput(t *testing.T) {
	if _, err := ExtendEdges([]byte("not an image"), 2); err == nil {
		t.Fatal("garbage input accepted")
	}
	src := encodePNG(t, solidTile(4, 4, color.RGBA{A: 255}))
	if _, err := ExtendEdges(src, -1); err == nil {
		t.Fatal("negative padding accepted")
	}
}
