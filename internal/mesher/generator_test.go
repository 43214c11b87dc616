package mesher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"

	"github.com/atlastiles/tilegen/internal/tiles"
)

func TestHeightfieldGeneratorEmitsFullGrid(t *testing.T) {
	data := encodeDEM(t, 64, 64, color.RGBA{R: 1, G: 134, B: 160, A: 255})
	g := &HeightfieldGenerator{Encoding: DefaultEncoding()}

	mesh, err := g.Generate(context.Background(), data, tiles.NewKey(3, 2, 4))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var vertices, faces int
	scanner := bufio.NewScanner(bytes.NewReader(mesh))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "v "):
			vertices++
		case strings.HasPrefix(line, "f "):
			faces++
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if vertices != VertexStride {
		t.Fatalf("vertices = %d, want %d", vertices, VertexStride)
	}
	wantFaces := 2 * (EdgeVertices - 1) * (EdgeVertices - 1)
	if faces != wantFaces {
		t.Fatalf("faces = %d, want %d", faces, wantFaces)
	}
}

func TestHeightfieldGeneratorFailsOnBadHeightmap(t *testing.T) {
	g := &HeightfieldGenerator{Encoding: DefaultEncoding()}

	_, err := g.Generate(context.Background(), []byte("junk"), tiles.NewKey(0, 0, 1))
	if err == nil {
		t.Fatal("garbage heightmap accepted")
	}
	var gerr *GenerationError
	if !errors.As(err, &gerr) {
		t.Fatalf("error %v is not a GenerationError", err)
	}
	if gerr.Key != tiles.NewKey(0, 0, 1) {
		t.Fatalf("error key = %s", gerr.Key)
	}
}

func TestHeightfieldGeneratorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &HeightfieldGenerator{Encoding: DefaultEncoding()}
	if _, err := g.Generate(ctx, nil, tiles.NewKey(0, 0, 1)); err != context.Canceled {
		t.Fatalf("Generate on cancelled context = %v", err)
	}
}

func TestExecGeneratorExpandsPlaceholders(t *testing.T) {
	g := &ExecGenerator{Command: "meshtool --in {heightmap} --out {out} --tile {x},{y},{z}"}

	args := g.expand("/tmp/hm.png", "/tmp/mesh.out", tiles.NewKey(7, 9, 12))
	want := []string{"meshtool", "--in", "/tmp/hm.png", "--out", "/tmp/mesh.out", "--tile", "7,9,12"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestExecGeneratorRequiresCommand(t *testing.T) {
	g := &ExecGenerator{}
	if _, err := g.Generate(context.Background(), []byte("hm"), tiles.NewKey(0, 0, 1)); err == nil {
		t.Fatal("empty command accepted")
	}
}

func TestExecGeneratorRunsTool(t *testing.T) {
	// Use the shell as the external tool: copy the heightmap to the
	// output path so the round trip is observable.
	g := &ExecGenerator{Command: "cp {heightmap} {out}"}

	mesh, err := g.Generate(context.Background(), []byte("fake heightmap"), tiles.NewKey(1, 2, 3))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(mesh) != "fake heightmap" {
		t.Fatalf("mesh = %q", mesh)
	}
}

func TestExecGeneratorReportsToolFailure(t *testing.T) {
	g := &ExecGenerator{Command: "false {heightmap} {out}"}

	_, err := g.Generate(context.Background(), []byte("hm"), tiles.NewKey(1, 2, 3))
	if err == nil {
		t.Fatal("tool failure not reported")
	}
}
