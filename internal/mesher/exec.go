package mesher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atlastiles/tilegen/internal/tiles"
)

// ExecGenerator runs an external modelling tool. The command template is
// split on whitespace; the placeholders {heightmap}, {out}, {x}, {y} and
// {z} expand per invocation. The tool must write its mesh to {out}.
//
// Example: "blender --background --python extrude.py -- {heightmap} {out} {z}"
type ExecGenerator struct {
	Command string
}

// Generate implements Generator by invoking the configured command in a
// scratch directory that is removed when the call returns.
func (g *ExecGenerator) Generate(ctx context.Context, heightmap []byte, key tiles.Key) ([]byte, error) {
	if strings.TrimSpace(g.Command) == "" {
		return nil, &GenerationError{Key: key, Err: fmt.Errorf("no mesh command configured")}
	}

	dir, err := os.MkdirTemp("", "tilegen-mesh-")
	if err != nil {
		return nil, &GenerationError{Key: key, Err: err}
	}
	defer os.RemoveAll(dir)

	hmPath := filepath.Join(dir, "heightmap.png")
	outPath := filepath.Join(dir, "mesh.out")
	if err := os.WriteFile(hmPath, heightmap, 0o644); err != nil {
		return nil, &GenerationError{Key: key, Err: err}
	}

	args := g.expand(hmPath, outPath, key)
	if len(args) == 0 {
		return nil, &GenerationError{Key: key, Err: fmt.Errorf("empty mesh command")}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, &GenerationError{
			Key: key,
			Err: fmt.Errorf("%s: %w (output: %s)", args[0], err, strings.TrimSpace(string(out))),
		}
	}

	mesh, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &GenerationError{Key: key, Err: fmt.Errorf("tool wrote no mesh: %w", err)}
	}
	return mesh, nil
}

func (g *ExecGenerator) expand(heightmapPath, outPath string, key tiles.Key) []string {
	replacer := strings.NewReplacer(
		"{heightmap}", heightmapPath,
		"{out}", outPath,
		"{x}", strconv.FormatUint(uint64(key.X), 10),
		"{y}", strconv.FormatUint(uint64(key.Y), 10),
		"{z}", strconv.FormatUint(uint64(key.Z), 10),
	)
	var args []string
	for _, field := range strings.Fields(g.Command) {
		args = append(args, replacer.Replace(field))
	}
	return args
}
