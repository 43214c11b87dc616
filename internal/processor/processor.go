// Package processor drives a single tile through fetch, transform,
// upload and state recording.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlastiles/tilegen/internal/imaging"
	"github.com/atlastiles/tilegen/internal/mesher"
	"github.com/atlastiles/tilegen/internal/provider"
	"github.com/atlastiles/tilegen/internal/tiles"
	"github.com/atlastiles/tilegen/internal/tilestore"
	"github.com/atlastiles/tilegen/internal/timeutil"
	"github.com/atlastiles/tilegen/internal/uploader"
	"github.com/atlastiles/tilegen/internal/workspace"
)

// Kind selects which asset family a processor produces.
type Kind int

const (
	KindImage Kind = iota
	KindMesh
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMesh:
		return "mesh"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AssetTable returns the table recording finished asset IDs for k.
func (k Kind) AssetTable() tilestore.Table {
	if k == KindMesh {
		return tilestore.TableMeshAssets
	}
	return tilestore.TableImageAssets
}

// OperationTable returns the table recording pending upload operations.
func (k Kind) OperationTable() tilestore.Table {
	if k == KindMesh {
		return tilestore.TableMeshOperations
	}
	return tilestore.TableImageOperations
}

// MissedTable returns the table recording failed tiles for k.
func (k Kind) MissedTable() tilestore.Table {
	if k == KindMesh {
		return tilestore.TableMissedMeshes
	}
	return tilestore.TableMissedImages
}

// Outcome classifies what Process did with a tile.
type Outcome int

const (
	// Skipped means a finished asset was already recorded.
	Skipped Outcome = iota
	// Done means the upload finished synchronously and the asset ID
	// is recorded.
	Done
	// Pending means the service accepted the upload and the operation
	// ID is recorded for later reconciliation.
	Pending
	// Missed means a step failed and the tile is recorded for retry.
	Missed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Done:
		return "done"
	case Pending:
		return "pending"
	case Missed:
		return "missed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports the outcome of processing one tile.
type Result struct {
	Key         tiles.Key
	Outcome     Outcome
	AssetID     string
	OperationID string
	Err         error
	Duration    time.Duration
}

// Processor produces one asset family for tiles. Safe for concurrent
// use by multiple workers; the store serializes its own writes.
type Processor struct {
	Store   *tilestore.Store
	Source  *provider.Client
	Assets  *uploader.Client
	Gen     mesher.Generator
	WS      *workspace.Workspace
	Clock   timeutil.Clock
	Kind    Kind
	Tileset string
	Format  string
	Padding int
}

// Process runs node's tile through the full pipeline stage for the
// processor's kind. A cancelled context aborts before any state is
// written for the tile.
func (p *Processor) Process(ctx context.Context, node tiles.Node) Result {
	start := p.Clock.Now()
	res := Result{Key: node.Key}

	finish := func(r Result) Result {
		r.Duration = p.Clock.Since(start)
		return r
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return finish(res)
	}

	if p.Kind == KindMesh {
		err := tilestore.RetryTransient(ctx, p.Clock, 5, func() error {
			_, err := p.Store.AllocateVertexOffset(ctx, node.Key, mesher.VertexStride)
			return err
		})
		if err != nil {
			res.Err = err
			return finish(res)
		}
	}

	ok, err := p.Store.Has(ctx, p.Kind.AssetTable(), node.Key)
	if err != nil {
		res.Err = err
		return finish(res)
	}
	if ok {
		res.Outcome = Skipped
		return finish(res)
	}

	content, contentType, filename, err := p.produce(ctx, node)
	if err != nil {
		return finish(p.recordMiss(ctx, res, err))
	}

	displayName := fmt.Sprintf("%s_%s", p.Kind, node.Key)
	sub, err := p.Assets.CreateAsset(ctx, content, filename, p.assetKind(), contentType, displayName)
	if err != nil {
		return finish(p.recordMiss(ctx, res, err))
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return finish(res)
	}

	if sub.AssetID != "" {
		if err := p.recordDone(ctx, node.Key, sub.AssetID); err != nil {
			res.Err = err
			return finish(res)
		}
		res.Outcome = Done
		res.AssetID = sub.AssetID
		return finish(res)
	}

	if err := p.recordPending(ctx, node.Key, sub.OperationID); err != nil {
		res.Err = err
		return finish(res)
	}
	res.Outcome = Pending
	res.OperationID = sub.OperationID
	return finish(res)
}

// produce fetches the source tile and transforms it into upload-ready
// bytes. The intermediate artifact lands in the workspace so failed
// runs leave something to inspect, then is discarded on success.
func (p *Processor) produce(ctx context.Context, node tiles.Node) ([]byte, uploader.ContentType, string, error) {
	raw, err := p.Source.Tile(ctx, p.Tileset, node.Key, p.Format)
	if err != nil {
		return nil, "", "", err
	}

	artifact := fmt.Sprintf("%s_%s_%s", p.Kind, node.Key, uuid.New().String())

	if p.Kind == KindImage {
		out := raw
		if p.Padding > 0 {
			out, err = imaging.ExtendEdges(raw, p.Padding)
			if err != nil {
				return nil, "", "", fmt.Errorf("pad tile %s: %w", node.Key, err)
			}
		}
		name := artifact + ".jpg"
		if _, err := p.WS.Write(name, out); err != nil {
			return nil, "", "", err
		}
		defer p.WS.Discard(name)
		return out, uploader.ContentJPEG, name, nil
	}

	mesh, err := p.Gen.Generate(ctx, raw, node.Key)
	if err != nil {
		return nil, "", "", err
	}
	name := artifact + ".obj"
	if _, err := p.WS.Write(name, mesh); err != nil {
		return nil, "", "", err
	}
	defer p.WS.Discard(name)
	return mesh, uploader.ContentOBJ, name, nil
}

func (p *Processor) assetKind() uploader.AssetKind {
	if p.Kind == KindMesh {
		return uploader.KindMesh
	}
	return uploader.KindImage
}

// recordDone stores the asset ID and clears any pending or missed
// state, in that order, so a crash never leaves the tile invisible to
// a resumed run.
func (p *Processor) recordDone(ctx context.Context, key tiles.Key, assetID string) error {
	return tilestore.RetryTransient(ctx, p.Clock, 5, func() error {
		if err := p.Store.Put(ctx, p.Kind.AssetTable(), key, assetID); err != nil {
			return err
		}
		if err := p.Store.Delete(ctx, p.Kind.OperationTable(), key); err != nil {
			return err
		}
		return p.Store.Delete(ctx, p.Kind.MissedTable(), key)
	})
}

// recordPending stores the operation ID and plants a zero-retry missed
// marker so an interrupted reconcile still finds the tile later.
func (p *Processor) recordPending(ctx context.Context, key tiles.Key, operationID string) error {
	marker, err := tilestore.EncodeMissedMarker(tilestore.MissedMarker{
		LastError: "upload pending",
		UpdatedAt: p.Clock.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return tilestore.RetryTransient(ctx, p.Clock, 5, func() error {
		if err := p.Store.Put(ctx, p.Kind.OperationTable(), key, operationID); err != nil {
			return err
		}
		_, err := p.Store.PutIfAbsent(ctx, p.Kind.MissedTable(), key, marker)
		return err
	})
}

func (p *Processor) recordMiss(ctx context.Context, res Result, cause error) Result {
	res.Err = cause
	if ctx.Err() != nil {
		return res
	}
	err := tilestore.RetryTransient(ctx, p.Clock, 5, func() error {
		_, err := p.Store.MarkMissed(ctx, p.Kind.MissedTable(), res.Key, cause.Error(), p.Clock.Now().Unix())
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("record miss after %v: %w", cause, err)
		return res
	}
	res.Outcome = Missed
	return res
}
