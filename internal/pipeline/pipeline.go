// Package pipeline orchestrates tile processing across a worker pool,
// reconciles pending upload operations and retries missed tiles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/atlastiles/tilegen/internal/processor"
	"github.com/atlastiles/tilegen/internal/tiles"
	"github.com/atlastiles/tilegen/internal/tilestore"
	"github.com/atlastiles/tilegen/internal/timeutil"
	"github.com/atlastiles/tilegen/internal/uploader"
)

// DefaultWorkers is the pool size when the caller does not set one.
const DefaultWorkers = 4

// Runner executes a full generation run. Either processor may be nil
// to restrict the run to one asset family.
type Runner struct {
	Store  *tilestore.Store
	Image  *processor.Processor
	Mesh   *processor.Processor
	Assets *uploader.Client
	Clock  timeutil.Clock
	Log    *log.Logger

	Workers          int
	MaxMissedRetries int
}

// Run processes nodes through each configured processor, reconciles
// async operations, retries missed tiles up to MaxMissedRetries times
// and reconciles once more. It returns a summary of everything done.
func (r *Runner) Run(ctx context.Context, nodes []tiles.Node) (Summary, error) {
	start := r.Clock.Now()
	sum := Summary{}

	for _, p := range r.processors() {
		counts, durations, err := r.processAll(ctx, p, nodes)
		sum.add(p.Kind, counts, durations)
		if err != nil {
			sum.Elapsed = r.Clock.Since(start)
			return sum, err
		}
	}

	if err := r.reconcileAll(ctx, &sum); err != nil {
		sum.Elapsed = r.Clock.Since(start)
		return sum, err
	}

	if err := r.retryMissed(ctx, &sum); err != nil {
		sum.Elapsed = r.Clock.Since(start)
		return sum, err
	}

	if err := r.reconcileAll(ctx, &sum); err != nil {
		sum.Elapsed = r.Clock.Since(start)
		return sum, err
	}

	sum.Elapsed = r.Clock.Since(start)
	return sum, nil
}

func (r *Runner) processors() []*processor.Processor {
	var ps []*processor.Processor
	if r.Image != nil {
		ps = append(ps, r.Image)
	}
	if r.Mesh != nil {
		ps = append(ps, r.Mesh)
	}
	return ps
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return DefaultWorkers
}

// processAll fans nodes out to the worker pool for one processor and
// collects counts. A cancelled context stops feeding; in-flight tiles
// finish or abort on their own context checks.
func (r *Runner) processAll(ctx context.Context, p *processor.Processor, nodes []tiles.Node) (Counts, []time.Duration, error) {
	in := make(chan tiles.Node)
	out := make(chan processor.Result, len(nodes))

	var wg sync.WaitGroup
	for i := 0; i < r.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range in {
				out <- p.Process(ctx, node)
			}
		}()
	}

feed:
	for _, node := range nodes {
		select {
		case in <- node:
		case <-ctx.Done():
			break feed
		}
	}
	close(in)
	wg.Wait()
	close(out)

	var counts Counts
	durations := make([]time.Duration, 0, len(nodes))
	var firstErr error
	for res := range out {
		counts.record(res)
		durations = append(durations, res.Duration)
		if res.Err != nil {
			if res.Outcome == processor.Missed {
				r.logf("%s %s missed: %v", p.Kind, res.Key, res.Err)
				continue
			}
			// Outcome could not be recorded at all; surface the first
			// such error after draining the pool.
			if firstErr == nil && !errors.Is(res.Err, context.Canceled) {
				firstErr = fmt.Errorf("%s %s: %w", p.Kind, res.Key, res.Err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return counts, durations, err
	}
	return counts, durations, firstErr
}

func (r *Runner) reconcileAll(ctx context.Context, sum *Summary) error {
	for _, p := range r.processors() {
		if err := r.reconcile(ctx, p.Kind, sum); err != nil {
			return err
		}
	}
	return nil
}

// opOutcome is one polled operation awaiting a store mutation.
type opOutcome struct {
	key   tilestore.Key
	value string // asset ID when ready, failure message when failed
}

// reconcile polls every recorded pending operation once. Finished
// operations promote their asset ID; failed ones convert back to a
// missed tile so the retry pass can pick them up. The operation table
// is streamed, and mutations wait until the cursor closes so the scan
// never races its own writes.
func (r *Runner) reconcile(ctx context.Context, kind processor.Kind, sum *Summary) error {
	rows, err := r.Store.ListAll(ctx, kind.OperationTable())
	if err != nil {
		return fmt.Errorf("list %s operations: %w", kind, err)
	}

	var ready, failed []opOutcome
	for {
		entry, ok := rows.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			rows.Close()
			return err
		}

		status, err := r.Assets.Operation(ctx, entry.Value)
		if err != nil {
			r.logf("poll %s operation %s for %s: %v", kind, entry.Value, entry.Key, err)
			continue
		}
		switch {
		case status.Done && !status.Failed:
			ready = append(ready, opOutcome{key: entry.Key, value: status.AssetID})
		case status.Done && status.Failed:
			failed = append(failed, opOutcome{key: entry.Key, value: status.Message})
		default:
			// Still in flight; the next run reconciles it.
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list %s operations: %w", kind, err)
	}
	rows.Close()

	for _, op := range ready {
		err := tilestore.RetryTransient(ctx, r.Clock, 5, func() error {
			if err := r.Store.Put(ctx, kind.AssetTable(), op.key, op.value); err != nil {
				return err
			}
			if err := r.Store.Delete(ctx, kind.OperationTable(), op.key); err != nil {
				return err
			}
			return r.Store.Delete(ctx, kind.MissedTable(), op.key)
		})
		if err != nil {
			return fmt.Errorf("record %s asset %s: %w", kind, op.key, err)
		}
		sum.counts(kind).Reconciled++
		r.logf("%s %s ready: asset %s", kind, op.key, op.value)
	}

	for _, op := range failed {
		err := tilestore.RetryTransient(ctx, r.Clock, 5, func() error {
			if err := r.Store.Delete(ctx, kind.OperationTable(), op.key); err != nil {
				return err
			}
			_, err := r.Store.MarkMissed(ctx, kind.MissedTable(), op.key, op.value, r.Clock.Now().Unix())
			return err
		})
		if err != nil {
			return fmt.Errorf("mark failed %s %s: %w", kind, op.key, err)
		}
		r.logf("%s %s operation failed: %s", kind, op.key, op.value)
	}
	return nil
}

// retryMissed re-processes missed tiles whose retry count has not hit
// the bound. Tiles with a pending operation are left to reconcile.
func (r *Runner) retryMissed(ctx context.Context, sum *Summary) error {
	if r.MaxMissedRetries <= 0 {
		return nil
	}

	for _, p := range r.processors() {
		for pass := 0; pass < r.MaxMissedRetries; pass++ {
			candidates, err := r.missedCandidates(ctx, p.Kind)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				break
			}
			r.logf("retrying %d missed %s tiles (pass %d)", len(candidates), p.Kind, pass+1)

			counts, durations, err := r.processAll(ctx, p, candidates)
			sum.addRetry(p.Kind, counts, durations)
			if err != nil {
				return err
			}
			if counts.Done == 0 && counts.Pending == 0 {
				// Nothing improved; further passes would repeat the
				// same failures.
				break
			}
		}
	}
	return nil
}

func (r *Runner) missedCandidates(ctx context.Context, kind processor.Kind) ([]tiles.Node, error) {
	rows, err := r.Store.ListAll(ctx, kind.MissedTable())
	if err != nil {
		return nil, fmt.Errorf("list missed %s tiles: %w", kind, err)
	}

	var keys []tilestore.Key
	for {
		entry, ok := rows.Next()
		if !ok {
			break
		}
		if tilestore.ParseMissedMarker(entry.Value).Retries < r.MaxMissedRetries {
			keys = append(keys, entry.Key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list missed %s tiles: %w", kind, err)
	}
	rows.Close()

	var nodes []tiles.Node
	for _, key := range keys {
		op, err := r.Store.Has(ctx, kind.OperationTable(), key)
		if err != nil {
			return nil, err
		}
		if op {
			continue
		}
		nodes = append(nodes, tiles.Node{Key: key, Bound: key.Bound(), Leaf: true})
	}
	return nodes, nil
}

func (r *Runner) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}
