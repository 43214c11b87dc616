package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/atlastiles/tilegen/internal/processor"
)

// Counts tallies outcomes for one asset family.
type Counts struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Done       int `json:"done"`
	Pending    int `json:"pending"`
	Missed     int `json:"missed"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
	Reconciled int `json:"reconciled"`
}

func (c *Counts) record(res processor.Result) {
	c.Processed++
	// An errored result with the zero-value outcome never got recorded
	// in the store (cancelled context, store failure); it is neither a
	// skip nor a miss.
	if res.Err != nil && res.Outcome == processor.Skipped {
		c.Failed++
		return
	}
	switch res.Outcome {
	case processor.Skipped:
		c.Skipped++
	case processor.Done:
		c.Done++
	case processor.Pending:
		c.Pending++
	case processor.Missed:
		c.Missed++
	}
}

func (c *Counts) merge(o Counts) {
	c.Processed += o.Processed
	c.Skipped += o.Skipped
	c.Done += o.Done
	c.Pending += o.Pending
	c.Missed += o.Missed
	c.Failed += o.Failed
	c.Retried += o.Retried
	c.Reconciled += o.Reconciled
}

// Timing summarizes per-tile processing durations.
type Timing struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	Max  time.Duration `json:"max"`
}

// Summary reports everything a run did.
type Summary struct {
	Image   Counts        `json:"image"`
	Mesh    Counts        `json:"mesh"`
	Timing  Timing        `json:"timing"`
	Elapsed time.Duration `json:"elapsed"`

	durations []time.Duration
}

func (s *Summary) counts(kind processor.Kind) *Counts {
	if kind == processor.KindMesh {
		return &s.Mesh
	}
	return &s.Image
}

func (s *Summary) add(kind processor.Kind, c Counts, durations []time.Duration) {
	s.counts(kind).merge(c)
	s.durations = append(s.durations, durations...)
	s.refreshTiming()
}

func (s *Summary) addRetry(kind processor.Kind, c Counts, durations []time.Duration) {
	c.Retried = c.Processed
	s.add(kind, c, durations)
}

func (s *Summary) refreshTiming() {
	if len(s.durations) == 0 {
		return
	}
	samples := make([]float64, len(s.durations))
	for i, d := range s.durations {
		samples[i] = float64(d)
	}
	sort.Float64s(samples)

	s.Timing = Timing{
		Mean: time.Duration(stat.Mean(samples, nil)),
		P50:  time.Duration(stat.Quantile(0.5, stat.Empirical, samples, nil)),
		P90:  time.Duration(stat.Quantile(0.9, stat.Empirical, samples, nil)),
		Max:  time.Duration(samples[len(samples)-1]),
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "elapsed %s", s.Elapsed.Round(time.Millisecond))
	for _, part := range []struct {
		name string
		c    Counts
	}{{"image", s.Image}, {"mesh", s.Mesh}} {
		if part.c.Processed == 0 && part.c.Reconciled == 0 {
			continue
		}
		fmt.Fprintf(&b, "; %s: %d processed (%d skipped, %d done, %d pending, %d missed, %d failed, %d reconciled)",
			part.name, part.c.Processed, part.c.Skipped, part.c.Done, part.c.Pending, part.c.Missed, part.c.Failed, part.c.Reconciled)
	}
	if len(s.durations) > 0 {
		fmt.Fprintf(&b, "; per-tile mean %s p50 %s p90 %s max %s",
			s.Timing.Mean.Round(time.Millisecond), s.Timing.P50.Round(time.Millisecond),
			s.Timing.P90.Round(time.Millisecond), s.Timing.Max.Round(time.Millisecond))
	}
	return b.String()
}
