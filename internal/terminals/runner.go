package terminals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/positions"
	"github.com/banshee-data/busterminals/internal/timeutil"
)

// Source supplies the position samples of a line.
type Source interface {
	LineSamples(ctx context.Context, lineID string) ([]positions.Sample, error)
}

// LineLister enumerates the lines a source has samples for.
type LineLister interface {
	Lines(ctx context.Context) ([]string, error)
}

// Store persists inferred terminals. UpsertTerminal replaces any earlier
// result for the same line. DeleteTerminal drops the stored result of a line
// and reports whether there was one.
type Store interface {
	UpsertTerminal(ctx context.Context, res Result) error
	DeleteTerminal(ctx context.Context, lineID string) (bool, error)
}

// DefaultWorkers is the number of lines processed concurrently.
const DefaultWorkers = 6

// Runner fans terminal inference out over many lines.
type Runner struct {
	Source    Source
	Store     Store // optional; nil skips persistence
	Estimator *Estimator
	Workers   int
	Clock     timeutil.Clock // optional; nil uses the wall clock
}

// Summary reports a batch run.
type Summary struct {
	RunID           string
	Started         time.Time
	Finished        time.Time
	Determined      int
	InconclusiveEnd int
	Inconclusive    int
	Persisted       int
	// Cleared counts lines whose earlier stored result was removed because
	// this run found no start terminal.
	Cleared int
	// Results holds one entry per requested line, in line order.
	Results []Result
}

// Run processes lines concurrently. Line-level outcomes (no samples, no
// stationary cells, one stationary cell) are recorded in the summary and do
// not stop the batch. A source or store failure is returned and cancels the
// lines still pending.
func (r *Runner) Run(ctx context.Context, lines []string) (*Summary, error) {
	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	clock := timeutil.OrReal(r.Clock)

	sum := &Summary{
		RunID:   uuid.NewString(),
		Started: clock.Now().UTC(),
		Results: make([]Result, len(lines)),
	}
	persisted := make([]bool, len(lines))
	cleared := make([]bool, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, line := range lines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			samples, err := r.Source.LineSamples(gctx, line)
			if err != nil {
				return fmt.Errorf("load samples for line %s: %w", line, err)
			}
			res := r.Estimator.Estimate(line, samples)
			sum.Results[i] = res

			if r.Store == nil {
				return nil
			}
			if !res.Persistable() {
				removed, err := r.Store.DeleteTerminal(gctx, line)
				if err != nil {
					return fmt.Errorf("clear terminals for line %s: %w", line, err)
				}
				if removed {
					monitoring.Debugf("line %s: cleared stored terminals: %v", line, res.Reason)
				}
				cleared[i] = removed
				return nil
			}
			if err := r.Store.UpsertTerminal(gctx, res); err != nil {
				return fmt.Errorf("store terminals for line %s: %w", line, err)
			}
			persisted[i] = true
			return nil
		})
	}
	err := g.Wait()
	sum.Finished = clock.Now().UTC()

	for i, res := range sum.Results {
		switch res.Status {
		case StatusDetermined:
			sum.Determined++
		case StatusInconclusiveEnd:
			sum.InconclusiveEnd++
		case StatusInconclusive:
			sum.Inconclusive++
		}
		if persisted[i] {
			sum.Persisted++
		}
		if cleared[i] {
			sum.Cleared++
		}
	}
	if err != nil {
		return sum, err
	}

	monitoring.Logf("run %s: %d lines, %d determined, %d start only, %d inconclusive, %d stored, %d cleared in %s",
		sum.RunID, len(lines), sum.Determined, sum.InconclusiveEnd, sum.Inconclusive, sum.Persisted, sum.Cleared,
		sum.Finished.Sub(sum.Started).Round(time.Millisecond))
	return sum, nil
}

// Lines returns the explicit line list when non-empty, otherwise every line
// known to lister, sorted.
func Lines(ctx context.Context, explicit []string, lister LineLister) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if lister == nil {
		return nil, fmt.Errorf("no lines given and source cannot list lines")
	}
	lines, err := lister.Lines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	sort.Strings(lines)
	return lines, nil
}
