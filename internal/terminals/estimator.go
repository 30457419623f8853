package terminals

import (
	"errors"
	"time"

	"github.com/banshee-data/busterminals/internal/grid"
	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/positions"
)

// Estimator runs terminal inference for one line at a time against a shared
// grid. It holds no per-line state and is safe for concurrent use.
type Estimator struct {
	Grid *grid.Grid
	// Location is the time zone used to take the hour of day of samples.
	Location *time.Location
}

// NewEstimator returns an Estimator over g that reads hours in loc.
func NewEstimator(g *grid.Grid, loc *time.Location) *Estimator {
	return &Estimator{Grid: g, Location: loc}
}

// Estimate infers the terminals of lineID from its samples.
func (e *Estimator) Estimate(lineID string, samples []positions.Sample) Result {
	agg := Aggregate(e.Grid, samples, e.Location)
	res := Result{
		LineID:    lineID,
		Samples:   len(samples),
		Malformed: len(agg.Malformed),
		Unmatched: agg.Unmatched,
	}
	if len(agg.Malformed) > 0 {
		monitoring.Logf("line %s: skipped %d malformed samples (first: %v)", lineID, len(agg.Malformed), agg.Malformed[0])
	}

	if len(agg.Stats) == 0 {
		res.Status = StatusInconclusive
		res.Reason = ErrEmptyLineInput
		return res
	}
	res.RouteCells = RouteCells(agg.Stats)

	sel, err := SelectEndpoints(FilterStationary(agg.Stats))
	if errors.Is(err, ErrNoStationaryCandidate) {
		res.Status = StatusInconclusive
		res.Reason = err
		return res
	}

	start := sel.Start.Centroid
	startCell := sel.Start
	res.Start = &start
	res.StartCell = &startCell
	if errors.Is(err, ErrSingleCandidate) {
		res.Status = StatusInconclusiveEnd
		res.Reason = err
		return res
	}

	end := sel.End.Centroid
	res.End = &end
	res.Candidates = sel.Ranked
	res.Degenerate = sel.Degenerate
	res.Status = StatusDetermined
	if sel.Degenerate {
		monitoring.Logf("line %s: %d end candidates tied on score, picked grid cell %d", lineID, len(sel.Ranked), sel.End.GridID)
	}
	return res
}
