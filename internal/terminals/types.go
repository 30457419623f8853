package terminals

import (
	"errors"

	"github.com/paulmach/orb"
)

// Line-level outcomes. None of these abort a batch.
var (
	// ErrEmptyLineInput means no sample of the line survived validation and
	// grid lookup.
	ErrEmptyLineInput = errors.New("line has no usable samples")
	// ErrNoStationaryCandidate means no cell had a zero median speed.
	ErrNoStationaryCandidate = errors.New("line has no stationary cells")
	// ErrSingleCandidate means only one stationary cell exists: the start is
	// known, the end is not.
	ErrSingleCandidate = errors.New("line has a single stationary cell")
)

// CellStats summarises the samples of one line that fell into one grid cell.
type CellStats struct {
	GridID      int       `json:"grid_id"`
	Bound       orb.Bound `json:"bound"`
	Centroid    orb.Point `json:"centroid"` // mean sample position, not the cell center
	Count       int       `json:"count"`
	MedianHour  float64   `json:"median_hour"`
	MedianSpeed float64   `json:"median_speed"`
}

// Candidate is a stationary cell being ranked as an end terminal.
type Candidate struct {
	CellStats
	DistanceFromStart  float64 `json:"distance_from_start"`
	NormalizedCount    float64 `json:"normalized_count"`
	NormalizedDistance float64 `json:"normalized_distance"`
	Score              float64 `json:"score"`
}

// Status is the outcome of terminal inference for a line.
type Status string

const (
	StatusDetermined      Status = "determined"
	StatusInconclusiveEnd Status = "inconclusive-end"
	StatusInconclusive    Status = "inconclusive"
)

// Result is the terminal pair inferred for one line.
type Result struct {
	LineID string     `json:"line_id"`
	Start  *orb.Point `json:"start,omitempty"`
	End    *orb.Point `json:"end,omitempty"`
	Status Status     `json:"status"`
	// Reason is one of the Err* sentinels when Status is not determined.
	Reason error `json:"-"`

	// StartCell is the stationary cell chosen as the start, when there is one.
	StartCell *CellStats `json:"start_cell,omitempty"`
	// Candidates are the remaining stationary cells ranked by score, best first.
	Candidates []Candidate `json:"candidates,omitempty"`
	// RouteCells are busy cells where vehicles keep moving.
	RouteCells []CellStats `json:"route_cells,omitempty"`

	Samples    int  `json:"samples"`
	Malformed  int  `json:"malformed"`
	Unmatched  int  `json:"unmatched"`
	Degenerate bool `json:"degenerate"`
}

// Persistable reports whether the result carries at least a start terminal.
func (r Result) Persistable() bool {
	return r.Status != StatusInconclusive && r.Start != nil
}

// StationaryCells returns the start cell followed by the ranked candidates.
func (r Result) StationaryCells() []CellStats {
	var out []CellStats
	if r.StartCell != nil {
		out = append(out, *r.StartCell)
	}
	for _, c := range r.Candidates {
		out = append(out, c.CellStats)
	}
	return out
}
