package terminals

import (
	"sort"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/busterminals/internal/grid"
	"github.com/banshee-data/busterminals/internal/positions"
)

// Aggregation is the per-cell summary of one line's samples.
type Aggregation struct {
	Stats     []CellStats // one per non-empty cell, sorted by GridID
	Malformed []*positions.MalformedSampleError
	Unmatched int // valid samples outside the grid
}

// Total returns the number of input samples the aggregation accounts for.
func (a Aggregation) Total() int {
	n := len(a.Malformed) + a.Unmatched
	for _, s := range a.Stats {
		n += s.Count
	}
	return n
}

// cellAccumulator holds the raw values of one cell until stats are built.
type cellAccumulator struct {
	cell   grid.Cell
	hours  []float64
	speeds []float64
	lons   []float64
	lats   []float64
}

func (acc *cellAccumulator) add(s positions.Sample, loc *time.Location) {
	acc.hours = append(acc.hours, float64(s.Timestamp.In(loc).Hour()))
	acc.speeds = append(acc.speeds, s.Speed)
	acc.lons = append(acc.lons, s.Longitude)
	acc.lats = append(acc.lats, s.Latitude)
}

func (acc *cellAccumulator) stats() CellStats {
	return CellStats{
		GridID:      acc.cell.ID,
		Bound:       acc.cell.Bound,
		Centroid:    orb.Point{stat.Mean(acc.lons, nil), stat.Mean(acc.lats, nil)},
		Count:       len(acc.speeds),
		MedianHour:  median(acc.hours),
		MedianSpeed: median(acc.speeds),
	}
}

// Aggregate bins samples into g and summarises every non-empty cell. Hours
// of day are taken in loc (UTC when nil). Invalid samples are collected in
// Malformed and samples outside the grid are counted in Unmatched; neither
// stops the pass.
func Aggregate(g *grid.Grid, samples []positions.Sample, loc *time.Location) Aggregation {
	if loc == nil {
		loc = time.UTC
	}

	var agg Aggregation
	cells := make(map[int]*cellAccumulator)
	for i, s := range samples {
		if err := positions.Validate(i, s); err != nil {
			agg.Malformed = append(agg.Malformed, err)
			continue
		}
		cell, ok := g.Locate(s.Point())
		if !ok {
			agg.Unmatched++
			continue
		}
		acc, ok := cells[cell.ID]
		if !ok {
			acc = &cellAccumulator{cell: cell}
			cells[cell.ID] = acc
		}
		acc.add(s, loc)
	}

	agg.Stats = make([]CellStats, 0, len(cells))
	for _, acc := range cells {
		agg.Stats = append(agg.Stats, acc.stats())
	}
	sort.Slice(agg.Stats, func(i, j int) bool {
		return agg.Stats[i].GridID < agg.Stats[j].GridID
	})
	return agg
}

// median returns the middle value of xs, or the mean of the two middle values
// for an even count. xs is not modified.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
