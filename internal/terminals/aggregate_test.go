package terminals

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/busterminals/internal/grid"
	"github.com/banshee-data/busterminals/internal/positions"
)

// testGrid is a 2x2 grid of 0.01 degree cells with its origin at (0, 0).
func testGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.Build(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0.02, 0.02}}, 2)
	require.NoError(t, err)
	return g
}

func sampleAt(lon, lat, speed float64, hour int) positions.Sample {
	return positions.Sample{
		LineID:    "100",
		Longitude: lon,
		Latitude:  lat,
		Timestamp: time.Date(2024, 5, 2, hour, 15, 0, 0, time.UTC),
		Speed:     speed,
	}
}

func TestAggregate_SingleCell(t *testing.T) {
	g := testGrid(t)
	samples := []positions.Sample{
		sampleAt(0.001, 0.002, 0, 8),
		sampleAt(0.003, 0.004, 0, 9),
		sampleAt(0.005, 0.009, 5, 23),
	}

	agg := Aggregate(g, samples, time.UTC)
	require.Len(t, agg.Stats, 1)
	s := agg.Stats[0]
	assert.Equal(t, 0, s.GridID)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 0.0, s.MedianSpeed, "speeds [0,0,5]")
	assert.Equal(t, 9.0, s.MedianHour, "hours [8,9,23]")
	assert.InDelta(t, 0.003, s.Centroid[0], 1e-12)
	assert.InDelta(t, 0.005, s.Centroid[1], 1e-12)
	assert.NotEqual(t, g.Cells()[0].Center(), s.Centroid, "centroid is the sample mean")
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0.01, 0.01}}, s.Bound)
	assert.Empty(t, agg.Malformed)
	assert.Zero(t, agg.Unmatched)
}

func TestAggregate_EvenMedians(t *testing.T) {
	g := testGrid(t)
	samples := []positions.Sample{
		sampleAt(0.015, 0.015, 4, 11),
		sampleAt(0.015, 0.016, 0, 8),
		sampleAt(0.016, 0.015, 2, 10),
		sampleAt(0.016, 0.016, 0, 9),
	}

	agg := Aggregate(g, samples, time.UTC)
	require.Len(t, agg.Stats, 1)
	assert.Equal(t, 3, agg.Stats[0].GridID)
	assert.Equal(t, 9.5, agg.Stats[0].MedianHour)
	assert.Equal(t, 1.0, agg.Stats[0].MedianSpeed)
}

func TestAggregate_HourInLocation(t *testing.T) {
	g := testGrid(t)
	s := sampleAt(0.005, 0.005, 0, 2) // 02:15 UTC is 23:15 the day before in UTC-3

	agg := Aggregate(g, []positions.Sample{s}, time.FixedZone("BRT", -3*3600))
	require.Len(t, agg.Stats, 1)
	assert.Equal(t, 23.0, agg.Stats[0].MedianHour)

	agg = Aggregate(g, []positions.Sample{s}, nil)
	assert.Equal(t, 2.0, agg.Stats[0].MedianHour, "nil location means UTC")
}

func TestAggregate_SortedByGridIDAndConserved(t *testing.T) {
	g := testGrid(t)
	samples := []positions.Sample{
		sampleAt(0.015, 0.015, 0, 8),  // cell 3
		sampleAt(0.005, 0.015, 3, 8),  // cell 1
		sampleAt(0.005, 0.005, 0, 8),  // cell 0
		sampleAt(0.5, 0.5, 0, 8),      // outside
		sampleAt(math.NaN(), 0, 0, 8), // malformed
		sampleAt(0.015, 0.005, 1, 8),  // cell 2
		sampleAt(0.015, 0.015, 0, 9),  // cell 3
		{LineID: "100", Longitude: 0.001, Latitude: 0.001, Speed: 0},
	}

	agg := Aggregate(g, samples, time.UTC)
	ids := make([]int, len(agg.Stats))
	for i, s := range agg.Stats {
		ids[i] = s.GridID
	}
	assert.Equal(t, []int{0, 1, 2, 3}, ids)
	assert.Equal(t, 2, agg.Stats[3].Count)
	assert.Equal(t, 1, agg.Unmatched)
	require.Len(t, agg.Malformed, 2)
	assert.Equal(t, 4, agg.Malformed[0].Index)
	assert.Equal(t, "timestamp", agg.Malformed[1].Field)
	assert.Equal(t, len(samples), agg.Total())
}

func TestAggregate_RandomInputsKeepCounts(t *testing.T) {
	g, err := grid.Build(orb.Bound{Min: orb.Point{-43.3, -22.95}, Max: orb.Point{-43.2, -22.90}}, 10)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for round := 0; round < 25; round++ {
		n := rng.Intn(300)
		samples := make([]positions.Sample, n)
		for i := range samples {
			samples[i] = sampleAt(
				-43.32+rng.Float64()*0.14,
				-22.97+rng.Float64()*0.09,
				float64(rng.Intn(3))*rng.Float64()*30,
				rng.Intn(24),
			)
			if rng.Intn(20) == 0 {
				samples[i].Latitude = math.Inf(-1)
			}
		}

		agg := Aggregate(g, samples, time.UTC)
		assert.Equal(t, n, agg.Total())
		for _, s := range agg.Stats {
			assert.GreaterOrEqual(t, s.Count, 1)
			assert.GreaterOrEqual(t, s.MedianHour, 0.0)
			assert.LessOrEqual(t, s.MedianHour, 23.0)
			assert.GreaterOrEqual(t, s.MedianSpeed, 0.0)
			assert.True(t, s.Bound.Pad(1e-9).Contains(s.Centroid))
		}
	}
}

func TestAggregate_NoSamples(t *testing.T) {
	agg := Aggregate(testGrid(t), nil, time.UTC)
	assert.Empty(t, agg.Stats)
	assert.Zero(t, agg.Total())
}

func TestFilterStationary(t *testing.T) {
	stats := []CellStats{
		{GridID: 1, Count: 4, MedianSpeed: 0},
		{GridID: 2, Count: 9, MedianSpeed: 0.5},
		{GridID: 3, Count: 2, MedianSpeed: 0},
	}
	got := FilterStationary(stats)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].GridID)
	assert.Equal(t, 3, got[1].GridID)

	assert.Empty(t, FilterStationary([]CellStats{{GridID: 1, Count: 3, MedianSpeed: 12}}))
}

func TestRouteCells(t *testing.T) {
	stats := []CellStats{
		{GridID: 1, Count: 2, MedianSpeed: 10},
		{GridID: 2, Count: 8, MedianSpeed: 15},
		{GridID: 3, Count: 9, MedianSpeed: 0},
		{GridID: 4, Count: 5, MedianSpeed: 20},
		{GridID: 5, Count: 6, MedianSpeed: 4},
	}
	// Median count is 6: only strictly busier moving cells qualify.
	got := RouteCells(stats)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].GridID)

	assert.Nil(t, RouteCells(nil))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median([]float64{0, 0, 5}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 0.0, median(nil))

	xs := []float64{3, 1, 2}
	median(xs)
	assert.Equal(t, []float64{3, 1, 2}, xs)
}
