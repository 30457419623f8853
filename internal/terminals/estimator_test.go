package terminals

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/busterminals/internal/grid"
	"github.com/banshee-data/busterminals/internal/positions"
	"github.com/banshee-data/busterminals/internal/timeutil"
)

func repeat(n int, s positions.Sample) []positions.Sample {
	out := make([]positions.Sample, n)
	for i := range out {
		out[i] = s
		out[i].Timestamp = s.Timestamp.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func TestEstimate_SingleStationaryCell(t *testing.T) {
	e := NewEstimator(testGrid(t), time.UTC)
	samples := []positions.Sample{
		sampleAt(0.002, 0.002, 0, 6),
		sampleAt(0.004, 0.003, 0, 6),
		sampleAt(0.006, 0.004, 0, 7),
	}

	res := e.Estimate("100", samples)
	assert.Equal(t, StatusInconclusiveEnd, res.Status)
	assert.ErrorIs(t, res.Reason, ErrSingleCandidate)
	require.NotNil(t, res.Start)
	assert.InDelta(t, 0.004, res.Start[0], 1e-12)
	assert.InDelta(t, 0.003, res.Start[1], 1e-12)
	assert.Nil(t, res.End)
	require.NotNil(t, res.StartCell)
	assert.Equal(t, 3, res.StartCell.Count)
	assert.Equal(t, 0.0, res.StartCell.MedianSpeed)
	assert.True(t, res.Persistable())
	assert.Len(t, res.StationaryCells(), 1)
}

func TestEstimate_TwoStationaryCells(t *testing.T) {
	g, err := grid.Build(orb.Bound{Min: orb.Point{-43.3, -22.95}, Max: orb.Point{-43.2, -22.90}}, 20)
	require.NoError(t, err)
	e := NewEstimator(g, time.UTC)

	lat := -22.9475
	a := orb.Point{-43.2975, lat}
	b := orb.Point{a[0] + 500/(metersPerDegree*math.Cos(lat*math.Pi/180)), lat}

	var samples []positions.Sample
	samples = append(samples, repeat(10, sampleAt(a[0], a[1], 0, 5))...)
	samples = append(samples, repeat(4, sampleAt(b[0], b[1], 0, 22))...)
	samples = append(samples, repeat(5, sampleAt(-43.25, -22.92, 30, 12))...)

	res := e.Estimate("232", samples)
	require.Equal(t, StatusDetermined, res.Status)
	assert.NoError(t, res.Reason)
	require.NotNil(t, res.Start)
	require.NotNil(t, res.End)
	assert.InDelta(t, a[0], res.Start[0], 1e-9)
	assert.InDelta(t, b[0], res.End[0], 1e-9)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 4, res.Candidates[0].Count)
	assert.InDelta(t, 500, res.Candidates[0].DistanceFromStart, 1)
	assert.Equal(t, 19, res.Samples)
	assert.Len(t, res.StationaryCells(), 2)
	assert.False(t, res.Degenerate)
}

func TestEstimate_NoStationaryCells(t *testing.T) {
	e := NewEstimator(testGrid(t), time.UTC)
	samples := []positions.Sample{
		sampleAt(0.002, 0.002, 10, 6),
		sampleAt(0.012, 0.002, 3, 6),
		sampleAt(0.012, 0.012, 1, 6),
	}

	res := e.Estimate("315", samples)
	assert.Equal(t, StatusInconclusive, res.Status)
	assert.ErrorIs(t, res.Reason, ErrNoStationaryCandidate)
	assert.Nil(t, res.Start)
	assert.Nil(t, res.End)
	assert.False(t, res.Persistable())
}

func TestEstimate_NoUsableSamples(t *testing.T) {
	e := NewEstimator(testGrid(t), time.UTC)
	bad := sampleAt(math.NaN(), 0.001, 0, 6)
	outside := sampleAt(5, 5, 0, 6)

	res := e.Estimate("553", []positions.Sample{bad, outside})
	assert.Equal(t, StatusInconclusive, res.Status)
	assert.ErrorIs(t, res.Reason, ErrEmptyLineInput)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1, res.Unmatched)

	res = e.Estimate("553", nil)
	assert.ErrorIs(t, res.Reason, ErrEmptyLineInput)
}

func TestEstimate_MalformedSamplesSkipped(t *testing.T) {
	e := NewEstimator(testGrid(t), time.UTC)
	samples := []positions.Sample{
		sampleAt(0.002, 0.002, 0, 6),
		sampleAt(0.002, math.NaN(), 0, 6),
		sampleAt(0.002, 0.004, 0, 6),
		sampleAt(0.015, 0.015, 0, 6),
	}

	res := e.Estimate("100", samples)
	assert.Equal(t, StatusDetermined, res.Status)
	assert.Equal(t, 1, res.Malformed)
	require.NotNil(t, res.StartCell)
	assert.Equal(t, 2, res.StartCell.Count)
}

type fakeSource struct {
	samples map[string][]positions.Sample
	fail    map[string]error
}

func (f *fakeSource) LineSamples(ctx context.Context, line string) ([]positions.Sample, error) {
	if err := f.fail[line]; err != nil {
		return nil, err
	}
	return f.samples[line], nil
}

func (f *fakeSource) Lines(ctx context.Context) ([]string, error) {
	var out []string
	for line := range f.samples {
		out = append(out, line)
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	results map[string]Result
	err     error
}

func (f *fakeStore) UpsertTerminal(ctx context.Context, res Result) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string]Result)
	}
	f.results[res.LineID] = res
	return nil
}

func (f *fakeStore) DeleteTerminal(ctx context.Context, lineID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.results[lineID]
	delete(f.results, lineID)
	return ok, nil
}

func runnerFixture(t *testing.T) *fakeSource {
	t.Helper()
	return &fakeSource{samples: map[string][]positions.Sample{
		"determined": {
			sampleAt(0.002, 0.002, 0, 6),
			sampleAt(0.003, 0.002, 0, 6),
			sampleAt(0.015, 0.015, 0, 18),
		},
		"start-only": {
			sampleAt(0.002, 0.002, 0, 6),
		},
		"moving": {
			sampleAt(0.002, 0.002, 20, 6),
		},
		"empty": nil,
	}}
}

func TestRunner_Run(t *testing.T) {
	src := runnerFixture(t)
	store := &fakeStore{}
	started := time.Date(2024, 5, 12, 8, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(started)
	clock.AutoStep(time.Second)
	r := &Runner{Source: src, Store: store, Estimator: NewEstimator(testGrid(t), time.UTC), Workers: 2, Clock: clock}

	lines := []string{"determined", "start-only", "moving", "empty"}
	sum, err := r.Run(context.Background(), lines)
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, started, sum.Started)
	assert.Equal(t, started.Add(time.Second), sum.Finished)
	assert.Equal(t, 1, sum.Determined)
	assert.Equal(t, 1, sum.InconclusiveEnd)
	assert.Equal(t, 2, sum.Inconclusive)
	assert.Equal(t, 2, sum.Persisted)
	assert.Zero(t, sum.Cleared)
	require.Len(t, sum.Results, 4)
	for i, line := range lines {
		assert.Equal(t, line, sum.Results[i].LineID)
	}

	assert.Len(t, store.results, 2)
	assert.Contains(t, store.results, "determined")
	assert.Contains(t, store.results, "start-only")
	assert.NotContains(t, store.results, "moving")
}

func TestRunner_InconclusiveRerunClearsStoredResult(t *testing.T) {
	src := runnerFixture(t)
	stale := orb.Point{0.0025, 0.0025}
	store := &fakeStore{results: map[string]Result{
		"moving":     {LineID: "moving", Start: &stale, Status: StatusInconclusiveEnd},
		"start-only": {LineID: "start-only", Start: &stale, End: &stale, Status: StatusDetermined},
	}}
	r := &Runner{Source: src, Store: store, Estimator: NewEstimator(testGrid(t), time.UTC)}

	sum, err := r.Run(context.Background(), []string{"moving", "empty", "start-only"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Cleared, "only moving had a stored result")
	assert.Equal(t, 1, sum.Persisted)

	assert.NotContains(t, store.results, "moving")
	require.Contains(t, store.results, "start-only")
	assert.Equal(t, StatusInconclusiveEnd, store.results["start-only"].Status)
	assert.Nil(t, store.results["start-only"].End)
}

func TestRunner_ClearFailureIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	r := &Runner{
		Source:    runnerFixture(t),
		Store:     &fakeStore{err: boom},
		Estimator: NewEstimator(testGrid(t), time.UTC),
	}
	_, err := r.Run(context.Background(), []string{"moving"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "clear terminals for line moving")
}

func TestRunner_SourceFailureIsReturned(t *testing.T) {
	src := runnerFixture(t)
	boom := errors.New("connection refused")
	src.fail = map[string]error{"moving": boom}

	r := &Runner{Source: src, Estimator: NewEstimator(testGrid(t), time.UTC), Workers: 1}
	_, err := r.Run(context.Background(), []string{"determined", "moving", "start-only"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "line moving")
}

func TestRunner_StoreFailureIsReturned(t *testing.T) {
	boom := errors.New("disk full")
	r := &Runner{
		Source:    runnerFixture(t),
		Store:     &fakeStore{err: boom},
		Estimator: NewEstimator(testGrid(t), time.UTC),
	}
	_, err := r.Run(context.Background(), []string{"determined"})
	assert.ErrorIs(t, err, boom)
}

func TestRunner_NilStoreSkipsPersistence(t *testing.T) {
	r := &Runner{Source: runnerFixture(t), Estimator: NewEstimator(testGrid(t), time.UTC)}
	sum, err := r.Run(context.Background(), []string{"determined"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Determined)
	assert.Zero(t, sum.Persisted)
}

func TestLines(t *testing.T) {
	ctx := context.Background()
	got, err := Lines(ctx, []string{"9", "1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "1"}, got, "explicit order is kept")

	got, err = Lines(ctx, nil, runnerFixture(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"determined", "empty", "moving", "start-only"}, got)

	_, err = Lines(ctx, nil, nil)
	assert.Error(t, err)
}
