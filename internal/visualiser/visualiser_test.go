package visualiser

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/busterminals/internal/terminals"
)

func fixtureResult() terminals.Result {
	start := orb.Point{-43.2975, -22.9475}
	end := orb.Point{-43.2526, -22.9275}
	cell := func(id int, at orb.Point, count int) terminals.CellStats {
		return terminals.CellStats{
			GridID:   id,
			Bound:    orb.Bound{Min: orb.Point{at[0] - 0.0025, at[1] - 0.0025}, Max: orb.Point{at[0] + 0.0025, at[1] + 0.0025}},
			Centroid: at,
			Count:    count,
		}
	}
	startCell := cell(0, start, 10)
	return terminals.Result{
		LineID:    "232",
		Start:     &start,
		End:       &end,
		Status:    terminals.StatusDetermined,
		StartCell: &startCell,
		Candidates: []terminals.Candidate{
			{CellStats: cell(94, end, 6), DistanceFromStart: 5100, NormalizedDistance: 1, Score: 1},
			{CellStats: cell(41, orb.Point{-43.28, -22.94}, 2), DistanceFromStart: 2000, Score: 0.3},
		},
		RouteCells: []terminals.CellStats{
			cell(60, orb.Point{-43.27, -22.93}, 30),
			cell(61, orb.Point{-43.265, -22.93}, 28),
		},
		Samples: 76,
	}
}

func TestRenderMap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderMap(&buf, fixtureResult()))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Terminals of line 232")
	for _, series := range []string{"route", "candidates", "start", "end"} {
		assert.Contains(t, out, series)
	}
	assert.Contains(t, out, "-43.2975")
}

func TestRenderMap_StartOnly(t *testing.T) {
	start := orb.Point{-43.1, -22.8}
	res := terminals.Result{LineID: "100", Start: &start, Status: terminals.StatusInconclusiveEnd}

	var buf bytes.Buffer
	require.NoError(t, RenderMap(&buf, res))
	assert.Contains(t, buf.String(), "inconclusive-end")
}

func TestRenderMap_Empty(t *testing.T) {
	err := RenderMap(&bytes.Buffer{}, terminals.Result{LineID: "315", Status: terminals.StatusInconclusive})
	assert.Error(t, err)
}

func TestWriteMapFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "maps")
	path, err := WriteMapFile(dir, fixtureResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "endpoints_map_232.html"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestMapFileName(t *testing.T) {
	assert.Equal(t, "endpoints_map_232.html", MapFileName("232"))
	assert.Equal(t, "endpoints_map_SV_232.html", MapFileName("SV/232"))
	assert.Equal(t, "endpoints_map_LECD101.html", MapFileName("LECD101"))
}

func TestWritePlot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlot(&buf, fixtureResult(), "png"))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "output is a PNG")

	assert.Error(t, WritePlot(&bytes.Buffer{}, terminals.Result{LineID: "x"}, "png"))
}

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "232.png")
	require.NoError(t, SavePlot(path, fixtureResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestGeoJSON(t *testing.T) {
	res := fixtureResult()
	fc := GeoJSON(res)

	// start, end, start cell, two candidates, two route cells
	require.Len(t, fc.Features, 7)
	assert.Equal(t, RoleStart, fc.Features[0].Properties["role"])
	assert.Equal(t, *res.Start, fc.Features[0].Geometry)
	assert.Equal(t, RoleEnd, fc.Features[1].Properties["role"])
	assert.Equal(t, RoleStartCell, fc.Features[2].Properties["role"])

	first := fc.Features[3]
	assert.Equal(t, RoleCandidate, first.Properties["role"])
	assert.Equal(t, 1, first.Properties["rank"])
	assert.Equal(t, 94, first.Properties["grid_id"])
	assert.Equal(t, 1.0, first.Properties["score"])
	poly, ok := first.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Equal(t, res.Candidates[0].Bound, poly.Bound())

	assert.Equal(t, RoleRoute, fc.Features[6].Properties["role"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	back, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, back.Features, 7)
}

func TestWriteGeoJSONFile(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteGeoJSONFile(dir, fixtureResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "endpoints_232.geojson"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 7)
}

func TestPlotFileName(t *testing.T) {
	assert.Equal(t, "endpoints_plot_SV_232.png", PlotFileName("SV/232"))
}

func TestGeoJSON_Inconclusive(t *testing.T) {
	fc := GeoJSON(terminals.Result{LineID: "315", Status: terminals.StatusInconclusive})
	assert.Empty(t, fc.Features)
}
