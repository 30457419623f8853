// Package visualiser renders inferred terminals for inspection: an
// interactive HTML map, a static PNG plot and a GeoJSON export.
package visualiser

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/paulmach/orb"

	"github.com/banshee-data/busterminals/internal/terminals"
)

// Series colours shared by the HTML map and the PNG plot.
const (
	routeColour     = "#9e9e9e"
	candidateColour = "#1f77b4"
	startColour     = "#2ca02c"
	endColour       = "#d62728"
)

// RenderMap writes a self-contained HTML scatter map of res: route cells,
// ranked end candidates, and the chosen start and end.
func RenderMap(w io.Writer, res terminals.Result) error {
	route := make([]opts.ScatterData, 0, len(res.RouteCells))
	for _, c := range res.RouteCells {
		route = append(route, opts.ScatterData{
			Name:  fmt.Sprintf("cell %d", c.GridID),
			Value: []interface{}{c.Centroid.Lon(), c.Centroid.Lat(), c.Count},
		})
	}

	candidates := make([]opts.ScatterData, 0, len(res.Candidates))
	for i, c := range res.Candidates {
		candidates = append(candidates, opts.ScatterData{
			Name:  fmt.Sprintf("#%d cell %d score %.3f", i+1, c.GridID, c.Score),
			Value: []interface{}{c.Centroid.Lon(), c.Centroid.Lat(), c.Score},
		})
	}

	var start, end []opts.ScatterData
	if res.Start != nil {
		start = append(start, opts.ScatterData{Name: "start", Value: []interface{}{res.Start.Lon(), res.Start.Lat()}})
	}
	if res.End != nil {
		end = append(end, opts.ScatterData{Name: "end", Value: []interface{}{res.End.Lon(), res.End.Lat()}})
	}

	b, ok := extent(res)
	if !ok {
		return fmt.Errorf("line %s: nothing to draw", res.LineID)
	}
	b = b.Pad(math.Max(b.Max.Lon()-b.Min.Lon(), b.Max.Lat()-b.Min.Lat())*0.05 + 0.001)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Terminals of line " + res.LineID, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Line " + res.LineID, Subtitle: fmt.Sprintf("status=%s samples=%d candidates=%d", res.Status, res.Samples, len(res.Candidates))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: round6(b.Min.Lon()), Max: round6(b.Max.Lon()), Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: round6(b.Min.Lat()), Max: round6(b.Max.Lat()), Name: "Latitude", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("route", route,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: routeColour}),
	)
	scatter.AddSeries("candidates", candidates,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: candidateColour}),
	)
	scatter.AddSeries("start", start,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: startColour}),
	)
	scatter.AddSeries("end", end,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: endColour}),
	)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("render map for line %s: %w", res.LineID, err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// MapFileName is the file name of the HTML map of lineID.
func MapFileName(lineID string) string {
	return "endpoints_map_" + safeName(lineID) + ".html"
}

// WriteMapFile renders the map of res into dir and returns its path.
func WriteMapFile(dir string, res terminals.Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create map dir: %w", err)
	}
	var buf bytes.Buffer
	if err := RenderMap(&buf, res); err != nil {
		return "", err
	}
	path := filepath.Join(dir, MapFileName(res.LineID))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write map: %w", err)
	}
	return path, nil
}

// extent bounds every point drawn for res.
func extent(res terminals.Result) (orb.Bound, bool) {
	var pts []orb.Point
	if res.Start != nil {
		pts = append(pts, *res.Start)
	}
	if res.End != nil {
		pts = append(pts, *res.End)
	}
	for _, c := range res.Candidates {
		pts = append(pts, c.Centroid)
	}
	for _, c := range res.RouteCells {
		pts = append(pts, c.Centroid)
	}
	if len(pts) == 0 {
		return orb.Bound{}, false
	}
	b := pts[0].Bound()
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	return b, true
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
