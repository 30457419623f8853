package visualiser

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/busterminals/internal/terminals"
)

var (
	routeRGBA     = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 255}
	candidateRGBA = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	startRGBA     = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}
	endRGBA       = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}
)

// WritePlot draws res as a static lon/lat scatter in the given image format
// ("png", "svg", "pdf").
func WritePlot(w io.Writer, res terminals.Result, format string) error {
	if _, ok := extent(res); !ok {
		return fmt.Errorf("line %s: nothing to draw", res.LineID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Line %s (%s)", res.LineID, res.Status)
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Add(plotter.NewGrid())

	route := make(plotter.XYs, 0, len(res.RouteCells))
	for _, c := range res.RouteCells {
		route = append(route, plotter.XY{X: c.Centroid.Lon(), Y: c.Centroid.Lat()})
	}
	cands := make(plotter.XYs, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		cands = append(cands, plotter.XY{X: c.Centroid.Lon(), Y: c.Centroid.Lat()})
	}

	if err := addScatter(p, "route", route, routeRGBA, draw.CircleGlyph{}, 2); err != nil {
		return err
	}
	if err := addScatter(p, "candidates", cands, candidateRGBA, draw.CircleGlyph{}, 3); err != nil {
		return err
	}
	if res.Start != nil {
		pts := plotter.XYs{{X: res.Start.Lon(), Y: res.Start.Lat()}}
		if err := addScatter(p, "start", pts, startRGBA, draw.TriangleGlyph{}, 6); err != nil {
			return err
		}
	}
	if res.End != nil {
		pts := plotter.XYs{{X: res.End.Lon(), Y: res.End.Lat()}}
		if err := addScatter(p, "end", pts, endRGBA, draw.SquareGlyph{}, 6); err != nil {
			return err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, format)
	if err != nil {
		return fmt.Errorf("plot line %s: %w", res.LineID, err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotFileName is the file name of the PNG plot of lineID.
func PlotFileName(lineID string) string {
	return "endpoints_plot_" + safeName(lineID) + ".png"
}

// SavePlot writes the plot of res to path; the extension picks the format.
func SavePlot(path string, res terminals.Result) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = "png"
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	if err := WritePlot(f, res, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func addScatter(p *plot.Plot, name string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer, radius float64) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s scatter: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(radius)
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}
