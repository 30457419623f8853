package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// DefaultColumns is the column count used for city-scale bounding boxes.
const DefaultColumns = 1500

// MaxCells caps the cells of one grid. Each cell costs about 140 bytes with
// its index entry, so the cap keeps a grid under roughly 600 MB. The default
// Rio grid has about 1.1 million cells.
const MaxCells = 4_000_000

// Cell is one rectangle of the grid.
type Cell struct {
	ID    int       `json:"id"`
	Bound orb.Bound `json:"bound"`
}

// Center returns the geometric center of the cell.
func (c Cell) Center() orb.Point {
	return c.Bound.Center()
}

// Grid is an immutable uniform tiling of a bounding box.
type Grid struct {
	bound    orb.Bound
	cellSize float64
	cols     int
	rows     int
	cells    []Cell
	index    rtree.RTree
}

// Build tiles bound with square cells of size (xmax-xmin)/n. The grid has n
// columns and enough rows to cover ymax; the last column and row are widened
// when floating-point rounding would otherwise leave them short of the box.
func Build(bound orb.Bound, n int) (*Grid, error) {
	cols, rows, err := Dimensions(bound, n)
	if err != nil {
		return nil, err
	}
	xmin, ymin := bound.Min[0], bound.Min[1]
	xmax, ymax := bound.Max[0], bound.Max[1]
	cellSize := (xmax - xmin) / float64(n)

	g := &Grid{
		bound:    bound,
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    make([]Cell, 0, n*rows),
	}

	for col := 0; col < n; col++ {
		x0 := xmin + float64(col)*cellSize
		x1 := xmin + float64(col+1)*cellSize
		if col == n-1 && x1 < xmax {
			x1 = xmax
		}
		for row := 0; row < rows; row++ {
			y0 := ymin + float64(row)*cellSize
			y1 := ymin + float64(row+1)*cellSize
			if row == rows-1 && y1 < ymax {
				y1 = ymax
			}
			c := Cell{
				ID:    len(g.cells),
				Bound: orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}},
			}
			g.cells = append(g.cells, c)
			g.index.Insert([2]float64{x0, y0}, [2]float64{x1, y1}, c.ID)
		}
	}

	return g, nil
}

// Dimensions returns the column and row counts Build would use for bound
// and n, without allocating. It fails on the inputs Build rejects, including
// grids larger than MaxCells.
func Dimensions(bound orb.Bound, n int) (cols, rows int, err error) {
	if n < 1 {
		return 0, 0, fmt.Errorf("grid column count must be >= 1, got %d", n)
	}
	for _, v := range []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, errors.New("grid bounding box must be finite")
		}
	}
	xmin, ymin := bound.Min[0], bound.Min[1]
	xmax, ymax := bound.Max[0], bound.Max[1]
	if xmax <= xmin {
		return 0, 0, fmt.Errorf("grid bounding box has empty x-range [%v, %v]", xmin, xmax)
	}
	if ymax < ymin {
		return 0, 0, fmt.Errorf("grid bounding box has inverted y-range [%v, %v]", ymin, ymax)
	}

	cellSize := (xmax - xmin) / float64(n)
	fr := math.Max(1, math.Ceil((ymax-ymin)/cellSize))
	if total := float64(n) * fr; total > MaxCells {
		return 0, 0, fmt.Errorf("grid of %d columns over %v would have %.0f cells, limit is %d", n, bound, total, MaxCells)
	}
	return n, int(fr), nil
}

// Locate returns the cell containing p. Edges are inclusive; when p lies on
// an edge shared by several cells the lowest id wins. ok is false when p is
// outside the grid.
func (g *Grid) Locate(p orb.Point) (Cell, bool) {
	best := -1
	g.index.Search([2]float64{p[0], p[1]}, [2]float64{p[0], p[1]},
		func(min, max [2]float64, data interface{}) bool {
			id := data.(int)
			if best < 0 || id < best {
				best = id
			}
			return true
		},
	)
	if best < 0 {
		return Cell{}, false
	}
	return g.cells[best], true
}

// Cell returns the cell with the given id.
func (g *Grid) Cell(id int) (Cell, bool) {
	if id < 0 || id >= len(g.cells) {
		return Cell{}, false
	}
	return g.cells[id], true
}

// Cells returns a copy of all cells in id order.
func (g *Grid) Cells() []Cell {
	out := make([]Cell, len(g.cells))
	copy(out, g.cells)
	return out
}

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// CellSize returns the edge length of a cell in degrees.
func (g *Grid) CellSize() float64 { return g.cellSize }

// Dims returns the column and row counts.
func (g *Grid) Dims() (cols, rows int) { return g.cols, g.rows }

// Bound returns the nominal bounding box the grid was built for.
func (g *Grid) Bound() orb.Bound { return g.bound }

// Extent returns the area actually covered by the cells, which may reach
// past the nominal bounding box on the y-axis.
func (g *Grid) Extent() orb.Bound {
	first := g.cells[0].Bound
	last := g.cells[len(g.cells)-1].Bound
	return orb.Bound{Min: first.Min, Max: last.Max}
}
