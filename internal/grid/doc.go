// Package grid owns the uniform rectangular grid that position samples are
// binned into.
//
// A Grid is built once per process from a bounding box and a column count and
// is never mutated afterwards, so it may be shared across goroutines without
// locking. Cells are square: the cell size is derived from the x-range and
// reused on the y-axis, with as many rows as needed to reach the top of the
// bounding box.
//
// Cell ids are assigned column-major (x outer, y inner). Point lookup uses
// closed rectangles and resolves shared edges to the lowest matching id, so
// every point inside the bounding box belongs to exactly one cell.
package grid
