package terminals

// FilterStationary keeps the cells whose median speed is zero: places where
// vehicles of the line mostly sit idle. The input order is preserved.
func FilterStationary(stats []CellStats) []CellStats {
	var out []CellStats
	for _, s := range stats {
		if s.MedianSpeed == 0 {
			out = append(out, s)
		}
	}
	return out
}

// RouteCells returns the busy moving cells of a line: count strictly above
// the median count of all its cells and a positive median speed. They trace
// the route between the terminals on maps.
func RouteCells(stats []CellStats) []CellStats {
	if len(stats) == 0 {
		return nil
	}
	counts := make([]float64, len(stats))
	for i, s := range stats {
		counts[i] = float64(s.Count)
	}
	threshold := median(counts)

	var out []CellStats
	for _, s := range stats {
		if float64(s.Count) > threshold && s.MedianSpeed > 0 {
			out = append(out, s)
		}
	}
	return out
}
