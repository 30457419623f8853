package terminals

import "sort"

// Selection is the outcome of ranking one line's stationary cells.
type Selection struct {
	Start CellStats
	// End is nil when only the start cell was available.
	End *Candidate
	// Ranked holds every non-start candidate, best score first.
	Ranked []Candidate
	// Degenerate is set when two or more candidates remained and all of them
	// scored the same, so the tie-break alone picked the end.
	Degenerate bool
}

// SelectEndpoints picks the terminal pair among stationary cells.
//
// The start is the cell with the highest count. Every other cell is scored
// by its min-max normalized count plus its min-max normalized distance from
// the start, and the best score is the end. Ties at both steps go to the
// lowest grid id, so the result does not depend on input order.
//
// An empty input returns ErrNoStationaryCandidate. A single cell returns the
// start with ErrSingleCandidate.
func SelectEndpoints(cands []CellStats) (Selection, error) {
	if len(cands) == 0 {
		return Selection{}, ErrNoStationaryCandidate
	}

	start := cands[0]
	for _, c := range cands[1:] {
		if c.Count > start.Count || (c.Count == start.Count && c.GridID < start.GridID) {
			start = c
		}
	}

	rest := make([]Candidate, 0, len(cands)-1)
	for _, c := range cands {
		if c.GridID == start.GridID {
			continue
		}
		rest = append(rest, Candidate{CellStats: c})
	}
	sel := Selection{Start: start}
	if len(rest) == 0 {
		return sel, ErrSingleCandidate
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].GridID < rest[j].GridID })

	counts := make([]float64, len(rest))
	dists := make([]float64, len(rest))
	for i := range rest {
		rest[i].DistanceFromStart = Distance(rest[i].Centroid, start.Centroid)
		counts[i] = float64(rest[i].Count)
		dists[i] = rest[i].DistanceFromStart
	}
	normCounts := Normalize(counts)
	normDists := Normalize(dists)
	for i := range rest {
		rest[i].NormalizedCount = normCounts[i]
		rest[i].NormalizedDistance = normDists[i]
		rest[i].Score = normCounts[i] + normDists[i]
	}

	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Score != rest[j].Score {
			return rest[i].Score > rest[j].Score
		}
		return rest[i].GridID < rest[j].GridID
	})

	sel.Ranked = rest
	end := rest[0]
	sel.End = &end
	if len(rest) > 1 {
		sel.Degenerate = true
		for _, c := range rest[1:] {
			if c.Score != end.Score {
				sel.Degenerate = false
				break
			}
		}
	}
	return sel, nil
}
