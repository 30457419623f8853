package terminals

import "gonum.org/v1/gonum/floats"

// Normalize min-max scales values into [0,1]. When every value is equal the
// result is all zeros, so a flat dimension never decides a ranking.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}
