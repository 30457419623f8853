package terminals

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Distance returns the great-circle distance in meters between two lon/lat
// points.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}
