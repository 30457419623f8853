package visualiser

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/busterminals/internal/terminals"
)

// Feature roles written to the "role" property.
const (
	RoleStart     = "start"
	RoleEnd       = "end"
	RoleCandidate = "candidate"
	RoleStartCell = "start_cell"
	RoleRoute     = "route"
)

// GeoJSON exports res as a feature collection: the start and end points,
// the start cell and candidate cell polygons with their scores, and the route
// cells. Collection order is start, end, start cell, candidates by rank, route.
func GeoJSON(res terminals.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if res.Start != nil {
		f := geojson.NewFeature(*res.Start)
		f.Properties["role"] = RoleStart
		f.Properties["line_id"] = res.LineID
		f.Properties["status"] = string(res.Status)
		fc.Append(f)
	}
	if res.End != nil {
		f := geojson.NewFeature(*res.End)
		f.Properties["role"] = RoleEnd
		f.Properties["line_id"] = res.LineID
		f.Properties["degenerate"] = res.Degenerate
		fc.Append(f)
	}
	if res.StartCell != nil {
		fc.Append(cellFeature(*res.StartCell, RoleStartCell))
	}
	for i, c := range res.Candidates {
		f := cellFeature(c.CellStats, RoleCandidate)
		f.Properties["rank"] = i + 1
		f.Properties["distance_from_start"] = c.DistanceFromStart
		f.Properties["normalized_count"] = c.NormalizedCount
		f.Properties["normalized_distance"] = c.NormalizedDistance
		f.Properties["score"] = c.Score
		fc.Append(f)
	}
	for _, c := range res.RouteCells {
		fc.Append(cellFeature(c, RoleRoute))
	}
	return fc
}

func cellFeature(c terminals.CellStats, role string) *geojson.Feature {
	f := geojson.NewFeature(c.Bound.ToPolygon())
	f.ID = c.GridID
	f.Properties["role"] = role
	f.Properties["grid_id"] = c.GridID
	f.Properties["count"] = c.Count
	f.Properties["median_hour"] = c.MedianHour
	f.Properties["median_speed"] = c.MedianSpeed
	f.Properties["centroid"] = []float64{c.Centroid.Lon(), c.Centroid.Lat()}
	return f
}

// GeoJSONFileName is the file name of the GeoJSON export of lineID.
func GeoJSONFileName(lineID string) string {
	return "endpoints_" + safeName(lineID) + ".geojson"
}

// WriteGeoJSONFile writes the GeoJSON export of res into dir and returns its
// path.
func WriteGeoJSONFile(dir string, res terminals.Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create geojson dir: %w", err)
	}
	data, err := GeoJSON(res).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode geojson for line %s: %w", res.LineID, err)
	}
	path := filepath.Join(dir, GeoJSONFileName(res.LineID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write geojson: %w", err)
	}
	return path, nil
}
