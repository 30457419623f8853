// Package positions defines vehicle position samples and the decoders that
// produce them from raw GPS exports and GTFS-RT feeds.
package positions

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Sample is one vehicle position ping. Longitude and latitude are WGS84
// degrees; Speed is in the unit of the upstream feed and only its zero-ness
// matters to terminal inference.
type Sample struct {
	LineID    string    `json:"line_id"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
}

// Point returns the sample position as an orb point (x = longitude).
func (s Sample) Point() orb.Point {
	return orb.Point{s.Longitude, s.Latitude}
}

// MalformedSampleError reports a sample that failed field validation.
type MalformedSampleError struct {
	Index  int    // position of the sample in its input slice
	Field  string // offending field name
	Reason string
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("sample %d: invalid %s: %s", e.Index, e.Field, e.Reason)
}

// Validate checks the fields of s. idx is recorded in the returned error.
func Validate(idx int, s Sample) *MalformedSampleError {
	switch {
	case math.IsNaN(s.Longitude) || math.IsInf(s.Longitude, 0):
		return &MalformedSampleError{Index: idx, Field: "longitude", Reason: "not a finite number"}
	case s.Longitude < -180 || s.Longitude > 180:
		return &MalformedSampleError{Index: idx, Field: "longitude", Reason: fmt.Sprintf("%v out of range", s.Longitude)}
	case math.IsNaN(s.Latitude) || math.IsInf(s.Latitude, 0):
		return &MalformedSampleError{Index: idx, Field: "latitude", Reason: "not a finite number"}
	case s.Latitude < -90 || s.Latitude > 90:
		return &MalformedSampleError{Index: idx, Field: "latitude", Reason: fmt.Sprintf("%v out of range", s.Latitude)}
	case s.Timestamp.IsZero():
		return &MalformedSampleError{Index: idx, Field: "timestamp", Reason: "missing"}
	case math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0):
		return &MalformedSampleError{Index: idx, Field: "speed", Reason: "not a finite number"}
	case s.Speed < 0:
		return &MalformedSampleError{Index: idx, Field: "speed", Reason: fmt.Sprintf("negative value %v", s.Speed)}
	}
	return nil
}

// Partition splits samples into the valid subset and the list of validation
// failures. The order of valid samples is preserved.
func Partition(samples []Sample) ([]Sample, []*MalformedSampleError) {
	valid := make([]Sample, 0, len(samples))
	var errs []*MalformedSampleError
	for i, s := range samples {
		if err := Validate(i, s); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, s)
	}
	return valid, errs
}
