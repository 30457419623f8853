package positions

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeVehiclePositions turns the vehicle entities of a GTFS-RT feed into
// records. The route id is used as the line id. Entities without a route or
// a position are reported in errs and skipped. When a vehicle carries no
// timestamp the feed header time is used.
func DecodeVehiclePositions(data []byte, origin string) (records []Record, errs []error) {
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, []error{fmt.Errorf("failed to unmarshal feed: %w", err)}
	}

	headerTS := feed.GetHeader().GetTimestamp()
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}
		routeID := vp.GetTrip().GetRouteId()
		if routeID == "" {
			errs = append(errs, fmt.Errorf("entity %s: missing route id", entity.GetId()))
			continue
		}
		pos := vp.GetPosition()
		if pos == nil {
			errs = append(errs, fmt.Errorf("entity %s: missing position", entity.GetId()))
			continue
		}

		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		if ts == 0 {
			errs = append(errs, fmt.Errorf("entity %s: missing timestamp", entity.GetId()))
			continue
		}
		when := time.Unix(int64(ts), 0).UTC()

		vehicle := vp.GetVehicle().GetId()
		if vehicle == "" {
			vehicle = entity.GetId()
		}

		records = append(records, Record{
			ID:         RecordID(vehicle, when),
			Vehicle:    vehicle,
			LineID:     routeID,
			Speed:      float64(pos.GetSpeed()),
			Timestamp:  when,
			SentAt:     when,
			ReceivedAt: when,
			Longitude:  float64(pos.GetLongitude()),
			Latitude:   float64(pos.GetLatitude()),
			Origin:     origin,
		})
	}
	return records, errs
}

// LoadVehiclePositionsFile reads a serialized GTFS-RT feed from disk.
func LoadVehiclePositionsFile(path, origin string) ([]Record, []error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, []error{err}
	}
	return DecodeVehiclePositions(data, origin)
}
