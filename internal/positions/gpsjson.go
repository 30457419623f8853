package positions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Origin labels for raw GPS day folders.
const (
	OriginHistory  = "historico"
	OriginTraining = "treino"
	OriginFinal    = "final"
)

// Record is one raw GPS ping as stored by the importer.
type Record struct {
	ID         string    `json:"id"`
	Vehicle    string    `json:"vehicle"`
	LineID     string    `json:"line_id"`
	Speed      float64   `json:"speed"`
	Timestamp  time.Time `json:"timestamp"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
	Longitude  float64   `json:"longitude"`
	Latitude   float64   `json:"latitude"`
	Origin     string    `json:"origin"`
}

// Sample projects the record onto the fields terminal inference needs.
func (r Record) Sample() Sample {
	return Sample{
		LineID:    r.LineID,
		Longitude: r.Longitude,
		Latitude:  r.Latitude,
		Timestamp: r.Timestamp,
		Speed:     r.Speed,
	}
}

// RecordID derives a stable id from the vehicle and its ping time, so that
// re-importing the same export does not create duplicates.
func RecordID(vehicle string, ts time.Time) string {
	key := vehicle + "_" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(key)).String()
}

// OriginForFolder maps a YYYY-MM-DD day folder to its dataset label.
func OriginForFolder(name string) string {
	switch {
	case name < "2024-05-11":
		return OriginHistory
	case name < "2024-05-16":
		return OriginTraining
	default:
		return OriginFinal
	}
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type rawGPS struct {
	Vehicle    flexString `json:"ordem"`
	Line       flexString `json:"linha"`
	Speed      flexString `json:"velocidade"`
	Latitude   flexString `json:"latitude"`
	Longitude  flexString `json:"longitude"`
	Timestamp  flexString `json:"datahora"`
	SentAt     flexString `json:"datahoraenvio"`
	ReceivedAt flexString `json:"datahoraservidor"`
}

// ParseDecimal parses a number that may use a decimal comma ("-22,87").
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// ParseMillis parses an epoch-milliseconds timestamp.
func ParseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r rawGPS) record(origin string) (Record, error) {
	if r.Vehicle == "" {
		return Record{}, fmt.Errorf("missing ordem")
	}
	if r.Line == "" {
		return Record{}, fmt.Errorf("missing linha")
	}

	speed := 0.0
	if r.Speed != "" {
		v, err := ParseDecimal(string(r.Speed))
		if err != nil {
			return Record{}, fmt.Errorf("velocidade: %w", err)
		}
		speed = v
	}
	lat, err := ParseDecimal(string(r.Latitude))
	if err != nil {
		return Record{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := ParseDecimal(string(r.Longitude))
	if err != nil {
		return Record{}, fmt.Errorf("longitude: %w", err)
	}
	ts, err := ParseMillis(string(r.Timestamp))
	if err != nil {
		return Record{}, fmt.Errorf("datahora: %w", err)
	}
	sent, err := ParseMillis(string(r.SentAt))
	if err != nil {
		return Record{}, fmt.Errorf("datahoraenvio: %w", err)
	}
	received, err := ParseMillis(string(r.ReceivedAt))
	if err != nil {
		return Record{}, fmt.Errorf("datahoraservidor: %w", err)
	}

	return Record{
		ID:         RecordID(string(r.Vehicle), ts),
		Vehicle:    string(r.Vehicle),
		LineID:     string(r.Line),
		Speed:      speed,
		Timestamp:  ts,
		SentAt:     sent,
		ReceivedAt: received,
		Longitude:  lon,
		Latitude:   lat,
		Origin:     origin,
	}, nil
}

// ParseGPS decodes a JSON array of raw GPS pings. Entries that fail to parse
// are reported in errs and skipped; duplicates (same id) keep the last value
// at the position of the first occurrence.
func ParseGPS(r io.Reader, origin string) (records []Record, errs []error) {
	var raw []rawGPS
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, []error{fmt.Errorf("decode gps json: %w", err)}
	}

	seen := make(map[string]int, len(raw))
	for i, entry := range raw {
		rec, err := entry.record(origin)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if at, ok := seen[rec.ID]; ok {
			records[at] = rec
			continue
		}
		seen[rec.ID] = len(records)
		records = append(records, rec)
	}
	return records, errs
}

// LoadGPSFile reads and parses one raw GPS export file.
func LoadGPSFile(path, origin string) ([]Record, []error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()

	records, errs := ParseGPS(f, origin)
	for i, err := range errs {
		errs[i] = fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, errs
}
