// Package pgstore reads bus positions from, and writes inferred terminals to,
// a PostGIS database.
//
// Positions come from the vw_gps_filtrado view (linha, geom, datahora,
// velocidade). Terminals go to bus_end_points keyed by linha, with start and
// end stored as SRID 4326 points.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/banshee-data/busterminals/internal/positions"
	"github.com/banshee-data/busterminals/internal/terminals"
)

// SRID is the spatial reference of every stored geometry (WGS84).
const SRID = 4326

// Store is a PostGIS backed terminals.Source, terminals.LineLister and
// terminals.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and checks the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the bus_end_points table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bus_end_points (
			linha       TEXT PRIMARY KEY,
			start_point geometry(Point, 4326) NOT NULL,
			end_point   geometry(Point, 4326)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bus_end_points: %w", err)
	}
	return nil
}

// Lines returns the distinct lines present in the filtered GPS view.
func (s *Store) Lines(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT linha FROM vw_gps_filtrado ORDER BY linha`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// LineSamples returns the filtered positions of lineID in time order.
// Rows without geometry come back with NaN coordinates.
func (s *Store) LineSamples(ctx context.Context, lineID string) ([]positions.Sample, error) {
	if lineID == "" {
		return nil, errors.New("line id cannot be empty")
	}

	const query = `
		SELECT
			ST_X(geom),
			ST_Y(geom),
			datahora,
			COALESCE(velocidade, 0)
		FROM vw_gps_filtrado
		WHERE linha = $1
		ORDER BY datahora
	`
	rows, err := s.pool.Query(ctx, query, lineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var samples []positions.Sample
	for rows.Next() {
		var (
			lon, lat *float64
			ts       time.Time
			speed    float64
		)
		if err := rows.Scan(&lon, &lat, &ts, &speed); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		samples = append(samples, positions.Sample{
			LineID:    lineID,
			Longitude: derefOrNaN(lon),
			Latitude:  derefOrNaN(lat),
			Timestamp: ts,
			Speed:     speed,
		})
	}
	return samples, rows.Err()
}

// UpsertTerminal writes the start and end of res, replacing any earlier
// pair for the line. A missing end is stored as NULL.
func (s *Store) UpsertTerminal(ctx context.Context, res terminals.Result) error {
	start, end, err := terminalWKT(res)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bus_end_points (linha, start_point, end_point)
		VALUES ($1, ST_GeomFromText($2::text, $4), ST_GeomFromText($3::text, $4))
		ON CONFLICT (linha) DO UPDATE SET
			start_point = EXCLUDED.start_point,
			end_point = EXCLUDED.end_point
	`, res.LineID, start, end, SRID)
	if err != nil {
		return fmt.Errorf("failed to upsert end points for line %s: %w", res.LineID, err)
	}
	return nil
}

// DeleteTerminal removes the end points of lineID and reports whether a row
// existed.
func (s *Store) DeleteTerminal(ctx context.Context, lineID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bus_end_points WHERE linha = $1`, lineID)
	if err != nil {
		return false, fmt.Errorf("failed to delete end points for line %s: %w", lineID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// terminalWKT renders the start and end of res as WKT. The end is nil when
// the result has none.
func terminalWKT(res terminals.Result) (string, *string, error) {
	if !res.Persistable() {
		return "", nil, fmt.Errorf("line %s: result with status %s has no start terminal", res.LineID, res.Status)
	}
	start := wkt.MarshalString(*res.Start)
	if res.End == nil {
		return start, nil, nil
	}
	end := wkt.MarshalString(*res.End)
	return start, &end, nil
}

func derefOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
