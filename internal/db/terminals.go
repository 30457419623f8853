package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/busterminals/internal/terminals"
)

// ErrTerminalNotFound is returned when no terminals are stored for a line.
var ErrTerminalNotFound = errors.New("no terminals stored for line")

// StoredTerminal is a persisted terminal result with its last update time.
type StoredTerminal struct {
	terminals.Result
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertTerminal stores res, replacing any earlier result for the same line.
// Results without a start terminal are rejected.
func (db *DB) UpsertTerminal(ctx context.Context, res terminals.Result) error {
	if !res.Persistable() {
		return fmt.Errorf("line %s: result with status %s has no start terminal", res.LineID, res.Status)
	}

	startCell, err := marshalNullable(res.StartCell)
	if err != nil {
		return err
	}
	candidates, err := marshalNullable(res.Candidates)
	if err != nil {
		return err
	}
	routeCells, err := marshalNullable(res.RouteCells)
	if err != nil {
		return err
	}

	var endLon, endLat sql.NullFloat64
	if res.End != nil {
		endLon = sql.NullFloat64{Float64: res.End.Lon(), Valid: true}
		endLat = sql.NullFloat64{Float64: res.End.Lat(), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO terminals (
			line_id, status, start_lon, start_lat, end_lon, end_lat, degenerate,
			samples, malformed, unmatched, start_cell_json, candidates_json,
			route_cells_json, updated_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (line_id) DO UPDATE SET
			status = excluded.status,
			start_lon = excluded.start_lon,
			start_lat = excluded.start_lat,
			end_lon = excluded.end_lon,
			end_lat = excluded.end_lat,
			degenerate = excluded.degenerate,
			samples = excluded.samples,
			malformed = excluded.malformed,
			unmatched = excluded.unmatched,
			start_cell_json = excluded.start_cell_json,
			candidates_json = excluded.candidates_json,
			route_cells_json = excluded.route_cells_json,
			updated_unix = excluded.updated_unix
	`,
		res.LineID, string(res.Status), res.Start.Lon(), res.Start.Lat(), endLon, endLat,
		res.Degenerate, res.Samples, res.Malformed, res.Unmatched,
		startCell, candidates, routeCells, timeToUnix(db.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert terminals for line %s: %w", res.LineID, err)
	}
	return nil
}

// DeleteTerminal removes the stored result of lineID and reports whether
// one existed.
func (db *DB) DeleteTerminal(ctx context.Context, lineID string) (bool, error) {
	r, err := db.ExecContext(ctx, `DELETE FROM terminals WHERE line_id = ?`, lineID)
	if err != nil {
		return false, fmt.Errorf("failed to delete terminals for line %s: %w", lineID, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const terminalColumns = `
	line_id, status, start_lon, start_lat, end_lon, end_lat, degenerate,
	samples, malformed, unmatched, start_cell_json, candidates_json,
	route_cells_json, updated_unix
`

// Terminal returns the stored result for lineID, or ErrTerminalNotFound.
func (db *DB) Terminal(ctx context.Context, lineID string) (*StoredTerminal, error) {
	row := db.QueryRowContext(ctx, `SELECT `+terminalColumns+` FROM terminals WHERE line_id = ?`, lineID)
	t, err := scanTerminal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, lineID)
	}
	return t, err
}

// Terminals returns every stored result ordered by line id.
func (db *DB) Terminals(ctx context.Context) ([]StoredTerminal, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+terminalColumns+` FROM terminals ORDER BY line_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredTerminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTerminal(row rowScanner) (*StoredTerminal, error) {
	var (
		t                                 StoredTerminal
		status                            string
		startLon, startLat                float64
		endLon, endLat                    sql.NullFloat64
		startCell, candidates, routeCells sql.NullString
		updatedUnix                       float64
	)
	if err := row.Scan(
		&t.LineID, &status, &startLon, &startLat, &endLon, &endLat, &t.Degenerate,
		&t.Samples, &t.Malformed, &t.Unmatched, &startCell, &candidates, &routeCells,
		&updatedUnix,
	); err != nil {
		return nil, err
	}

	t.UpdatedAt = unixToTime(updatedUnix)
	t.Status = terminals.Status(status)
	start := orb.Point{startLon, startLat}
	t.Start = &start
	if endLon.Valid && endLat.Valid {
		end := orb.Point{endLon.Float64, endLat.Float64}
		t.End = &end
	}
	if t.Status == terminals.StatusInconclusiveEnd {
		t.Reason = terminals.ErrSingleCandidate
	}

	if err := unmarshalNullable(startCell, &t.StartCell); err != nil {
		return nil, fmt.Errorf("line %s: start cell: %w", t.LineID, err)
	}
	if err := unmarshalNullable(candidates, &t.Candidates); err != nil {
		return nil, fmt.Errorf("line %s: candidates: %w", t.LineID, err)
	}
	if err := unmarshalNullable(routeCells, &t.RouteCells); err != nil {
		return nil, fmt.Errorf("line %s: route cells: %w", t.LineID, err)
	}
	return &t, nil
}

// RecordRun stores the counters of a batch run.
func (db *DB) RecordRun(ctx context.Context, sum *terminals.Summary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO terminal_runs (
			run_id, started_unix, finished_unix, lines, determined,
			inconclusive_end, inconclusive, persisted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.RunID,
		timeToUnix(sum.Started), timeToUnix(sum.Finished),
		len(sum.Results), sum.Determined, sum.InconclusiveEnd, sum.Inconclusive, sum.Persisted,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", sum.RunID, err)
	}
	return nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString, dst interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func unixToTime(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
