package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/banshee-data/busterminals/internal/positions"
)

// InsertPositions stores records in one transaction. Records whose id is
// already present are skipped; the number of new rows is returned.
func (db *DB) InsertPositions(ctx context.Context, records []positions.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (
			id, vehicle, line_id, speed, ts_ms, sent_ms, received_ms, lon, lat, origin
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare position insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.ID, r.Vehicle, r.LineID, r.Speed, r.Timestamp.UnixMilli(),
			nullMillis(r.SentAt), nullMillis(r.ReceivedAt),
			nullFloat(r.Longitude), nullFloat(r.Latitude), r.Origin,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert position %s: %w", r.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Lines returns the distinct line ids that have positions, sorted.
func (db *DB) Lines(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT line_id FROM positions ORDER BY line_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// LineSamples returns every position of lineID in time order. Missing
// coordinates come back as NaN so sample validation can reject them.
func (db *DB) LineSamples(ctx context.Context, lineID string) ([]positions.Sample, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT lon, lat, ts_ms, speed
		FROM positions
		WHERE line_id = ?
		ORDER BY ts_ms, id
	`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []positions.Sample
	for rows.Next() {
		var lon, lat sql.NullFloat64
		var tsMs int64
		var speed float64
		if err := rows.Scan(&lon, &lat, &tsMs, &speed); err != nil {
			return nil, err
		}
		samples = append(samples, positions.Sample{
			LineID:    lineID,
			Longitude: floatOrNaN(lon),
			Latitude:  floatOrNaN(lat),
			Timestamp: time.UnixMilli(tsMs).UTC(),
			Speed:     speed,
		})
	}
	return samples, rows.Err()
}

// PositionCount returns the number of stored positions.
func (db *DB) PositionCount(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n)
	return n, err
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
