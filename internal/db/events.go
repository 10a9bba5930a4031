package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

// RecordEvents appends events to the event log in one transaction. Events
// already recorded (same ID) are ignored.
func (db *DB) RecordEvents(ctx context.Context, events []beacon.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO beacon_events (event_id, kind, beacon_id, visit_id, rssi, distance, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind), e.Beacon.String(), e.VisitID, e.RSSI, e.Distance, e.At.UnixNano(),
		); err != nil {
			return fmt.Errorf("record %s event for %s: %w", e.Kind, e.Beacon, err)
		}
	}
	return tx.Commit()
}

// EventQuery filters RecentEvents. Zero values mean no filter.
type EventQuery struct {
	Beacon *beacon.ID
	Since  time.Time
	Limit  int // default 100
}

// RecentEvents returns matching events, newest first.
func (db *DB) RecentEvents(ctx context.Context, q EventQuery) ([]beacon.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT event_id, kind, beacon_id, visit_id, rssi, distance, at_ns FROM beacon_events WHERE at_ns >= ?`
	args := []any{int64(0)}
	if !q.Since.IsZero() {
		args[0] = q.Since.UnixNano()
	}
	if q.Beacon != nil {
		query += ` AND beacon_id = ?`
		args = append(args, q.Beacon.String())
	}
	query += ` ORDER BY at_ns DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []beacon.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (beacon.Event, error) {
	var (
		e        beacon.Event
		kind     string
		beaconID string
		atNS     int64
	)
	if err := rows.Scan(&e.ID, &kind, &beaconID, &e.VisitID, &e.RSSI, &e.Distance, &atNS); err != nil {
		return beacon.Event{}, err
	}
	id, err := beacon.ParseID(beaconID)
	if err != nil {
		return beacon.Event{}, err
	}
	e.Kind = beacon.EventKind(kind)
	e.Beacon = id
	e.At = time.Unix(0, atNS).UTC()
	return e, nil
}

// Visit pairs the found and lost events of one detection.
type Visit struct {
	VisitID     string     `json:"visit_id"`
	Beacon      beacon.ID  `json:"beacon_id"`
	FoundAt     *time.Time `json:"found_at,omitempty"`
	LostAt      *time.Time `json:"lost_at,omitempty"` // nil while present
	FacingCount int        `json:"facing_count"`
}

// Visits returns the most recent detections, newest found first.
func (db *DB) Visits(ctx context.Context, limit int) ([]Visit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT visit_id, beacon_id, found_at_ns, lost_at_ns, facing_count
		FROM beacon_visits
		ORDER BY found_at_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Visit
	for rows.Next() {
		var (
			v           Visit
			beaconID    string
			found, lost sql.NullInt64
		)
		if err := rows.Scan(&v.VisitID, &beaconID, &found, &lost, &v.FacingCount); err != nil {
			return nil, err
		}
		if v.Beacon, err = beacon.ParseID(beaconID); err != nil {
			return nil, err
		}
		if found.Valid {
			t := time.Unix(0, found.Int64).UTC()
			v.FoundAt = &t
		}
		if lost.Valid {
			t := time.Unix(0, lost.Int64).UTC()
			v.LostAt = &t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
