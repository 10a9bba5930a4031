package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

// UpsertTarget stores the facing target for id, replacing any previous one.
func (db *DB) UpsertTarget(ctx context.Context, id beacon.ID, o beacon.TargetOrientation, updatedAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO beacon_targets (
			beacon_id, uuid, major, minor,
			magnetic_heading, true_heading, heading_accuracy,
			latitude, longitude, updated_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (beacon_id) DO UPDATE SET
			magnetic_heading = excluded.magnetic_heading,
			true_heading     = excluded.true_heading,
			heading_accuracy = excluded.heading_accuracy,
			latitude         = excluded.latitude,
			longitude        = excluded.longitude,
			updated_at_ns    = excluded.updated_at_ns`,
		id.String(), id.UUID.String(), int(id.Major), int(id.Minor),
		o.MagneticHeading, o.TrueHeading, o.HeadingAccuracy,
		o.Latitude, o.Longitude, updatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert target %s: %w", id, err)
	}
	return nil
}

// DeleteTarget removes id from the catalog. It reports whether a row existed.
func (db *DB) DeleteTarget(ctx context.Context, id beacon.ID) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM beacon_targets WHERE beacon_id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete target %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Targets loads the whole catalog.
func (db *DB) Targets(ctx context.Context) (map[beacon.ID]beacon.TargetOrientation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT uuid, major, minor, magnetic_heading, true_heading, heading_accuracy, latitude, longitude
		FROM beacon_targets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[beacon.ID]beacon.TargetOrientation)
	for rows.Next() {
		var (
			rawUUID      string
			major, minor int
			o            beacon.TargetOrientation
		)
		if err := rows.Scan(&rawUUID, &major, &minor,
			&o.MagneticHeading, &o.TrueHeading, &o.HeadingAccuracy, &o.Latitude, &o.Longitude); err != nil {
			return nil, err
		}
		id, err := beacon.NewID(rawUUID, major, minor)
		if err != nil {
			return nil, fmt.Errorf("catalog row %s:%d:%d: %w", rawUUID, major, minor, err)
		}
		out[id] = o
	}
	return out, rows.Err()
}
