// Package sink holds the tracker's event sinks: logging, the sqlite event log,
// MQTT and redis stream publishers, plus combinators to filter, fan out and
// decouple them from the tracker lock.
package sink

import (
	"context"
	"errors"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
)

// Sink is satisfied by tracker.EventSink.
type Sink interface {
	Deliver(ctx context.Context, events []beacon.Event) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, events []beacon.Event) error

func (f Func) Deliver(ctx context.Context, events []beacon.Event) error { return f(ctx, events) }

// Multi delivers to every sink in order. One failing sink does not stop the
// rest; the errors are joined.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, events []beacon.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Catalog answers whether a beacon has a configured target.
type Catalog interface {
	Contains(id beacon.ID) bool
}

// CatalogFilter drops events for beacons outside the catalog unless
// AcknowledgeAll is set. The tracker calls sinks with its lock held, so a
// filter backed by the tracker itself must sit behind a Queue.
type CatalogFilter struct {
	Next           Sink
	Catalog        Catalog
	AcknowledgeAll bool
}

func (f CatalogFilter) Deliver(ctx context.Context, events []beacon.Event) error {
	if f.AcknowledgeAll || f.Catalog == nil {
		return f.Next.Deliver(ctx, events)
	}
	kept := make([]beacon.Event, 0, len(events))
	for _, e := range events {
		if f.Catalog.Contains(e.Beacon) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return f.Next.Deliver(ctx, kept)
}

// Log writes one line per event through monitoring.Logf.
type Log struct{}

func (Log) Deliver(_ context.Context, events []beacon.Event) error {
	for _, e := range events {
		if e.Distance >= 0 {
			monitoring.Logf("%s %s visit=%s rssi=%d distance=%.2fm", e.Kind, e.Beacon, e.VisitID, e.RSSI, e.Distance)
		} else {
			monitoring.Logf("%s %s visit=%s rssi=%d", e.Kind, e.Beacon, e.VisitID, e.RSSI)
		}
	}
	return nil
}

// EventRecorder is implemented by *db.DB.
type EventRecorder interface {
	RecordEvents(ctx context.Context, events []beacon.Event) error
}

// Store appends events to the local event log.
type Store struct {
	DB EventRecorder
}

func (s Store) Deliver(ctx context.Context, events []beacon.Event) error {
	return s.DB.RecordEvents(ctx, events)
}
