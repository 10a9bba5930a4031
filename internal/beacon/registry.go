package beacon

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Registry owns every beacon record and applies samples, headings and
// deadline fires to them. It is not safe for concurrent use; the tracker
// serializes access.
type Registry struct {
	cfg       Config
	lifecycle Lifecycle
	detector  FacingDetector
	distance  DistanceEstimator

	records map[ID]*Record
	targets map[ID]TargetOrientation // catalog, survives eviction
	heading *Heading

	newID func() string
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		cfg: cfg,
		lifecycle: Lifecycle{
			AdditionDwell:          cfg.AdditionDwell,
			RemovalDwell:           cfg.RemovalDwell,
			LostIterationThreshold: cfg.LostIterationThreshold,
		},
		detector: FacingDetector{
			ToleranceDeg:            cfg.HeadingToleranceDeg,
			CalibrationThresholdDeg: cfg.CalibrationThresholdDeg,
		},
		distance: DistanceEstimator{
			TxPowerDBm:       cfg.TxPowerDBm,
			PathLossExponent: cfg.PathLossExponent,
			Window:           cfg.SmoothingWindow,
		},
		records: make(map[ID]*Record),
		targets: make(map[ID]TargetOrientation),
		newID:   uuid.NewString,
	}, nil
}

// Config returns the configuration the registry was built with.
func (r *Registry) Config() Config { return r.cfg }

// ApplyCycle applies one ranging batch observed at now. Overdue deadlines are
// resolved first, then samples in batch order, then every known beacon missing
// from the batch as an unknown reading. Malformed samples are skipped and
// returned as warnings; they never abort the cycle.
//
// A beacon found by an overdue deadline in this cycle has its reading counted
// but makes no further transition until the next cycle. Events from overdue
// deadlines carry the deadline's time, as a timer fire would.
func (r *Registry) ApplyCycle(now time.Time, samples []Sample) ([]Event, []error) {
	var events []Event
	var warnings []error

	fresh := make(map[ID]bool)
	for _, id := range r.sortedIDs() {
		rec := r.records[id]
		d, pending := r.lifecycle.Pending(rec)
		if !pending {
			continue
		}
		t := r.lifecycle.Expire(rec, now)
		if t == Added {
			fresh[id] = true
		}
		events = append(events, r.settle(rec, t, d.At)...)
	}

	seen := make(map[ID]bool, len(samples))
	for i, s := range samples {
		id, identified, err := validateSample(i, s)
		if err == nil && seen[id] {
			err = malformed(i, s, "id", "duplicate beacon in batch")
		}
		if identified {
			seen[id] = true
		}
		if err != nil {
			warnings = append(warnings, err)
			continue
		}

		rec, ok := r.records[id]
		if !ok {
			if !s.Known() {
				continue // never seen with a real reading
			}
			rec = r.create(id, now)
			r.record(rec, s.RSSI, s.Accuracy, now)
			r.lifecycle.Begin(rec, now)
			continue
		}
		r.record(rec, s.RSSI, s.Accuracy, now)
		if fresh[id] {
			r.lifecycle.Count(rec, s.Known())
			continue
		}
		events = append(events, r.settle(rec, r.lifecycle.Observe(rec, s.Known(), now), now)...)
	}

	for _, id := range r.sortedIDs() {
		if seen[id] {
			continue
		}
		rec := r.records[id]
		r.record(rec, UnknownRSSI, nil, now)
		if fresh[id] {
			r.lifecycle.Count(rec, false)
			continue
		}
		events = append(events, r.settle(rec, r.lifecycle.Observe(rec, false, now), now)...)
	}
	return events, warnings
}

// ApplyHeading evaluates facing for every present beacon against h. An
// observation with a zero At is stamped with now.
func (r *Registry) ApplyHeading(now time.Time, h Heading) ([]Event, error) {
	if err := ValidateHeading(h); err != nil {
		return nil, err
	}
	if h.At.IsZero() {
		h.At = now
	}
	r.heading = &h

	var events []Event
	for _, id := range r.sortedIDs() {
		rec := r.records[id]
		if rec.State != StatePresent {
			continue
		}
		facing := r.detector.Facing(h, rec.Target)
		switch {
		case facing && rec.Facing != Facing:
			rec.Facing = Facing
			events = append(events, r.event(rec, EventStartFacing, now))
		case !facing && rec.Facing == Facing:
			rec.Facing = NotFacing
			events = append(events, r.event(rec, EventStopFacing, now))
		}
	}
	return events, nil
}

// Fire applies a deadline delivered by a timer. A deadline whose record was
// evicted, changed generation or left the matching pending state returns
// ErrStaleTimer and changes nothing.
func (r *Registry) Fire(now time.Time, d Deadline) ([]Event, error) {
	rec, ok := r.records[d.Beacon]
	if !ok {
		return nil, fmt.Errorf("%w: %s deadline for evicted beacon %s", ErrStaleTimer, d.Kind, d.Beacon)
	}
	if rec.Generation != d.Generation {
		return nil, fmt.Errorf("%w: %s deadline for %s at generation %d, record at %d",
			ErrStaleTimer, d.Kind, d.Beacon, d.Generation, rec.Generation)
	}
	t := r.lifecycle.Fire(rec, d.Kind)
	if t == NoTransition {
		return nil, fmt.Errorf("%w: %s deadline for %s in state %s", ErrStaleTimer, d.Kind, d.Beacon, rec.State)
	}
	return r.settle(rec, t, now), nil
}

// Deadlines lists every pending dwell deadline, ordered by beacon ID.
func (r *Registry) Deadlines() []Deadline {
	var out []Deadline
	for _, id := range r.sortedIDs() {
		if d, ok := r.lifecycle.Pending(r.records[id]); ok {
			out = append(out, d)
		}
	}
	return out
}

// AssignTarget stores the orientation a user must face for id. It applies to
// the live record, if any, and to any future record for the same beacon.
// Facing is re-evaluated on the next heading.
func (r *Registry) AssignTarget(id ID, o TargetOrientation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	r.targets[id] = o
	if rec, ok := r.records[id]; ok {
		t := o
		rec.Target = &t
	}
	return nil
}

// RemoveTarget drops id from the target catalog and from its live record.
// A record that was facing stops facing. It reports whether id had a target.
func (r *Registry) RemoveTarget(now time.Time, id ID) ([]Event, bool) {
	if _, ok := r.targets[id]; !ok {
		return nil, false
	}
	delete(r.targets, id)
	rec, ok := r.records[id]
	if !ok {
		return nil, true
	}
	rec.Target = nil
	if rec.Facing != Facing {
		return nil, true
	}
	rec.Facing = NotFacing
	return []Event{r.event(rec, EventStopFacing, now)}, true
}

// HasTarget reports whether id is in the target catalog.
func (r *Registry) HasTarget(id ID) bool {
	_, ok := r.targets[id]
	return ok
}

// Targets returns a copy of the target catalog.
func (r *Registry) Targets() map[ID]TargetOrientation {
	out := make(map[ID]TargetOrientation, len(r.targets))
	for id, o := range r.targets {
		out[id] = o
	}
	return out
}

// Present returns the records currently in the Present state, ordered by ID.
func (r *Registry) Present() []Record {
	var out []Record
	for _, id := range r.sortedIDs() {
		if rec := r.records[id]; rec.State == StatePresent {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Records returns every live record, ordered by ID.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, id := range r.sortedIDs() {
		out = append(out, r.records[id].clone())
	}
	return out
}

// Record returns a copy of the record for id.
func (r *Registry) Record(id ID) (Record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// LastHeading returns the most recent valid heading observation.
func (r *Registry) LastHeading() (Heading, bool) {
	if r.heading == nil {
		return Heading{}, false
	}
	return *r.heading, true
}

func (r *Registry) sortedIDs() []ID {
	ids := make([]ID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

func (r *Registry) create(id ID, now time.Time) *Record {
	rec := &Record{
		ID:                id,
		VisitID:           r.newID(),
		State:             StateAbsent,
		Facing:            NotFacing,
		EstimatedDistance: UnknownDistance,
		FirstSeen:         now,
	}
	if o, ok := r.targets[id]; ok {
		rec.Target = &o
	}
	r.records[id] = rec
	return rec
}

// record stores one reading and refreshes the distance estimate.
func (r *Registry) record(rec *Record, rssi int, accuracy *float64, now time.Time) {
	rec.LastRSSI = rssi
	rec.History = append(rec.History, RSSIPoint{At: now, RSSI: rssi})
	if over := len(rec.History) - r.cfg.RSSIHistoryLength; over > 0 {
		rec.History = append(rec.History[:0:0], rec.History[over:]...)
	}
	switch {
	case rssi == UnknownRSSI:
		rec.EstimatedDistance = UnknownDistance
		return
	case accuracy != nil && *accuracy >= 0:
		rec.EstimatedDistance = *accuracy
	default:
		rec.EstimatedDistance = r.distance.Estimate(rec.History)
	}
	rec.LastSeen = now
}

// settle turns a lifecycle transition into events and evicts records that
// reached Absent. Facing is cleared before the record leaves Present and
// checked against the last heading when it enters Present again.
func (r *Registry) settle(rec *Record, t Transition, now time.Time) []Event {
	var events []Event
	switch t {
	case Added:
		events = append(events, r.event(rec, EventFound, now))
		events = append(events, r.resumeFacing(rec, now)...)
	case Restored:
		events = append(events, r.resumeFacing(rec, now)...)
	case RemovalStarted:
		if rec.Facing == Facing {
			rec.Facing = NotFacing
			events = append(events, r.event(rec, EventStopFacing, now))
		}
	case Removed:
		if rec.Facing == Facing {
			rec.Facing = NotFacing
			events = append(events, r.event(rec, EventStopFacing, now))
		}
		events = append(events, r.event(rec, EventLost, now))
		delete(r.records, rec.ID)
	case Discarded:
		delete(r.records, rec.ID)
	}
	return events
}

// resumeFacing starts facing for a record that just became Present if the
// last heading already points at its target.
func (r *Registry) resumeFacing(rec *Record, now time.Time) []Event {
	if r.heading == nil || rec.Facing == Facing || !r.detector.Facing(*r.heading, rec.Target) {
		return nil
	}
	rec.Facing = Facing
	return []Event{r.event(rec, EventStartFacing, now)}
}

func (r *Registry) event(rec *Record, kind EventKind, now time.Time) Event {
	return Event{
		ID:       r.newID(),
		Kind:     kind,
		Beacon:   rec.ID,
		VisitID:  rec.VisitID,
		RSSI:     rec.LastRSSI,
		Distance: rec.EstimatedDistance,
		At:       now,
	}
}

// IsStale reports whether err came from a stale deadline.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleTimer)
}
