// Package tracker is the single owner of the beacon registry. It serializes
// ranging batches, heading updates, target assignments and dwell timer fires
// behind one mutex, keeps one clock timer per pending deadline, and hands
// every emitted event to the registered sinks.
package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/monitoring"
	"github.com/banshee-data/proximity.report/internal/timeutil"
)

// ErrNoHeading is returned by CaptureTarget before any heading was observed.
var ErrNoHeading = errors.New("no heading observed")

// EventSink receives events in emission order. Deliver is called with the
// tracker lock held and must not call back into the tracker.
type EventSink interface {
	Deliver(ctx context.Context, events []beacon.Event) error
}

type scheduled struct {
	deadline beacon.Deadline
	timer    timeutil.Timer
}

// Tracker wraps a beacon.Registry with locking, timers and event dispatch.
type Tracker struct {
	mu     sync.Mutex
	reg    *beacon.Registry
	clock  timeutil.Clock
	timers map[beacon.ID]*scheduled
	sinks  []EventSink
	closed bool
}

// New returns a tracker over reg. A nil clock means the real clock.
func New(reg *beacon.Registry, clock timeutil.Clock, sinks ...EventSink) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{
		reg:    reg,
		clock:  clock,
		timers: make(map[beacon.ID]*scheduled),
		sinks:  sinks,
	}
}

// AddSink registers another event sink.
func (t *Tracker) AddSink(s EventSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// ApplyCycle applies one ranging batch at the clock's current time. Malformed
// samples are logged and returned as warnings.
func (t *Tracker) ApplyCycle(ctx context.Context, samples []beacon.Sample) ([]beacon.Event, []error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	events, warnings := t.reg.ApplyCycle(t.clock.Now(), samples)
	for _, w := range warnings {
		monitoring.Warnf("skipping sample: %v", w)
	}
	monitoring.Debugf("cycle: %d samples, %d events, %d pending deadlines", len(samples), len(events), len(t.timers))
	t.reconcile()
	t.dispatch(ctx, events)
	return events, warnings
}

// ApplyHeading evaluates facing against h.
func (t *Tracker) ApplyHeading(ctx context.Context, h beacon.Heading) ([]beacon.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	events, err := t.reg.ApplyHeading(t.clock.Now(), h)
	if err != nil {
		monitoring.Warnf("dropping heading: %v", err)
		return nil, err
	}
	t.dispatch(ctx, events)
	return events, nil
}

// AssignTarget sets the orientation a user must face for id.
func (t *Tracker) AssignTarget(id beacon.ID, o beacon.TargetOrientation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.AssignTarget(id, o)
}

// RemoveTarget drops id from the target catalog. It reports whether id had
// a target.
func (t *Tracker) RemoveTarget(ctx context.Context, id beacon.ID) ([]beacon.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	events, ok := t.reg.RemoveTarget(t.clock.Now(), id)
	t.dispatch(ctx, events)
	return events, ok
}

// CaptureTarget records the last heading observation, plus the given
// location, as the target for id.
func (t *Tracker) CaptureTarget(id beacon.ID, lat, lon float64) (beacon.TargetOrientation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.reg.LastHeading()
	if !ok {
		return beacon.TargetOrientation{}, ErrNoHeading
	}
	o := beacon.TargetOrientation{
		MagneticHeading: h.Magnetic,
		TrueHeading:     h.True,
		HeadingAccuracy: h.Accuracy,
		Latitude:        lat,
		Longitude:       lon,
	}
	if err := t.reg.AssignTarget(id, o); err != nil {
		return beacon.TargetOrientation{}, err
	}
	return o, nil
}

// Contains reports whether id is in the target catalog.
func (t *Tracker) Contains(id beacon.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.HasTarget(id)
}

// Catalog returns a copy of the target catalog.
func (t *Tracker) Catalog() map[beacon.ID]beacon.TargetOrientation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Targets()
}

// Present returns the found beacons.
func (t *Tracker) Present() []beacon.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Present()
}

// Snapshot returns every live record.
func (t *Tracker) Snapshot() []beacon.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Records()
}

// Record returns the live record for id.
func (t *Tracker) Record(id beacon.ID) (beacon.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.Record(id)
}

// LastHeading returns the most recent valid heading.
func (t *Tracker) LastHeading() (beacon.Heading, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.LastHeading()
}

// Config returns the registry configuration.
func (t *Tracker) Config() beacon.Config {
	return t.reg.Config()
}

// Close stops all timers. Later timer fires are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, s := range t.timers {
		s.timer.Stop()
		delete(t.timers, id)
	}
}

// reconcile makes the running timers match the registry's pending deadlines.
// Caller must hold t.mu.
func (t *Tracker) reconcile() {
	if t.closed {
		return
	}
	want := make(map[beacon.ID]beacon.Deadline)
	for _, d := range t.reg.Deadlines() {
		want[d.Beacon] = d
	}
	for id, s := range t.timers {
		d, ok := want[id]
		if ok && d.Generation == s.deadline.Generation && d.Kind == s.deadline.Kind {
			continue
		}
		s.timer.Stop()
		delete(t.timers, id)
	}
	now := t.clock.Now()
	for id, d := range want {
		if _, ok := t.timers[id]; ok {
			continue
		}
		delay := d.At.Sub(now)
		if delay < 0 {
			delay = 0
		}
		d := d
		t.timers[id] = &scheduled{
			deadline: d,
			timer:    t.clock.AfterFunc(delay, func() { t.fire(d) }),
		}
	}
}

// fire is the timer callback. A stale deadline changes nothing.
func (t *Tracker) fire(d beacon.Deadline) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if s, ok := t.timers[d.Beacon]; ok && s.deadline.Generation == d.Generation && s.deadline.Kind == d.Kind {
		delete(t.timers, d.Beacon)
	}
	events, err := t.reg.Fire(d.At, d)
	if err != nil {
		if beacon.IsStale(err) {
			monitoring.Warnf("ignoring %v", err)
		} else {
			monitoring.Warnf("deadline fire for %s: %v", d.Beacon, err)
		}
		t.reconcile()
		return
	}
	t.reconcile()
	t.dispatch(context.Background(), events)
}

// dispatch hands events to every sink. Caller must hold t.mu.
func (t *Tracker) dispatch(ctx context.Context, events []beacon.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range t.sinks {
		if err := s.Deliver(ctx, events); err != nil {
			monitoring.Warnf("event sink: %v", err)
		}
	}
}

// PendingTimers returns the number of armed deadline timers.
func (t *Tracker) PendingTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
