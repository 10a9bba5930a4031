package beacon

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "f7826da6-4fa2-4e98-8024-bc5b71e0893e"

func newTestRegistry(t *testing.T, mutate func(*Config)) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return r
}

func mustID(t *testing.T, minor int) ID {
	t.Helper()
	id, err := NewID(testUUID, 1, minor)
	require.NoError(t, err)
	return id
}

func seen(minor, rssi int) Sample {
	return Sample{UUID: testUUID, Major: 1, Minor: minor, RSSI: rssi}
}

func at(d time.Duration) time.Time { return t0.Add(d) }

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestRegistry_FoundDropoutLost(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	x := mustID(t, 7)

	// cycle at time offset, sample rssi (0 = unknown), expected event kinds
	steps := []struct {
		at   time.Duration
		rssi int
		want []EventKind
	}{
		{0, -60, nil},
		{1 * time.Second, -61, nil},
		{2 * time.Second, -60, []EventKind{EventFound}},
		{2500 * time.Millisecond, -62, nil},
		{5 * time.Second, 0, nil},
		{5500 * time.Millisecond, -64, nil},
		{6 * time.Second, 0, nil},
		{7 * time.Second, 0, nil},
		{8 * time.Second, 0, nil},
		{9 * time.Second, 0, []EventKind{EventLost}},
	}
	for _, s := range steps {
		events, warnings := r.ApplyCycle(at(s.at), []Sample{seen(7, s.rssi)})
		require.Empty(t, warnings)
		if diff := cmp.Diff(s.want, kinds(events), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("events at %s mismatch (-want +got):\n%s", s.at, diff)
		}
		for _, e := range events {
			assert.Equal(t, x, e.Beacon)
			assert.Equal(t, at(s.at), e.At)
		}
	}
	_, ok := r.Record(x)
	assert.False(t, ok, "lost beacon is evicted")
}

func TestRegistry_DiscardBeforeFound(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	y := mustID(t, 8)

	events, _ := r.ApplyCycle(t0, []Sample{seen(8, -70)})
	require.Empty(t, events)

	// Five unknown cycles inside the 2s addition dwell; alternate explicit
	// unknown readings with omission from the batch.
	for i := 1; i <= 5; i++ {
		var batch []Sample
		if i%2 == 0 {
			batch = []Sample{seen(8, UnknownRSSI)}
		}
		events, _ = r.ApplyCycle(at(time.Duration(i)*200*time.Millisecond), batch)
		assert.Empty(t, events)
	}
	_, ok := r.Record(y)
	assert.False(t, ok, "spurious detection discarded")

	// Nothing fires later either.
	events, _ = r.ApplyCycle(at(3*time.Second), nil)
	assert.Empty(t, events)
	assert.Empty(t, r.Deadlines())
}

func TestRegistry_FlapSuppression(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	x := mustID(t, 1)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})
	events, _ := r.ApplyCycle(at(2*time.Second), []Sample{seen(1, -60)})
	require.Equal(t, []EventKind{EventFound}, kinds(events))

	// Four unknown cycles spanning 1.5s: below the ceiling and the dwell.
	for i := 1; i <= 4; i++ {
		events, _ = r.ApplyCycle(at(2*time.Second+time.Duration(i)*500*time.Millisecond), nil)
		assert.Empty(t, events)
	}
	events, _ = r.ApplyCycle(at(4500*time.Millisecond), []Sample{seen(1, -66)})
	assert.Empty(t, events)

	rec, ok := r.Record(x)
	require.True(t, ok)
	assert.Equal(t, StatePresent, rec.State)
	assert.Zero(t, rec.ConsecutiveUnknown)
	assert.Empty(t, r.Deadlines())
}

func TestRegistry_CeilingForcesLostImmediately(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})
	r.ApplyCycle(at(2*time.Second), []Sample{seen(1, -60)})

	var lostAt time.Time
	for i := 1; i <= 5; i++ {
		now := at(2*time.Second + time.Duration(i)*50*time.Millisecond)
		events, _ := r.ApplyCycle(now, []Sample{seen(1, 0)})
		if len(events) > 0 {
			require.Equal(t, []EventKind{EventLost}, kinds(events))
			lostAt = now
		}
	}
	assert.Equal(t, at(2250*time.Millisecond), lostAt, "fifth unknown cycle, long before the removal dwell")
}

func TestRegistry_CeilingCountsAcrossFound(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := mustID(t, 1)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})

	// Unknown readings through the addition dwell, the last one in the
	// cycle that resolves the overdue addition deadline.
	for i := 1; i <= 4; i++ {
		events, _ := r.ApplyCycle(at(time.Duration(i)*400*time.Millisecond), []Sample{seen(1, UnknownRSSI)})
		require.Empty(t, events)
	}
	events, _ := r.ApplyCycle(at(2*time.Second), []Sample{seen(1, UnknownRSSI)})
	require.Equal(t, []EventKind{EventFound}, kinds(events))
	rec, ok := r.Record(id)
	require.True(t, ok)
	assert.Equal(t, 5, rec.ConsecutiveUnknown)

	// Sixth consecutive unknown: already past the ceiling.
	events, _ = r.ApplyCycle(at(2400*time.Millisecond), nil)
	assert.Equal(t, []EventKind{EventLost}, kinds(events))
	_, ok = r.Record(id)
	assert.False(t, ok)
}

func TestRegistry_KnownReadingInFoundCycleResetsCount(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := mustID(t, 1)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})
	for i := 1; i <= 4; i++ {
		r.ApplyCycle(at(time.Duration(i)*400*time.Millisecond), nil)
	}
	events, _ := r.ApplyCycle(at(2*time.Second), []Sample{seen(1, -61)})
	require.Equal(t, []EventKind{EventFound}, kinds(events))

	events, _ = r.ApplyCycle(at(2400*time.Millisecond), nil)
	assert.Empty(t, events)
	rec, ok := r.Record(id)
	require.True(t, ok)
	assert.Equal(t, StatePendingRemoval, rec.State)
	assert.Equal(t, 1, rec.ConsecutiveUnknown)
}

func TestRegistry_OverdueDeadlineEventsCarryDeadlineTime(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})

	events, _ := r.ApplyCycle(at(2700*time.Millisecond), []Sample{seen(1, -60)})
	require.Equal(t, []EventKind{EventFound}, kinds(events))
	assert.Equal(t, at(2*time.Second), events[0].At)

	// Removal dwell runs from 3s to 6s; the next cycle arrives late.
	r.ApplyCycle(at(3*time.Second), nil)
	events, _ = r.ApplyCycle(at(6500*time.Millisecond), []Sample{seen(1, -60)})
	require.Equal(t, []EventKind{EventLost}, kinds(events))
	assert.Equal(t, at(6*time.Second), events[0].At)

	// The late sample starts a new visit.
	rec, ok := r.Record(mustID(t, 1))
	require.True(t, ok)
	assert.Equal(t, StatePendingAddition, rec.State)
	assert.NotEqual(t, events[0].VisitID, rec.VisitID)
}

func TestRegistry_RedetectionIsNewVisit(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.LostIterationThreshold = 1 })

	r.ApplyCycle(t0, []Sample{seen(3, -60)})
	found1, _ := r.ApplyCycle(at(2*time.Second), []Sample{seen(3, -60)})
	lost1, _ := r.ApplyCycle(at(3*time.Second), nil)
	r.ApplyCycle(at(4*time.Second), []Sample{seen(3, -60)})
	found2, _ := r.ApplyCycle(at(6*time.Second), []Sample{seen(3, -60)})

	require.Len(t, found1, 1)
	require.Len(t, lost1, 1)
	require.Len(t, found2, 1)
	assert.Equal(t, found1[0].VisitID, lost1[0].VisitID)
	assert.NotEqual(t, found1[0].VisitID, found2[0].VisitID)
}

func TestRegistry_UnknownFirstSampleIgnored(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	events, warnings := r.ApplyCycle(t0, []Sample{seen(4, UnknownRSSI)})
	assert.Empty(t, events)
	assert.Empty(t, warnings)
	assert.Empty(t, r.Records())
}

// ---------------------------------------------------------------------------
// Malformed samples
// ---------------------------------------------------------------------------

func TestRegistry_MalformedSamplesSkipped(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	nan := math.NaN()

	batch := []Sample{
		{UUID: "not-a-uuid", Major: 1, Minor: 1, RSSI: -50},
		{UUID: testUUID, Major: 70000, Minor: 1, RSSI: -50},
		{UUID: testUUID, Major: 1, Minor: -1, RSSI: -50},
		{UUID: testUUID, Major: 1, Minor: 2, RSSI: 12},
		{UUID: testUUID, Major: 1, Minor: 3, RSSI: -50, Accuracy: &nan},
		seen(4, -50),
		seen(4, -51),
	}
	events, warnings := r.ApplyCycle(t0, batch)
	assert.Empty(t, events)
	require.Len(t, warnings, 6)

	var fields []string
	for _, w := range warnings {
		var me *MalformedSampleError
		require.True(t, errors.As(w, &me))
		assert.ErrorIs(t, w, ErrMalformedSample)
		fields = append(fields, me.Field)
	}
	assert.Equal(t, []string{"uuid", "major", "minor", "rssi", "accuracy", "id"}, fields)

	recs := r.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, mustID(t, 4), recs[0].ID)
	assert.Equal(t, -50, recs[0].LastRSSI, "first of duplicate samples applied")
}

func TestRegistry_MalformedSampleNotTreatedAsMissing(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	r.ApplyCycle(t0, []Sample{seen(5, -60)})
	r.ApplyCycle(at(2*time.Second), []Sample{seen(5, -60)})

	_, warnings := r.ApplyCycle(at(3*time.Second), []Sample{seen(5, 40)})
	require.Len(t, warnings, 1)

	rec, _ := r.Record(mustID(t, 5))
	assert.Equal(t, StatePresent, rec.State)
	assert.Zero(t, rec.ConsecutiveUnknown)
}

// ---------------------------------------------------------------------------
// Facing
// ---------------------------------------------------------------------------

func foundWithTarget(t *testing.T, r *Registry, minor int) ID {
	t.Helper()
	id := mustID(t, minor)
	require.NoError(t, r.AssignTarget(id, TargetOrientation{MagneticHeading: 5, TrueHeading: 7, HeadingAccuracy: 3}))
	r.ApplyCycle(t0, []Sample{seen(minor, -60)})
	events, _ := r.ApplyCycle(at(2*time.Second), []Sample{seen(minor, -60)})
	require.Equal(t, []EventKind{EventFound}, kinds(events))
	return id
}

func TestRegistry_FacingTransitions(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := foundWithTarget(t, r, 9)

	events, err := r.ApplyHeading(at(3*time.Second), Heading{Magnetic: 350, True: 352, Accuracy: 4})
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventStartFacing}, kinds(events))
	assert.Equal(t, id, events[0].Beacon)

	// Still within tolerance: no repeat.
	events, _ = r.ApplyHeading(at(4*time.Second), Heading{Magnetic: 20, True: 22, Accuracy: 4})
	assert.Empty(t, events)

	// Uncalibrated reading stops facing even though the angle matches.
	events, _ = r.ApplyHeading(at(5*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 15})
	assert.Equal(t, []EventKind{EventStopFacing}, kinds(events))

	h, ok := r.LastHeading()
	require.True(t, ok)
	assert.Equal(t, at(5*time.Second), h.At)
}

func TestRegistry_StopFacingOnRemovalStart(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := foundWithTarget(t, r, 9)
	r.ApplyHeading(at(2*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})

	events, _ := r.ApplyCycle(at(3*time.Second), nil)
	assert.Equal(t, []EventKind{EventStopFacing}, kinds(events))
	rec, _ := r.Record(id)
	assert.Equal(t, StatePendingRemoval, rec.State)
	assert.Equal(t, NotFacing, rec.Facing)

	// Pending removal never faces.
	events, _ = r.ApplyHeading(at(3500*time.Millisecond), Heading{Magnetic: 5, True: 7, Accuracy: 1})
	assert.Empty(t, events)
}

func TestRegistry_FacingResumesAfterDropout(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := foundWithTarget(t, r, 9)
	events, _ := r.ApplyHeading(at(2*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})
	require.Equal(t, []EventKind{EventStartFacing}, kinds(events))

	events, _ = r.ApplyCycle(at(2500*time.Millisecond), nil)
	require.Equal(t, []EventKind{EventStopFacing}, kinds(events))

	// Signal back inside the removal dwell with the same heading.
	events, _ = r.ApplyCycle(at(3*time.Second), []Sample{seen(9, -60)})
	require.Equal(t, []EventKind{EventStartFacing}, kinds(events))
	assert.Equal(t, at(3*time.Second), events[0].At)
	rec, _ := r.Record(id)
	assert.Equal(t, StatePresent, rec.State)
	assert.Equal(t, Facing, rec.Facing)
}

func TestRegistry_DropoutRestoreWithoutMatchingHeading(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := foundWithTarget(t, r, 9)
	r.ApplyHeading(at(2*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})
	r.ApplyCycle(at(2500*time.Millisecond), nil)

	// Uncalibrated now; the restored record stays not facing.
	events, _ := r.ApplyHeading(at(2700*time.Millisecond), Heading{Magnetic: 5, True: 7, Accuracy: 30})
	require.Empty(t, events)
	events, _ = r.ApplyCycle(at(3*time.Second), []Sample{seen(9, -60)})
	assert.Empty(t, events)
	rec, _ := r.Record(id)
	assert.Equal(t, NotFacing, rec.Facing)
}

func TestRegistry_StopFacingBeforeLost(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.LostIterationThreshold = 1 })
	foundWithTarget(t, r, 9)
	r.ApplyHeading(at(2*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})

	events, _ := r.ApplyCycle(at(3*time.Second), nil)
	assert.Equal(t, []EventKind{EventStopFacing, EventLost}, kinds(events))
}

func TestRegistry_NoFacingWithoutTargetOrPresence(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	require.NoError(t, r.AssignTarget(mustID(t, 2), TargetOrientation{MagneticHeading: 5, TrueHeading: 5}))
	r.ApplyCycle(t0, []Sample{seen(1, -60), seen(2, -60)})

	// 2 is pending addition, 1 has no target.
	events, err := r.ApplyHeading(at(time.Second), Heading{Magnetic: 5, True: 5, Accuracy: 1})
	require.NoError(t, err)
	assert.Empty(t, events)

	// Once found, 2 faces against the heading it already has.
	events, _ = r.ApplyCycle(at(2*time.Second), []Sample{seen(1, -60), seen(2, -60)})
	require.Equal(t, []EventKind{EventFound, EventFound, EventStartFacing}, kinds(events))
	assert.Equal(t, mustID(t, 2), events[2].Beacon)

	events, _ = r.ApplyHeading(at(3*time.Second), Heading{Magnetic: 5, True: 5, Accuracy: 1})
	assert.Empty(t, events)
}

func TestRegistry_InvalidHeadingRejected(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	_, err := r.ApplyHeading(t0, Heading{Magnetic: math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidHeading)
	_, ok := r.LastHeading()
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Targets
// ---------------------------------------------------------------------------

func TestRegistry_TargetSurvivesEviction(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.LostIterationThreshold = 1 })
	id := foundWithTarget(t, r, 6)
	r.ApplyCycle(at(3*time.Second), nil)
	_, ok := r.Record(id)
	require.False(t, ok)

	r.ApplyCycle(at(4*time.Second), []Sample{seen(6, -60)})
	rec, ok := r.Record(id)
	require.True(t, ok)
	require.NotNil(t, rec.Target)
	assert.Equal(t, 5.0, rec.Target.MagneticHeading)
	assert.True(t, r.HasTarget(id))
	assert.Len(t, r.Targets(), 1)
}

func TestRegistry_RemoveTarget(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := foundWithTarget(t, r, 6)
	r.ApplyHeading(at(2*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})

	events, ok := r.RemoveTarget(at(3*time.Second), id)
	require.True(t, ok)
	require.Equal(t, []EventKind{EventStopFacing}, kinds(events))
	assert.Equal(t, at(3*time.Second), events[0].At)
	assert.False(t, r.HasTarget(id))
	rec, _ := r.Record(id)
	assert.Nil(t, rec.Target)

	// Without a target the next heading never faces.
	events, _ = r.ApplyHeading(at(4*time.Second), Heading{Magnetic: 5, True: 7, Accuracy: 1})
	assert.Empty(t, events)

	events, ok = r.RemoveTarget(at(5*time.Second), id)
	assert.False(t, ok)
	assert.Empty(t, events)
}

func TestRegistry_AssignTargetValidates(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	err := r.AssignTarget(mustID(t, 1), TargetOrientation{MagneticHeading: 400})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.False(t, r.HasTarget(mustID(t, 1)))
}

// ---------------------------------------------------------------------------
// Deadlines and timer fires
// ---------------------------------------------------------------------------

func TestRegistry_FireDeadline(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})

	ds := r.Deadlines()
	require.Len(t, ds, 1)
	assert.Equal(t, AdditionDeadline, ds[0].Kind)
	assert.Equal(t, at(2*time.Second), ds[0].At)

	events, err := r.Fire(ds[0].At, ds[0])
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventFound}, kinds(events))

	// Same deadline again is stale.
	_, err = r.Fire(ds[0].At, ds[0])
	assert.ErrorIs(t, err, ErrStaleTimer)
}

func TestRegistry_StaleFireIsNoop(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	id := mustID(t, 1)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})
	r.ApplyCycle(at(2*time.Second), []Sample{seen(1, -60)})
	r.ApplyCycle(at(3*time.Second), nil)

	removal := r.Deadlines()
	require.Len(t, removal, 1)
	require.Equal(t, RemovalDeadline, removal[0].Kind)

	// Signal returns; the removal timer must be harmless afterwards.
	r.ApplyCycle(at(4*time.Second), []Sample{seen(1, -60)})
	before, _ := r.Record(id)

	events, err := r.Fire(removal[0].At, removal[0])
	assert.True(t, IsStale(err))
	assert.Empty(t, events)
	after, _ := r.Record(id)
	assert.Empty(t, cmp.Diff(before, after))

	// Wrong kind at the current generation is stale too.
	_, err = r.Fire(at(5*time.Second), Deadline{Beacon: id, Kind: AdditionDeadline, Generation: after.Generation})
	assert.ErrorIs(t, err, ErrStaleTimer)

	// Evicted record.
	_, err = r.Fire(at(5*time.Second), Deadline{Beacon: mustID(t, 99), Kind: RemovalDeadline})
	assert.ErrorIs(t, err, ErrStaleTimer)
}

// ---------------------------------------------------------------------------
// Distance and history
// ---------------------------------------------------------------------------

func TestRegistry_Distance(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.SmoothingWindow = 2 })
	id := mustID(t, 1)

	r.ApplyCycle(t0, []Sample{seen(1, -59)})
	rec, _ := r.Record(id)
	assert.InDelta(t, 1.0, rec.EstimatedDistance, 1e-9)

	r.ApplyCycle(at(time.Second), []Sample{seen(1, -99)})
	rec, _ = r.Record(id)
	// mean(-59, -99) = -79 -> 10^(20/20)
	assert.InDelta(t, 10.0, rec.EstimatedDistance, 1e-9)

	acc := 2.5
	r.ApplyCycle(at(2*time.Second), []Sample{{UUID: testUUID, Major: 1, Minor: 1, RSSI: -70, Accuracy: &acc}})
	rec, _ = r.Record(id)
	assert.Equal(t, 2.5, rec.EstimatedDistance)

	r.ApplyCycle(at(3*time.Second), nil)
	rec, _ = r.Record(id)
	assert.Equal(t, UnknownDistance, rec.EstimatedDistance)
	assert.Equal(t, at(2*time.Second), rec.LastSeen)
}

func TestRegistry_HistoryBounded(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.RSSIHistoryLength = 3 })
	for i := 0; i < 6; i++ {
		r.ApplyCycle(at(time.Duration(i)*100*time.Millisecond), []Sample{seen(1, -60-i)})
	}
	rec, _ := r.Record(mustID(t, 1))
	require.Len(t, rec.History, 3)
	assert.Equal(t, -63, rec.History[0].RSSI)
	assert.Equal(t, -65, rec.History[2].RSSI)
}

func TestNewRegistry_RejectsZeroAdditionDwell(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.AdditionDwell = 0
	_, err := NewRegistry(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ---------------------------------------------------------------------------
// Randomized consistency checks
// ---------------------------------------------------------------------------

func TestRegistry_RandomizedConsistency(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, nil)
	rng := rand.New(rand.NewSource(42))

	for minor := 1; minor <= 4; minor++ {
		require.NoError(t, r.AssignTarget(mustID(t, minor), TargetOrientation{MagneticHeading: 90, TrueHeading: 90}))
	}

	present := map[ID]bool{}
	facing := map[ID]bool{}
	var now time.Time
	for step := 0; step < 2000; step++ {
		now = at(time.Duration(step) * 250 * time.Millisecond)

		var events []Event
		if rng.Intn(4) == 0 {
			evs, err := r.ApplyHeading(now, Heading{
				Magnetic: float64(rng.Intn(360)),
				True:     float64(rng.Intn(360)),
				Accuracy: float64(rng.Intn(20)),
			})
			require.NoError(t, err)
			events = evs
		} else {
			var batch []Sample
			for minor := 1; minor <= 4; minor++ {
				switch rng.Intn(4) {
				case 0: // omitted
				case 1:
					batch = append(batch, seen(minor, UnknownRSSI))
				default:
					batch = append(batch, seen(minor, -40-rng.Intn(50)))
				}
			}
			evs, warnings := r.ApplyCycle(now, batch)
			require.Empty(t, warnings)
			events = evs
		}

		perCall := map[ID][]EventKind{}
		for _, e := range events {
			perCall[e.Beacon] = append(perCall[e.Beacon], e.Kind)
			switch e.Kind {
			case EventFound:
				require.False(t, present[e.Beacon], "found twice without lost at step %d", step)
				present[e.Beacon] = true
			case EventLost:
				require.True(t, present[e.Beacon], "lost without found at step %d", step)
				require.False(t, facing[e.Beacon], "lost while facing at step %d", step)
				present[e.Beacon] = false
			case EventStartFacing:
				require.True(t, present[e.Beacon])
				require.False(t, facing[e.Beacon])
				facing[e.Beacon] = true
			case EventStopFacing:
				require.True(t, facing[e.Beacon])
				facing[e.Beacon] = false
			}
		}
		for id, ks := range perCall {
			assert.False(t, contains(ks, EventFound) && contains(ks, EventLost), "found and lost for %s in one call", id)
		}
		for _, rec := range r.Records() {
			if rec.Facing == Facing {
				require.Equal(t, StatePresent, rec.State)
			}
			require.Equal(t, present[rec.ID], rec.State == StatePresent || rec.State == StatePendingRemoval)
		}
	}
}

func contains(ks []EventKind, k EventKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

func TestRegistry_FoundAndLostNeverShareACycle(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, func(c *Config) { c.LostIterationThreshold = 1 })
	id := mustID(t, 1)
	r.ApplyCycle(t0, []Sample{seen(1, -60)})

	// The addition deadline is overdue and the beacon is missing.
	events, _ := r.ApplyCycle(at(2*time.Second), nil)
	assert.Equal(t, []EventKind{EventFound}, kinds(events))
	rec, ok := r.Record(id)
	require.True(t, ok)
	assert.Equal(t, UnknownRSSI, rec.LastRSSI)

	events, _ = r.ApplyCycle(at(3*time.Second), nil)
	assert.Equal(t, []EventKind{EventLost}, kinds(events))
}
