package beacon

import "time"

// Transition is the outcome of feeding one observation or deadline to the
// lifecycle.
type Transition int

const (
	NoTransition    Transition = iota
	AdditionStarted            // absent -> pending addition
	Added                      // pending addition -> present (found)
	Discarded                  // pending addition -> absent, never found
	RemovalStarted             // present -> pending removal
	Restored                   // pending removal -> present
	Removed                    // present/pending removal -> absent (lost)
)

func (t Transition) String() string {
	switch t {
	case AdditionStarted:
		return "addition_started"
	case Added:
		return "added"
	case Discarded:
		return "discarded"
	case RemovalStarted:
		return "removal_started"
	case Restored:
		return "restored"
	case Removed:
		return "removed"
	default:
		return "none"
	}
}

// DeadlineKind distinguishes the two dwell timers.
type DeadlineKind int

const (
	AdditionDeadline DeadlineKind = iota + 1
	RemovalDeadline
)

func (k DeadlineKind) String() string {
	switch k {
	case AdditionDeadline:
		return "addition"
	case RemovalDeadline:
		return "removal"
	default:
		return "unknown"
	}
}

// Deadline is a pending dwell timer for one record. Generation is the
// record's generation when the deadline was set; any later transition bumps
// the record's generation and so invalidates the deadline.
type Deadline struct {
	Beacon     ID
	Kind       DeadlineKind
	Generation uint64
	At         time.Time
}

// Lifecycle is the per-beacon debouncing state machine. It mutates only the
// record it is handed and never evicts; the registry acts on the returned
// Transition.
type Lifecycle struct {
	AdditionDwell          time.Duration
	RemovalDwell           time.Duration
	LostIterationThreshold int
}

// enter moves r to state, clearing both deadlines and bumping the
// generation so any timer scheduled for the old state is stale.
func (l Lifecycle) enter(r *Record, state LifecycleState) {
	r.State = state
	r.AdditionDeadline = time.Time{}
	r.RemovalDeadline = time.Time{}
	r.Generation++
}

// Begin starts the addition dwell for a record created from its first
// known sample.
func (l Lifecycle) Begin(r *Record, now time.Time) Transition {
	l.enter(r, StatePendingAddition)
	r.ConsecutiveUnknown = 0
	r.AdditionDeadline = now.Add(l.AdditionDwell)
	return AdditionStarted
}

// Observe applies one cycle's reading. known is false when the beacon
// reported an unknown strength or was missing from the batch.
func (l Lifecycle) Observe(r *Record, known bool, now time.Time) Transition {
	l.Count(r, known)
	if known {
		if r.State == StatePendingRemoval {
			l.enter(r, StatePresent)
			return Restored
		}
		return NoTransition
	}

	ceiling := r.ConsecutiveUnknown >= l.LostIterationThreshold

	switch r.State {
	case StatePendingAddition:
		// The addition deadline keeps running through unknown cycles.
		if ceiling {
			l.enter(r, StateAbsent)
			return Discarded
		}
	case StatePresent:
		if ceiling {
			l.enter(r, StateAbsent)
			return Removed
		}
		l.enter(r, StatePendingRemoval)
		r.RemovalDeadline = now.Add(l.RemovalDwell)
		return RemovalStarted
	case StatePendingRemoval:
		// Already dwelling: the removal deadline is not restarted.
		if ceiling {
			l.enter(r, StateAbsent)
			return Removed
		}
	}
	return NoTransition
}

// Count updates the consecutive unknown count without changing state.
func (l Lifecycle) Count(r *Record, known bool) {
	if known {
		r.ConsecutiveUnknown = 0
		return
	}
	r.ConsecutiveUnknown++
}

// Expire resolves a deadline that is due at now. It is the sample-driven
// path for timers that have not fired yet.
func (l Lifecycle) Expire(r *Record, now time.Time) Transition {
	switch {
	case r.State == StatePendingAddition && !now.Before(r.AdditionDeadline):
		return l.Fire(r, AdditionDeadline)
	case r.State == StatePendingRemoval && !now.Before(r.RemovalDeadline):
		return l.Fire(r, RemovalDeadline)
	}
	return NoTransition
}

// Fire completes the dwell of the given kind. The caller has already matched
// the deadline's generation; a kind that does not match the record's state
// is a no-op.
func (l Lifecycle) Fire(r *Record, kind DeadlineKind) Transition {
	switch {
	case kind == AdditionDeadline && r.State == StatePendingAddition:
		// The unknown count carries over; only a known reading resets it.
		l.enter(r, StatePresent)
		return Added
	case kind == RemovalDeadline && r.State == StatePendingRemoval:
		l.enter(r, StateAbsent)
		return Removed
	}
	return NoTransition
}

// Pending returns the record's active deadline, if any.
func (l Lifecycle) Pending(r *Record) (Deadline, bool) {
	switch r.State {
	case StatePendingAddition:
		return Deadline{Beacon: r.ID, Kind: AdditionDeadline, Generation: r.Generation, At: r.AdditionDeadline}, true
	case StatePendingRemoval:
		return Deadline{Beacon: r.ID, Kind: RemovalDeadline, Generation: r.Generation, At: r.RemovalDeadline}, true
	}
	return Deadline{}, false
}
