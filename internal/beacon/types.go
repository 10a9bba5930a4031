// Package beacon holds the proximity beacon model and the pure decision
// logic over it: the lifecycle debouncer, the facing detector and the
// registry that owns the records. Nothing here reads a clock or starts a
// goroutine; callers pass the current time in and drive deadlines from
// outside (see internal/tracker).
package beacon

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// UnknownRSSI is the reading a scanner reports for a beacon it did not
	// hear this cycle.
	UnknownRSSI = 0
	// MinRSSI is the weakest reading accepted as real.
	MinRSSI = -127
	// UnknownDistance marks an EstimatedDistance that could not be derived.
	UnknownDistance = -1.0
)

// LifecycleState represents where a beacon is in the found/lost debounce.
type LifecycleState string

const (
	StateAbsent          LifecycleState = "absent"
	StatePendingAddition LifecycleState = "pending_addition" // seen, dwelling before found
	StatePresent         LifecycleState = "present"          // found
	StatePendingRemoval  LifecycleState = "pending_removal"  // found, signal dropped
)

// FacingState reports whether the user is pointed at a beacon's target.
type FacingState string

const (
	NotFacing FacingState = "not_facing"
	Facing    FacingState = "facing"
)

// ID is the composite beacon key: region UUID plus major/minor.
type ID struct {
	UUID  uuid.UUID
	Major uint16
	Minor uint16
}

// NewID validates and builds an ID from raw scanner fields.
func NewID(rawUUID string, major, minor int) (ID, error) {
	u, err := uuid.Parse(rawUUID)
	if err != nil {
		return ID{}, fmt.Errorf("uuid %q: %w", rawUUID, err)
	}
	if major < 0 || major > 0xFFFF {
		return ID{}, fmt.Errorf("major %d out of range 0-65535", major)
	}
	if minor < 0 || minor > 0xFFFF {
		return ID{}, fmt.Errorf("minor %d out of range 0-65535", minor)
	}
	return ID{UUID: u, Major: uint16(major), Minor: uint16(minor)}, nil
}

// ParseID parses the "uuid:major:minor" form produced by String.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("beacon id %q: want uuid:major:minor", s)
	}
	major, err := strconv.Atoi(parts[1])
	if err != nil {
		return ID{}, fmt.Errorf("beacon id %q: major: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[2])
	if err != nil {
		return ID{}, fmt.Errorf("beacon id %q: minor: %w", s, err)
	}
	return NewID(parts[0], major, minor)
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d:%d", id.UUID, id.Major, id.Minor)
}

// Less orders IDs by UUID bytes, then major, then minor.
func (id ID) Less(other ID) bool {
	if c := bytes.Compare(id.UUID[:], other.UUID[:]); c != 0 {
		return c < 0
	}
	if id.Major != other.Major {
		return id.Major < other.Major
	}
	return id.Minor < other.Minor
}

// MarshalText lets IDs appear as JSON strings and map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Sample is one beacon's raw reading within a ranging cycle.
type Sample struct {
	UUID  string `json:"uuid"`
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	RSSI  int    `json:"rssi"` // dBm; 0 when unknown this cycle

	// Accuracy is the scanner's own distance estimate in metres, if it
	// provides one. Negative means unknown.
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Known reports whether the sample carries a usable signal strength.
func (s Sample) Known() bool {
	return s.RSSI != UnknownRSSI
}

// Heading is one compass observation.
type Heading struct {
	Magnetic float64   `json:"magnetic_heading"` // degrees from magnetic north
	True     float64   `json:"true_heading"`     // degrees from true north; negative if undetermined
	Accuracy float64   `json:"heading_accuracy"` // max error in degrees; negative if invalid
	At       time.Time `json:"at"`
}

// TargetOrientation is the direction and location a user must face to be
// facing a beacon.
type TargetOrientation struct {
	MagneticHeading float64 `json:"magnetic_heading"`
	TrueHeading     float64 `json:"true_heading"`
	HeadingAccuracy float64 `json:"heading_accuracy"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

// RSSIPoint is one entry of a record's signal history.
type RSSIPoint struct {
	At   time.Time `json:"at"`
	RSSI int       `json:"rssi"` // UnknownRSSI for a missed cycle
}

// Record is the registry's state for one physically distinct beacon.
type Record struct {
	// Identity
	ID      ID     `json:"id"`
	VisitID string `json:"visit_id"` // new per detection; pairs found with lost

	State  LifecycleState `json:"state"`
	Facing FacingState    `json:"facing"`

	LastRSSI          int                `json:"last_rssi"`
	EstimatedDistance float64            `json:"estimated_distance"`
	Target            *TargetOrientation `json:"target,omitempty"`

	// Lifecycle counters and deadlines
	ConsecutiveUnknown int       `json:"consecutive_unknown"`
	AdditionDeadline   time.Time `json:"addition_deadline"`
	RemovalDeadline    time.Time `json:"removal_deadline"`
	Generation         uint64    `json:"generation"`

	FirstSeen time.Time   `json:"first_seen"`
	LastSeen  time.Time   `json:"last_seen"` // last known reading
	History   []RSSIPoint `json:"history,omitempty"`
}

// clone returns a copy safe to hand out of the registry.
func (r *Record) clone() Record {
	c := *r
	if r.Target != nil {
		t := *r.Target
		c.Target = &t
	}
	c.History = append([]RSSIPoint(nil), r.History...)
	return c
}
