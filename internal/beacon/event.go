package beacon

import "time"

// EventKind names one of the four debounced notifications.
type EventKind string

const (
	EventFound       EventKind = "found"
	EventLost        EventKind = "lost"
	EventStartFacing EventKind = "start_facing"
	EventStopFacing  EventKind = "stop_facing"
)

// Event is emitted by the registry on a lifecycle or facing transition.
type Event struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	Beacon   ID        `json:"beacon_id"`
	VisitID  string    `json:"visit_id"`
	RSSI     int       `json:"rssi"`
	Distance float64   `json:"distance"`
	At       time.Time `json:"at"`
}
