package serialmux

import "strings"

const (
	EventTypeRanging = "ranging"
	EventTypeHeading = "heading"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a scanner line and returns a coarse type token.
// Only JSON objects are classified; anything else is unknown.
func ClassifyPayload(payload string) string {
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	switch {
	case strings.Contains(payload, `"beacons"`):
		return EventTypeRanging
	case strings.Contains(payload, `"magnetic_heading"`):
		return EventTypeHeading
	default:
		return EventTypeStatus
	}
}
