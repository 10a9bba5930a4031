package beacon

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSample marks a sample skipped for one cycle.
	ErrMalformedSample = errors.New("malformed sample")
	// ErrStaleTimer is returned when a deadline fires against a record that
	// has since changed generation, state, or been evicted.
	ErrStaleTimer = errors.New("stale timer")
	// ErrInvalidHeading rejects a compass observation outright.
	ErrInvalidHeading = errors.New("invalid heading")
	// ErrInvalidTarget rejects a target orientation assignment.
	ErrInvalidTarget = errors.New("invalid target orientation")
	// ErrInvalidConfig rejects a registry configuration.
	ErrInvalidConfig = errors.New("invalid beacon config")
)

// MalformedSampleError describes why one sample in a batch was skipped.
type MalformedSampleError struct {
	Index  int    // position in the batch
	Beacon string // raw identifier as received
	Field  string
	Reason string
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("sample %d (%s): %s: %s", e.Index, e.Beacon, e.Field, e.Reason)
}

func (e *MalformedSampleError) Unwrap() error { return ErrMalformedSample }
