// Package feed turns scanner output into tracker calls. Scanners and
// gateways emit one JSON object per line: a ranging batch
//
//	{"beacons":[{"uuid":"…","major":1,"minor":2,"rssi":-61}]}
//
// or a compass observation
//
//	{"magnetic_heading":271.5,"true_heading":270.1,"heading_accuracy":5}
//
// Feeds are push-only: every decoded message is applied immediately and
// stamped by the tracker's clock. Any scanner timestamp in a line is ignored.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/serialmux"
)

// Target is what a feed drives; *tracker.Tracker implements it.
type Target interface {
	ApplyCycle(ctx context.Context, samples []beacon.Sample) ([]beacon.Event, []error)
	ApplyHeading(ctx context.Context, h beacon.Heading) ([]beacon.Event, error)
}

// Ranging is one scanner cycle. An empty Beacons list is a valid cycle in
// which nothing was heard.
type Ranging struct {
	Beacons []beacon.Sample `json:"beacons"`
}

// Message is one decoded line; exactly one of Ranging or Heading is set.
type Message struct {
	Ranging *Ranging
	Heading *beacon.Heading
}

// ErrUnrecognized marks a line that is neither ranging nor heading output.
var ErrUnrecognized = fmt.Errorf("unrecognized scanner line")

// ParseLine decodes one scanner line.
func ParseLine(line string) (Message, error) {
	line = strings.TrimSpace(line)
	switch serialmux.ClassifyPayload(line) {
	case serialmux.EventTypeRanging:
		var r Ranging
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return Message{}, fmt.Errorf("decode ranging line: %w", err)
		}
		return Message{Ranging: &r}, nil
	case serialmux.EventTypeHeading:
		var h beacon.Heading
		if err := json.Unmarshal([]byte(line), &h); err != nil {
			return Message{}, fmt.Errorf("decode heading line: %w", err)
		}
		return Message{Heading: &h}, nil
	}
	return Message{}, fmt.Errorf("%w: %.40q", ErrUnrecognized, line)
}

// Apply hands a decoded message to target.
func Apply(ctx context.Context, target Target, m Message) error {
	switch {
	case m.Ranging != nil:
		target.ApplyCycle(ctx, m.Ranging.Beacons)
		return nil
	case m.Heading != nil:
		_, err := target.ApplyHeading(ctx, *m.Heading)
		return err
	}
	return ErrUnrecognized
}

// HandleLine parses and applies one line.
func HandleLine(ctx context.Context, target Target, line string) error {
	m, err := ParseLine(line)
	if err != nil {
		return err
	}
	return Apply(ctx, target, m)
}
