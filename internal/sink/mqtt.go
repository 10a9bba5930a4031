package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/proximity.report/internal/beacon"
)

// Publisher is implemented by *mqtt.Client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTT publishes each event as JSON to <prefix>/events/<kind>.
type MQTT struct {
	Pub    Publisher
	Prefix string
	QoS    byte
}

// Topic returns the topic an event of kind k is published on.
func (m MQTT) Topic(k beacon.EventKind) string {
	return fmt.Sprintf("%s/events/%s", m.Prefix, k)
}

func (m MQTT) Deliver(ctx context.Context, events []beacon.Event) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", e.Kind, err)
		}
		if err := m.Pub.Publish(m.Topic(e.Kind), m.QoS, false, payload); err != nil {
			return fmt.Errorf("publish %s event for %s: %w", e.Kind, e.Beacon, err)
		}
	}
	return nil
}
