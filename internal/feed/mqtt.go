package feed

import (
	"context"
	"strings"

	"github.com/banshee-data/proximity.report/internal/mqtt"
	"github.com/banshee-data/proximity.report/internal/monitoring"
)

// Subscriber is the part of *mqtt.Client the MQTT feed needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Topics returns the ranging and heading topics under prefix.
func Topics(prefix string) (ranging, heading string) {
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix + "/ranging", prefix + "/heading"
}

// MQTT subscribes to the ranging and heading topics under prefix and applies
// messages until ctx is done. Gateways publish the same JSON objects a
// serial scanner prints.
func MQTT(ctx context.Context, sub Subscriber, prefix string, target Target) error {
	ranging, heading := Topics(prefix)
	handler := func(topic string, payload []byte) error {
		return HandleLine(ctx, target, string(payload))
	}
	if err := sub.Subscribe(ranging, 0, handler); err != nil {
		return err
	}
	if err := sub.Subscribe(heading, 0, handler); err != nil {
		sub.Unsubscribe(ranging)
		return err
	}
	monitoring.Logf("mqtt feed subscribed to %s and %s", ranging, heading)

	<-ctx.Done()
	if err := sub.Unsubscribe(ranging, heading); err != nil {
		monitoring.Warnf("mqtt feed: %v", err)
	}
	return ctx.Err()
}
