// Package mqtt is a thin wrapper over the paho MQTT client used by the
// sample feed (scanner gateways publishing ranging batches) and the event
// publisher.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/proximity.report/internal/monitoring"
)

// MessageHandler handles one received message. An error is logged; it does
// not stop the subscription.
type MessageHandler func(topic string, payload []byte) error

// Config holds the broker connection settings.
type Config struct {
	Broker         string        // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration // zero waits indefinitely
}

// Client wraps a connected paho client.
type Client struct {
	client paho.Client
	cfg    Config
}

// NewClient connects to the broker described by cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		monitoring.Warnf("mqtt connection to %s lost: %v", cfg.Broker, err)
	})

	c := &Client{client: paho.NewClient(opts), cfg: cfg}
	if err := c.wait(c.client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	monitoring.Logf("mqtt connected to %s as %q", cfg.Broker, cfg.ClientID)
	return c, nil
}

// wait blocks on t, bounded by the configured connect timeout.
func (c *Client) wait(t paho.Token) error {
	if c.cfg.ConnectTimeout > 0 {
		if !t.WaitTimeout(c.cfg.ConnectTimeout) {
			return fmt.Errorf("timed out after %s", c.cfg.ConnectTimeout)
		}
	} else {
		t.Wait()
	}
	return t.Error()
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			monitoring.Warnf("mqtt message on %s: %v", msg.Topic(), err)
		}
	})
	if err := c.wait(token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker's acknowledgement.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if err := c.wait(c.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes subscriptions for topics.
func (c *Client) Unsubscribe(topics ...string) error {
	if err := c.wait(c.client.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Disconnect closes the connection, allowing 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
