// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cobaltcore-dev/tenantnet/internal/conf"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher of lifecycle events.
type Publisher interface {
	// Publish the object as json. Failures are logged, not returned.
	Publish(topic string, obj any)
	// Disconnect from the broker, if connected.
	Disconnect()
}

type client struct {
	conf    conf.MQTTConfig
	monitor Monitor
	// MQTT client to publish mqtt data.
	client mqtt.Client
	// Lock to prevent concurrent writes to the MQTT client.
	lock sync.Mutex
	// Bound for connecting and for each publish.
	timeout time.Duration
}

// Create a publisher for the configured broker. Without a broker url,
// events are dropped.
func NewPublisher(c conf.MQTTConfig, m Monitor) Publisher {
	if c.URL == "" {
		return noopPublisher{}
	}
	return &client{conf: c, monitor: m, timeout: c.Timeout()}
}

// Called when the connection to the mqtt broker is lost.
// The next publish reconnects.
func (t *client) onUnexpectedConnectionLoss(lost mqtt.Client, err error) {
	slog.Error("mqtt: lost connection to broker", "error", err)
	t.lock.Lock()
	if t.client == lost {
		t.client = nil
	}
	t.lock.Unlock()
	lost.Disconnect(0)
}

// Drop the current client after a failure. Must be called with the lock held.
func (t *client) reset() {
	if t.client == nil {
		return
	}
	t.client.Disconnect(0)
	t.client = nil
}

// Connect to the mqtt broker. Must be called with the lock held.
func (t *client) connect() error {
	if t.client != nil {
		return nil
	}
	if t.monitor.connectionAttempts != nil {
		t.monitor.connectionAttempts.Inc()
	}
	slog.Info("mqtt: connecting to broker", "url", t.conf.URL)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.conf.URL)
	opts.SetConnectTimeout(t.timeout)
	opts.SetConnectRetry(false)
	// Reconnects happen on the next publish. Paho keeps in-flight tokens
	// pending across its own reconnects.
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(t.onUnexpectedConnectionLoss)
	//nolint:gosec // We don't care if the client id is cryptographically secure.
	opts.SetClientID(fmt.Sprintf("tenantnet-%d", rand.Intn(1_000_000)))
	opts.SetOrderMatters(false)
	opts.SetProtocolVersion(4)
	opts.SetUsername(t.conf.Username)
	opts.SetPassword(t.conf.Password)

	c := mqtt.NewClient(opts)
	conn := c.Connect()
	if !conn.WaitTimeout(t.timeout) {
		c.Disconnect(0)
		return fmt.Errorf("timed out connecting to mqtt broker after %s", t.timeout)
	}
	if conn.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", conn.Error())
	}
	t.client = c
	slog.Info("mqtt: connected to broker")
	return nil
}

func (t *client) Publish(topic string, obj any) {
	if err := t.publish(topic, obj); err != nil {
		if t.monitor.publishFailures != nil {
			t.monitor.publishFailures.Inc()
		}
		slog.Error("mqtt: failed to publish", "topic", topic, "error", err)
		return
	}
	slog.Debug("mqtt: published", "topic", topic)
}

func (t *client) publish(topic string, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.connect(); err != nil {
		return err
	}
	pub := t.client.Publish(topic, 2, false, data)
	if !pub.WaitTimeout(t.timeout) {
		t.reset()
		return fmt.Errorf("timed out publishing after %s", t.timeout)
	}
	if err := pub.Error(); err != nil {
		t.reset()
		return err
	}
	return nil
}

func (t *client) Disconnect() {
	t.lock.Lock()
	c := t.client
	t.client = nil
	t.lock.Unlock()
	if c == nil {
		return
	}
	c.Disconnect(1000)
	slog.Info("mqtt: disconnected from broker")
}

type noopPublisher struct{}

func (noopPublisher) Publish(topic string, obj any) {}
func (noopPublisher) Disconnect()                   {}
