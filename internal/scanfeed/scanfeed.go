// Package scanfeed subscribes to the site broker and delivers raw QR scan
// payloads published by handheld scanner devices. Each device publishes the
// scanned string verbatim to scanners/<device-id>/scan; interpretation
// happens upstream.
package scanfeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives one raw scan payload along with the publishing device id.
type Handler func(ctx context.Context, deviceID, payload string)

// Feed owns the MQTT client connection and subscription.
type Feed struct {
	brokerURL string
	topic     string
	logger    *slog.Logger
	handler   Handler
	client    mqtt.Client
}

// New prepares a feed; Start establishes the connection.
func New(brokerURL, topic string, logger *slog.Logger, handler Handler) *Feed {
	return &Feed{brokerURL: brokerURL, topic: topic, logger: logger, handler: handler}
}

// Start connects to the broker and subscribes. The provided context bounds
// every handler invocation triggered by the subscription.
func (f *Feed) Start(ctx context.Context) error {
	clientID := fmt.Sprintf("panelscan-server-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(f.brokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		f.logger.Warn("scan feed connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect scan broker: %w", token.Error())
	}

	token := client.Subscribe(f.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		f.dispatch(ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("subscribe %s: %w", f.topic, token.Error())
	}

	f.client = client
	f.logger.Info("scan feed started", "broker", f.brokerURL, "topic", f.topic)
	return nil
}

// Stop tears down the subscription and connection.
func (f *Feed) Stop() {
	if f.client == nil {
		return
	}
	if token := f.client.Unsubscribe(f.topic); token.Wait() && token.Error() != nil {
		f.logger.Warn("scan feed unsubscribe failed", "error", token.Error())
	}
	f.client.Disconnect(250)
	f.client = nil
}

// dispatch hands one published message to the handler, resolving the device
// id from the topic it arrived on.
func (f *Feed) dispatch(ctx context.Context, topic string, payload []byte) {
	f.handler(ctx, deviceID(topic), string(payload))
}

// deviceID extracts the device segment from scanners/<device-id>/scan.
func deviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return topic
}
