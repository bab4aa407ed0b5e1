package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	log "log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mrlauy/ghome-bridge/config"
	"github.com/mrlauy/ghome-bridge/report"
)

// Mqtt publishes reported device state as retained messages.
type Mqtt struct {
	client      mqtt.Client
	topicPrefix string
}

func NewMqtt(cfg config.MqttConfig) (*Mqtt, error) {
	opts := mqtt.NewClientOptions()
	if cfg.Tls {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port))
		opts.SetTLSConfig(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	}
	opts.SetClientID(cfg.ClientId)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	opts.SetDefaultPublishHandler(messagePubHandler)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return &Mqtt{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
	}, nil
}

func (m *Mqtt) SendMessage(ctx context.Context, topic string, message []byte) error {
	log.Debug("send mqtt message", "topic", topic, "message", string(message))
	token := m.client.Publish(topic, 1, true, message)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// Notify publishes the state of every device in the notification on <prefix>/<device>/state.
func (m *Mqtt) Notify(ctx context.Context, notification report.Notification) error {
	for id, state := range notification.States {
		message, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state of %s: %w", id, err)
		}
		if err := m.SendMessage(ctx, m.topic(id), message); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mqtt) Close() {
	m.client.Disconnect(250)
}

func (m *Mqtt) topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", m.topicPrefix, deviceID)
}

var messagePubHandler mqtt.MessageHandler = func(client mqtt.Client, msg mqtt.Message) {
	log.Info("received message", "topic", msg.Topic(), "message", msg.Payload())
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Debug("mqtt client connected")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Warn("mqtt client connect lost", "error", err)
}
