package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	Logger   *slog.Logger
}

// MQTT publishes every reading as retained JSON to <topic>/<device_id>
type MQTT struct {
	client mqtt.Client
	pub    publisher
	topic  string
	logger *slog.Logger
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	s := newMQTT(client, cfg.Topic, cfg.Logger)
	s.client = client
	return s, nil
}

func newMQTT(pub publisher, topic string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MQTT{
		pub:    pub,
		topic:  strings.TrimSuffix(topic, "/"),
		logger: logger,
	}
}

func (s *MQTT) Record(ctx context.Context, r sensor.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Sink: "mqtt", DeviceID: r.DeviceID, Err: err}
	}
	topic := s.Topic(r.DeviceID)
	token := s.pub.Publish(topic, 1, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return &WriteError{Sink: "mqtt", DeviceID: r.DeviceID, Err: err}
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Published reading", slog.String("topic", topic))
	return nil
}

// Topic returns the topic readings of the given device are published to
func (s *MQTT) Topic(deviceID string) string {
	id := strings.ToLower(strings.ReplaceAll(deviceID, ":", ""))
	return s.topic + "/" + id
}

func (s *MQTT) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}
