package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/i474232898/weather-station-feed/internal/sensor"
)

const (
	DefaultTopicPrefix = "weather-station"

	mqttQoS            = 1
	mqttPublishTimeout = 5 * time.Second
)

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes sensor states as retained messages:
//
//	<prefix>/<object_id>/state       raw value, empty when the metric is absent
//	<prefix>/<object_id>/attributes  JSON with name, unit, icon and update time
//
// An empty retained payload clears the broker's retained value.
type MQTT struct {
	client publisher
	prefix string
}

// NewMQTT creates an MQTT sink publishing under prefix.
func NewMQTT(client mqtt.Client, prefix string) *MQTT {
	return newMQTT(client, prefix)
}

func newMQTT(client publisher, prefix string) *MQTT {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTT{client: client, prefix: prefix}
}

// DialMQTT connects to broker and returns a client that reconnects on its own.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt: timed out connecting to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, err)
	}
	return client, nil
}

type mqttAttributes struct {
	Name      string    `json:"name"`
	Metric    string    `json:"metric"`
	Unit      string    `json:"unit,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *MQTT) WriteState(ctx context.Context, st sensor.State) error {
	base := m.prefix + "/" + st.ObjectID

	value := ""
	if st.Value != nil {
		value = *st.Value
	}
	if err := m.publish(ctx, base+"/state", []byte(value)); err != nil {
		return err
	}

	attrs, err := json.Marshal(mqttAttributes{
		Name:      st.Name,
		Metric:    string(st.Metric),
		Unit:      st.Unit,
		Icon:      st.Icon,
		UpdatedAt: st.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return m.publish(ctx, base+"/attributes", attrs)
}

func (m *MQTT) publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, mqttQoS, true, payload)

	timer := time.NewTimer(mqttPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	return nil
}
