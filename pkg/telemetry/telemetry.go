// Package telemetry mirrors the latest readings to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/task"
)

const (
	connectRetries    = 5
	connectMaxElapsed = 30 * time.Second
	disconnectQuiesce = 250 // ms
	publishTimeout    = 2 * time.Second
)

// Options are the broker connection settings.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect dials the broker, retrying with exponential backoff.
// The client is disconnected when ctx is done.
func Connect(ctx context.Context, o Options) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("Failed to connect to MQTT broker %s: %v", o.Broker, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", o.Broker, err)
	}

	log.Printf("Connected to MQTT broker at %s", o.Broker)

	go func() {
		<-ctx.Done()
		client.Disconnect(disconnectQuiesce)
	}()

	return client, nil
}

// Channel is one pressure/temperature stream.
type Channel struct {
	Temperature int16   `json:"temperature"`
	PressureKPa float32 `json:"pressure_kpa"`
}

// Message is the JSON document published on every interval.
type Message struct {
	Time          time.Time `json:"time"`
	Inner         Channel   `json:"inner"`
	Outer         Channel   `json:"outer"`
	BusVoltage    float32   `json:"bus_voltage"`
	Concentration float32   `json:"concentration_percent"`
	Override      *float32  `json:"override_percent,omitempty"`
}

// Sources are the cells a Mirror reads.
type Sources struct {
	Inner         *cell.Cell
	Outer         *cell.Cell
	Voltage       *cell.Cell
	Concentration *cell.Cell
}

// Snapshot builds a message from the current cell contents.
func (s Sources) Snapshot(now time.Time) Message {
	inner := s.Inner.Snapshot()
	outer := s.Outer.Snapshot()
	msg := Message{
		Time:          now.UTC(),
		Inner:         Channel{Temperature: inner.Temperature, PressureKPa: inner.PressureKPa()},
		Outer:         Channel{Temperature: outer.Temperature, PressureKPa: outer.PressureKPa()},
		BusVoltage:    s.Voltage.Snapshot().BusVolts(),
		Concentration: s.Concentration.Snapshot().ConcentrationPercent(),
	}
	if v, ok := s.Concentration.Override(); ok {
		pct := cell.Reading{Concentration: v}.ConcentrationPercent()
		msg.Override = &pct
	}
	return msg
}

// publisher is the part of mqtt.Client the mirror uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Mirror periodically publishes the readings.
type Mirror struct {
	client   publisher
	topic    string
	src      Sources
	interval time.Duration
	now      func() time.Time
}

// NewMirror creates a mirror publishing to topic through client.
func NewMirror(client publisher, topic string, src Sources, interval time.Duration) *Mirror {
	return &Mirror{
		client:   client,
		topic:    topic,
		src:      src,
		interval: interval,
		now:      time.Now,
	}
}

// Run publishes until ctx is cancelled. Failures are logged and skipped.
func (m *Mirror) Run(ctx context.Context) {
	for {
		if !task.Sleep(ctx, m.interval) {
			return
		}
		if err := m.Publish(); err != nil {
			log.Printf("telemetry: %v", err)
		}
	}
}

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("telemetry: publish timed out")

// Publish sends one message.
func (m *Mirror) Publish() error {
	payload, err := json.Marshal(m.src.Snapshot(m.now()))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", m.topic, err)
	}
	return nil
}
