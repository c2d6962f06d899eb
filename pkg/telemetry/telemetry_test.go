package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/o2mon/pkg/cell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

var _ mqtt.Token = (*fakeToken)(nil)

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu    sync.Mutex
	msgs  []published
	token *fakeToken
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func testSources() Sources {
	s := Sources{
		Inner:         &cell.Cell{},
		Outer:         &cell.Cell{},
		Voltage:       &cell.Cell{},
		Concentration: &cell.Cell{},
	}
	s.Inner.Replace(cell.Reading{Temperature: 2500, Pressure: 101325})
	s.Outer.Replace(cell.Reading{Temperature: 2400, Pressure: 90000})
	s.Voltage.SetField(cell.FieldBusVoltage, 500<<3)
	s.Concentration.Replace(cell.Reading{Concentration: 2095})
	return s
}

func TestSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := testSources().Snapshot(now)

	assert.Equal(t, now, msg.Time)
	assert.Equal(t, int16(2500), msg.Inner.Temperature)
	assert.InDelta(t, 101.325, msg.Inner.PressureKPa, 1e-3)
	assert.InDelta(t, 90.0, msg.Outer.PressureKPa, 1e-3)
	assert.InDelta(t, 2.0, msg.BusVoltage, 1e-4)
	assert.InDelta(t, 20.95, msg.Concentration, 1e-4)
	assert.Nil(t, msg.Override)
}

func TestSnapshotOverride(t *testing.T) {
	s := testSources()
	s.Concentration.StoreOverride(1900)

	msg := s.Snapshot(time.Now())
	require.NotNil(t, msg.Override)
	assert.InDelta(t, 19.0, *msg.Override, 1e-4)
}

func TestPublish(t *testing.T) {
	client := &fakeClient{}
	m := NewMirror(client, "o2mon/readings", testSources(), time.Second)
	m.now = func() time.Time { return time.Unix(0, 0) }

	require.NoError(t, m.Publish())
	require.Len(t, client.msgs, 1)
	assert.Equal(t, "o2mon/readings", client.msgs[0].topic)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &got))
	assert.InDelta(t, 20.95, got["concentration_percent"], 1e-4)
	assert.NotContains(t, got, "override_percent")
	assert.Contains(t, got, "inner")
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name  string
		token *fakeToken
		is    error
	}{
		{name: "broker error", token: &fakeToken{err: errors.New("not connected")}},
		{name: "timeout", token: &fakeToken{pending: true}, is: ErrPublishTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMirror(&fakeClient{token: tt.token}, "t", testSources(), time.Second)
			err := m.Publish()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestRun(t *testing.T) {
	client := &fakeClient{}
	m := NewMirror(client, "t", testSources(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	require.Eventually(t, func() bool { return client.count() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
