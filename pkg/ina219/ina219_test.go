package ina219

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestReadRaw(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x40, W: []byte{0x02}, R: []byte{0x12, 0x34}},
		},
	}
	d := New(bus, DefaultAddress)

	raw, err := d.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), raw)
	require.NoError(t, bus.Close())
}

func TestReadRawError(t *testing.T) {
	bus := NewMockBus(DefaultAddress, 1)
	bus.SetError(errors.New("nack"))
	d := New(bus, DefaultAddress)

	_, err := d.ReadRaw()
	assert.Error(t, err)
}

func TestReadRawWrongAddress(t *testing.T) {
	bus := NewMockBus(0x41, 1)
	d := New(bus, DefaultAddress)

	_, err := d.ReadRaw()
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestVolts(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		want float32
	}{
		{name: "zero", raw: 0, want: 0},
		{name: "status bits ignored", raw: 0x0007, want: 0},
		{name: "one step", raw: 0x0008, want: 0.004},
		{name: "two volts", raw: 500 << 3, want: 2.0},
		{name: "full scale", raw: 0xFFF8, want: 32.764},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Volts(tt.raw), 1e-4)
		})
	}
}

func TestVoltsMatchesCell(t *testing.T) {
	for _, raw := range []uint16{0, 0x0007, 0x0008, 260 << 3, 500 << 3, 0xFFF8, 0xFFFF} {
		assert.Equal(t, cell.Reading{BusVoltage: raw}.BusVolts(), Volts(raw), "raw 0x%04x", raw)
	}
}

func TestPotential(t *testing.T) {
	assert.Equal(t, 2*physic.Volt, Potential(500<<3))
	assert.Equal(t, 4*physic.MilliVolt, Potential(0x000F))
}

func TestMockBusRoundTrip(t *testing.T) {
	bus := NewMockBus(DefaultAddress, 1.0)
	d := New(bus, DefaultAddress)

	raw, err := d.ReadRaw()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, Volts(raw), 1e-4)
	assert.Equal(t, 1, bus.Reads())
}

func TestPollerUpdatesOnlyBusVoltage(t *testing.T) {
	bus := NewMockBus(DefaultAddress, 2.0)
	c := &cell.Cell{}
	c.Replace(cell.Reading{Temperature: 3, Pressure: 4, Concentration: 5})

	p := NewPoller(New(bus, DefaultAddress), c, time.Millisecond, nil)
	require.NoError(t, p.PollOnce())

	got := c.Snapshot()
	assert.Equal(t, uint16(500<<3), got.BusVoltage)
	assert.InDelta(t, 2.0, got.BusVolts(), 1e-4)
	assert.Equal(t, int16(3), got.Temperature)
	assert.Equal(t, uint32(4), got.Pressure)
	assert.Equal(t, uint32(5), got.Concentration)
}

func TestPollerErrorLeavesCell(t *testing.T) {
	bus := NewMockBus(DefaultAddress, 2.0)
	c := &cell.Cell{}
	p := NewPoller(New(bus, DefaultAddress), c, time.Millisecond, nil)
	require.NoError(t, p.PollOnce())

	bus.SetError(errors.New("bus stuck"))
	assert.Error(t, p.PollOnce())
	assert.Equal(t, uint16(500<<3), c.Snapshot().BusVoltage)
}

func TestPollerRun(t *testing.T) {
	bus := NewMockBus(DefaultAddress, 1.5)
	c := &cell.Cell{}
	p := NewPoller(New(bus, DefaultAddress), c, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return bus.Reads() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.InDelta(t, 1.5, c.Snapshot().BusVolts(), 1e-4)
}

func TestNewPollerDefaultInterval(t *testing.T) {
	p := NewPoller(New(NewMockBus(DefaultAddress, 0), DefaultAddress), &cell.Cell{}, 0, nil)
	assert.Equal(t, DefaultInterval, p.interval)
}
