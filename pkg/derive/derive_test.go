package derive

import (
	"bytes"
	"context"
	"log"
	"math"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/o2mon/pkg/cell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcentration(t *testing.T) {
	tests := []struct {
		name      string
		in        Inputs
		want      float32
		corrected bool
	}{
		{
			name: "equal pressures",
			in:   Inputs{Volts: 2.0, Inner: 5.0, Outer: 5.0},
			want: 813.008,
		},
		{
			name:      "diverged chambers",
			in:        Inputs{Volts: 2.0, Inner: 20.0, Outer: 5.0},
			want:      339.43,
			corrected: true,
		},
		{
			name: "just below threshold",
			in:   Inputs{Volts: 0.492, Inner: 100, Outer: 90.01},
			want: 10.0,
		},
		{
			name:      "at threshold",
			in:        Inputs{Volts: 0.492, Inner: 100, Outer: 90},
			want:      16.7,
			corrected: true,
		},
		{
			name:      "outer above inner",
			in:        Inputs{Volts: 0.492, Inner: 100, Outer: 120},
			want:      16.7,
			corrected: true,
		},
		{
			name: "no voltage",
			in:   Inputs{Volts: 0, Inner: 100, Outer: 100},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.corrected, tt.in.Corrected())
			assert.InDelta(t, tt.want, Concentration(tt.in), 0.01)
		})
	}
}

func TestConcentrationZeroInner(t *testing.T) {
	assert.True(t, math32.IsInf(Concentration(Inputs{Volts: 1, Inner: 0, Outer: 0}), 1))
	assert.True(t, math32.IsNaN(Concentration(Inputs{Volts: 0, Inner: 0, Outer: 0})))
}

func TestCentipercent(t *testing.T) {
	tests := []struct {
		name string
		pct  float32
		want uint32
	}{
		{name: "zero", pct: 0, want: 0},
		{name: "air", pct: 20.95, want: 2095},
		{name: "truncates", pct: 813.008, want: 81300},
		{name: "negative", pct: -3, want: 0},
		{name: "nan", pct: math32.NaN(), want: 0},
		{name: "positive infinity", pct: math32.Inf(1), want: math.MaxUint32},
		{name: "negative infinity", pct: math32.Inf(-1), want: 0},
		{name: "past range", pct: 1e8, want: math.MaxUint32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Centipercent(tt.pct))
		})
	}
}

func testCells() Cells {
	return Cells{
		Voltage: &cell.Cell{},
		Inner:   &cell.Cell{},
		Outer:   &cell.Cell{},
		Output:  &cell.Cell{},
	}
}

func TestStep(t *testing.T) {
	c := testCells()
	c.Voltage.SetField(cell.FieldBusVoltage, 500<<3)
	c.Inner.Replace(cell.Reading{Temperature: 2500, Pressure: 5000})
	c.Outer.Replace(cell.Reading{Temperature: 2500, Pressure: 5000})
	c.Output.Replace(cell.Reading{Temperature: 9, Pressure: 9, BusVoltage: 9})

	res := NewTask(c, time.Millisecond, false, nil).Step()

	assert.InDelta(t, 2.0, res.Volts, 1e-4)
	assert.InDelta(t, 813.008, res.Percent, 0.01)
	assert.Equal(t, uint32(81300), res.Code)
	assert.False(t, res.HasOverride)

	// Other fields of the output are cleared.
	assert.Equal(t, cell.Reading{Concentration: 81300}, c.Output.Snapshot())
}

func TestStepWithoutInnerPressure(t *testing.T) {
	c := testCells()
	c.Voltage.SetField(cell.FieldBusVoltage, 500<<3)
	c.Outer.SetField(cell.FieldPressure, 5000)
	c.Output.Replace(cell.Reading{Concentration: 2095})

	res := NewTask(c, time.Millisecond, false, nil).Step()
	assert.Equal(t, uint32(0), res.Code)
	assert.Zero(t, res.Percent)
	assert.Equal(t, cell.Reading{}, c.Output.Snapshot())

	// The first inner pressure frame starts the derivation.
	c.Inner.SetField(cell.FieldPressure, 5000)
	res = NewTask(c, time.Millisecond, false, nil).Step()
	assert.Equal(t, uint32(81300), res.Code)
}

func TestStepReportsOverride(t *testing.T) {
	c := testCells()
	c.Output.StoreOverride(2095)

	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	res := NewTask(c, time.Millisecond, true, nil).Step()
	assert.True(t, res.HasOverride)
	assert.Equal(t, uint32(2095), res.Override)
	assert.Contains(t, buf.String(), "received=20.95%")
}

func TestRun(t *testing.T) {
	c := testCells()
	c.Voltage.SetField(cell.FieldBusVoltage, 500<<3)
	c.Inner.SetField(cell.FieldPressure, 20000)
	c.Outer.SetField(cell.FieldPressure, 5000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewTask(c, time.Millisecond, false, nil).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return c.Output.Snapshot().Concentration == 33943
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
