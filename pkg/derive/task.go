package derive

import (
	"context"
	"log"
	"time"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/task"
)

// DefaultInterval is the derivation period.
const DefaultInterval = 100 * time.Millisecond

// Cells are the cells a Task reads from and writes to.
type Cells struct {
	Voltage *cell.Cell // BusVoltage field is read
	Inner   *cell.Cell // Pressure field is read
	Outer   *cell.Cell // Pressure field is read
	Output  *cell.Cell // replaced with the concentration; also holds the override
}

// Result is the outcome of one derivation.
type Result struct {
	Inputs
	Percent     float32
	Code        uint32
	Override    uint32
	HasOverride bool
}

// Task periodically derives the concentration into the output cell.
type Task struct {
	cells    Cells
	interval time.Duration
	logging  bool
	metrics  *metrics.Metrics
}

// NewTask creates a derivation task. A zero interval uses DefaultInterval.
func NewTask(cells Cells, interval time.Duration, logging bool, m *metrics.Metrics) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Task{
		cells:    cells,
		interval: interval,
		logging:  logging,
		metrics:  m,
	}
}

// Run derives until ctx is cancelled.
func (t *Task) Run(ctx context.Context) {
	for {
		t.Step()
		if !task.Sleep(ctx, t.interval) {
			return
		}
	}
}

// Step performs one derivation and stores the result.
func (t *Task) Step() Result {
	in := Inputs{
		Volts: t.cells.Voltage.Snapshot().BusVolts(),
		Inner: t.cells.Inner.Snapshot().PressureKPa(),
		Outer: t.cells.Outer.Snapshot().PressureKPa(),
	}

	res := Result{Inputs: in}
	// Without an inner pressure reading there is nothing to derive yet.
	if in.Inner > 0 {
		res.Percent = Concentration(in)
		res.Code = Centipercent(res.Percent)
	}
	res.Override, res.HasOverride = t.cells.Output.Override()

	// Only the concentration is published from this cell.
	t.cells.Output.Replace(cell.Reading{Concentration: res.Code})
	t.metrics.SetConcentration(res.Percent)

	if t.logging {
		if res.HasOverride {
			log.Printf("derive: inner=%.3fkPa outer=%.3fkPa bus=%.3fV o2=%.2f%% received=%.2f%%",
				in.Inner, in.Outer, in.Volts, res.Percent, float32(res.Override)/100)
		} else {
			log.Printf("derive: inner=%.3fkPa outer=%.3fkPa bus=%.3fV o2=%.2f%%",
				in.Inner, in.Outer, in.Volts, res.Percent)
		}
	}

	return res
}
