package ina219

import (
	"context"
	"log"
	"time"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/task"
)

// DefaultInterval is the voltage sampling period.
const DefaultInterval = 50 * time.Millisecond

// Poller samples the bus voltage into the BusVoltage field of a cell.
type Poller struct {
	dev      *Dev
	out      *cell.Cell
	interval time.Duration
	metrics  *metrics.Metrics
}

// NewPoller creates a voltage poller. A zero interval uses DefaultInterval.
func NewPoller(dev *Dev, out *cell.Cell, interval time.Duration, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		dev:      dev,
		out:      out,
		interval: interval,
		metrics:  m,
	}
}

// Run samples until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		p.PollOnce()
		if !task.Sleep(ctx, p.interval) {
			return
		}
	}
}

// PollOnce performs one read. On failure the cell is left untouched.
func (p *Poller) PollOnce() error {
	raw, err := p.dev.ReadRaw()
	if err != nil {
		log.Printf("ina219: %v", err)
		p.metrics.TransportError("i2c")
		return err
	}

	p.out.SetField(cell.FieldBusVoltage, int64(raw))
	p.metrics.SetBusVoltage(Volts(raw))
	return nil
}
