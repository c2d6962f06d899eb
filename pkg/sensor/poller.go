package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/frame"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/task"
)

const (
	// DefaultInterval is the delay before every request.
	DefaultInterval = 50 * time.Millisecond
	// DefaultResponseTimeout bounds the wait for a reply.
	DefaultResponseTimeout = 100 * time.Millisecond
	// DefaultRecoveryDelay follows a failed write.
	DefaultRecoveryDelay = 100 * time.Millisecond
)

// Outcome is the result of one poll cycle.
type Outcome uint8

const (
	OutcomeTemperature Outcome = iota + 1
	OutcomePressure
	OutcomeTimeout
	OutcomeRejected
	OutcomeWriteError
	OutcomeReadError
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTemperature:
		return "temperature"
	case OutcomePressure:
		return "pressure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRejected:
		return "rejected"
	case OutcomeWriteError:
		return "write_error"
	case OutcomeReadError:
		return "read_error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// PollerConfig is the runtime configuration of one poller.
type PollerConfig struct {
	Name            string
	Interval        time.Duration
	ResponseTimeout time.Duration
	RecoveryDelay   time.Duration
}

// manager is the poller's private state. Its reading is authoritative for
// the poller's cell: every update replaces the cell with it wholesale.
type manager struct {
	lastCmd     frame.Command
	hasReadTemp bool
	buf         [frame.BufferSize]byte
	reading     cell.Reading
}

// Poller drives the request/response protocol of one sensor module and
// publishes its readings into a single cell.
type Poller struct {
	cfg     PollerConfig
	link    Link
	out     *cell.Cell
	metrics *metrics.Metrics

	m manager
}

// NewPoller creates a poller writing to out. Zero durations take the defaults.
func NewPoller(cfg PollerConfig, link Link, out *cell.Cell, m *metrics.Metrics) (*Poller, error) {
	if cfg.Name == "" {
		return nil, errors.New("sensor poller: name required")
	}
	if link == nil {
		return nil, fmt.Errorf("sensor poller %s: link required", cfg.Name)
	}
	if out == nil {
		return nil, fmt.Errorf("sensor poller %s: output cell required", cfg.Name)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = DefaultRecoveryDelay
	}

	return &Poller{
		cfg:     cfg,
		link:    link,
		out:     out,
		metrics: m,
	}, nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if !task.Sleep(ctx, p.cfg.Interval) {
			return
		}

		switch p.PollOnce(ctx) {
		case OutcomeCanceled:
			return
		case OutcomeWriteError:
			if !task.Sleep(ctx, p.cfg.RecoveryDelay) {
				return
			}
		}
	}
}

// NextCommand returns the command the next cycle will issue.
// Temperature is requested until it has been read once since the last
// pressure reading, unless it was the command just issued.
func (p *Poller) NextCommand() frame.Command {
	if !p.m.hasReadTemp && p.m.lastCmd != frame.Temperature {
		return frame.Temperature
	}
	return frame.Pressure
}

// PollOnce issues one command and handles its reply.
func (p *Poller) PollOnce(ctx context.Context) Outcome {
	outcome := p.poll(ctx)
	p.metrics.PollOutcome(p.cfg.Name, outcome.String())
	return outcome
}

func (p *Poller) poll(ctx context.Context) Outcome {
	cmd := p.NextCommand()
	b, _ := cmd.Bytes()

	if _, err := p.link.Write(b[:]); err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled
		}
		log.Printf("sensor %s: write %s command: %v", p.cfg.Name, cmd, err)
		p.metrics.TransportError("serial_" + p.cfg.Name)
		p.m.lastCmd = frame.None
		return OutcomeWriteError
	}
	p.m.lastCmd = cmd

	rctx, cancel := context.WithTimeout(ctx, p.cfg.ResponseTimeout)
	n, err := p.link.ReadFrame(rctx, p.m.buf[:])
	cancel()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return OutcomeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			return OutcomeTimeout
		default:
			p.metrics.TransportError("serial_" + p.cfg.Name)
			return OutcomeReadError
		}
	}

	kind, f, ok := frame.Validate(p.m.buf[:n])
	if !ok {
		return OutcomeRejected
	}

	var outcome Outcome
	switch kind {
	case frame.KindTemperature:
		p.m.reading.Temperature = frame.ParseTemperature(f)
		p.m.hasReadTemp = true
		p.metrics.SetTemperature(p.cfg.Name, p.m.reading.Temperature)
		outcome = OutcomeTemperature
	case frame.KindPressure:
		p.m.reading.Pressure = frame.ParsePressure(f)
		p.m.hasReadTemp = false
		p.metrics.SetPressure(p.cfg.Name, p.m.reading.PressureKPa())
		outcome = OutcomePressure
	}

	p.out.Replace(p.m.reading)
	return outcome
}
