package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/task"
	"github.com/sony/gobreaker"
	"go.einride.tech/can"
)

const (
	DefaultBreakerFailures = 5
	DefaultBreakerOpen     = time.Second

	receiveRetryDelay = 100 * time.Millisecond
)

// Config tunes a Broadcaster.
type Config struct {
	Step            time.Duration // wall time between cycles; defaults to TickStep ms
	BreakerFailures int           // consecutive send failures that open the breaker
	BreakerOpen     time.Duration // how long the breaker stays open
}

// Broadcaster sends the schedule for the concentration held in a cell.
// Sends go through a circuit breaker so a dead bus costs one log line per
// breaker trip instead of one per frame.
type Broadcaster struct {
	bus     Bus
	src     *cell.Cell
	step    time.Duration
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

// New creates a broadcaster reading the Concentration field of src.
func New(cfg Config, bus Bus, src *cell.Cell, m *metrics.Metrics) *Broadcaster {
	if cfg.Step <= 0 {
		cfg.Step = TickStep * time.Millisecond
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = DefaultBreakerOpen
	}

	fails := uint32(cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "can-tx",
		Timeout: cfg.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("broadcast: %s breaker %s -> %s", name, from, to)
		},
	})

	return &Broadcaster{
		bus:     bus,
		src:     src,
		step:    cfg.Step,
		cb:      cb,
		metrics: m,
	}
}

// Run sends one scheduled cycle per step until ctx is cancelled.
// The first cycle runs at tick TickStep.
func (b *Broadcaster) Run(ctx context.Context) {
	tick := TickStep
	for {
		b.Cycle(ctx, tick)
		if !task.Sleep(ctx, b.step) {
			return
		}
		tick = NextTick(tick)
	}
}

// Cycle sends the frames due at tick and returns how many were accepted by the bus.
func (b *Broadcaster) Cycle(ctx context.Context, tick int) int {
	value := b.src.Snapshot().Concentration

	sent := 0
	for _, f := range Schedule(tick, value) {
		if ctx.Err() != nil {
			return sent
		}
		if b.send(ctx, f) {
			sent++
		}
	}
	return sent
}

// State returns the breaker state.
func (b *Broadcaster) State() gobreaker.State {
	return b.cb.State()
}

func (b *Broadcaster) send(ctx context.Context, f can.Frame) bool {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.bus.Send(ctx, f)
	})

	switch {
	case err == nil:
		b.metrics.CANFrame(f.ID, metrics.FrameSent)
		return true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.metrics.CANFrame(f.ID, metrics.FrameDropped)
	default:
		if ctx.Err() == nil {
			log.Printf("broadcast: send 0x%08X: %v", f.ID, err)
		}
		b.metrics.CANFrame(f.ID, metrics.FrameFailed)
	}
	return false
}

// ReceiveOverrides stores concentration codes received on IDConcentration
// into dst until ctx is cancelled or the bus is closed. Overrides are
// recorded for reporting; they do not replace the derived value.
func ReceiveOverrides(ctx context.Context, bus Bus, dst *cell.Cell, m *metrics.Metrics) error {
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrBusClosed) {
				return err
			}
			log.Printf("broadcast: receive: %v", err)
			if !task.Sleep(ctx, receiveRetryDelay) {
				return nil
			}
			continue
		}

		v, ok := DecodeConcentration(f)
		if !ok {
			continue
		}
		dst.StoreOverride(v)
		m.OverrideReceived()
		log.Printf("broadcast: received concentration %s", formatCentipercent(v))
	}
}

func formatCentipercent(v uint32) string {
	return fmt.Sprintf("%d.%02d%%", v/100, v%100)
}
