package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/o2mon/pkg/broadcast"
	"github.com/itohio/o2mon/pkg/cell"
	"github.com/itohio/o2mon/pkg/config"
	"github.com/itohio/o2mon/pkg/derive"
	"github.com/itohio/o2mon/pkg/ina219"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/sensor"
	"github.com/itohio/o2mon/pkg/telemetry"
	"periph.io/x/conn/v3/i2c"
)

// peripherals are the opened transports. Each is owned by one task.
type peripherals struct {
	inner sensor.Link
	outer sensor.Link
	i2c   i2c.Bus
	can   broadcast.Bus

	closers []func() error
}

func (p *peripherals) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openHardware opens the serial ports, the I2C bus and the CAN interface.
func openHardware(ctx context.Context, cfg *config.Config) (*peripherals, error) {
	p := &peripherals{}

	inner, err := sensor.OpenSerial(cfg.Sensors.Inner.Port, cfg.Sensors.Inner.BaudRate, cfg.Sensors.IdleGap)
	if err != nil {
		return nil, err
	}
	p.inner = inner
	p.closers = append(p.closers, inner.Close)

	outer, err := sensor.OpenSerial(cfg.Sensors.Outer.Port, cfg.Sensors.Outer.BaudRate, cfg.Sensors.IdleGap)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.outer = outer
	p.closers = append(p.closers, outer.Close)

	bus, err := ina219.OpenBus(cfg.Voltage.Bus)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.i2c = bus
	p.closers = append(p.closers, bus.Close)

	can, err := broadcast.DialSocketCAN(ctx, cfg.CAN.Interface)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.can = can
	p.closers = append(p.closers, can.Close)

	return p, nil
}

// mockSentFrames is how many transmitted frames the simulated CAN bus keeps.
const mockSentFrames = 256

// openMock builds simulated peripherals from the mock section.
func openMock(cfg *config.Config) *peripherals {
	inner := sensor.NewModule(&sensor.ModuleConfig{
		Temperature: cfg.Mock.Temperature,
		Pressure:    cfg.Mock.InnerPressure,
		Latency:     cfg.Mock.Latency,
	})
	outer := sensor.NewModule(&sensor.ModuleConfig{
		Temperature: cfg.Mock.Temperature,
		Pressure:    cfg.Mock.OuterPressure,
		Latency:     cfg.Mock.Latency,
	})
	can := broadcast.NewMemory(mockSentFrames)

	return &peripherals{
		inner:   inner,
		outer:   outer,
		i2c:     ina219.NewMockBus(i2c.Addr(cfg.Voltage.Address), cfg.Mock.BusVoltage),
		can:     can,
		closers: []func() error{inner.Close, outer.Close, can.Close},
	}
}

// cells are the four shared cells. Each has exactly one writer.
type cells struct {
	inner         cell.Cell // inner sensor poller
	outer         cell.Cell // outer sensor poller
	voltage       cell.Cell // voltage poller
	concentration cell.Cell // derivation task; override receiver writes only the override slot
}

// monitor is the wired set of tasks.
type monitor struct {
	cfg     *config.Config
	periph  *peripherals
	metrics *metrics.Metrics
	cells   cells

	inner     *sensor.Poller
	outer     *sensor.Poller
	voltage   *ina219.Poller
	derive    *derive.Task
	broadcast *broadcast.Broadcaster
}

func newMonitor(cfg *config.Config, p *peripherals, m *metrics.Metrics) (*monitor, error) {
	mon := &monitor{
		cfg:     cfg,
		periph:  p,
		metrics: m,
	}

	var err error
	mon.inner, err = sensor.NewPoller(pollerConfig(cfg, "inner"), p.inner, &mon.cells.inner, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create inner poller: %w", err)
	}
	mon.outer, err = sensor.NewPoller(pollerConfig(cfg, "outer"), p.outer, &mon.cells.outer, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create outer poller: %w", err)
	}

	dev := ina219.New(p.i2c, i2c.Addr(cfg.Voltage.Address))
	mon.voltage = ina219.NewPoller(dev, &mon.cells.voltage, cfg.Voltage.Interval, m)

	mon.derive = derive.NewTask(derive.Cells{
		Voltage: &mon.cells.voltage,
		Inner:   &mon.cells.inner,
		Outer:   &mon.cells.outer,
		Output:  &mon.cells.concentration,
	}, cfg.Derivation.Interval, cfg.Derivation.Log, m)

	mon.broadcast = broadcast.New(broadcast.Config{
		Step:            cfg.CAN.Step,
		BreakerFailures: cfg.CAN.BreakerFailures,
		BreakerOpen:     cfg.CAN.BreakerOpen,
	}, p.can, &mon.cells.concentration, m)

	return mon, nil
}

func pollerConfig(cfg *config.Config, name string) sensor.PollerConfig {
	return sensor.PollerConfig{
		Name:            name,
		Interval:        cfg.Sensors.Interval,
		ResponseTimeout: cfg.Sensors.ResponseTimeout,
		RecoveryDelay:   cfg.Sensors.RecoveryDelay,
	}
}

// run starts every task and blocks until ctx is cancelled and all have returned.
// mirror may be nil.
func (mon *monitor) run(ctx context.Context, mirror *telemetry.Mirror) {
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Printf("%s: stopped", name)
		}()
	}

	spawn("sensor inner", mon.inner.Run)
	spawn("sensor outer", mon.outer.Run)
	spawn("ina219", mon.voltage.Run)
	spawn("derive", mon.derive.Run)
	spawn("broadcast", mon.broadcast.Run)

	if mon.cfg.CAN.AcceptOverride {
		spawn("override", func(ctx context.Context) {
			if err := broadcast.ReceiveOverrides(ctx, mon.periph.can, &mon.cells.concentration, mon.metrics); err != nil {
				log.Printf("override: %v", err)
			}
		})
	}

	if mon.cfg.Metrics.Listen != "" {
		spawn("metrics", func(ctx context.Context) {
			if err := mon.metrics.Serve(ctx, mon.cfg.Metrics.Listen); err != nil {
				log.Printf("%v", err)
			}
		})
	}

	if mirror != nil {
		spawn("telemetry", mirror.Run)
	}

	wg.Wait()
}

func (mon *monitor) telemetrySources() telemetry.Sources {
	return telemetry.Sources{
		Inner:         &mon.cells.inner,
		Outer:         &mon.cells.outer,
		Voltage:       &mon.cells.voltage,
		Concentration: &mon.cells.concentration,
	}
}
