// Package ina219 reads the bus voltage of a TI INA219 power monitor on I²C.
//
// Only the bus voltage register is used. Its upper 13 bits hold the voltage
// in 4 mV steps; the low bits carry status flags.
package ina219

import (
	"fmt"

	"github.com/itohio/o2mon/pkg/cell"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the address with A0 and A1 grounded.
	DefaultAddress i2c.Addr = 0x40

	regBusVoltage byte = 0x02
)

// Dev is an INA219 on a bus.
type Dev struct {
	d *i2c.Dev
}

// New returns a device at addr on bus. No I/O is performed.
func New(bus i2c.Bus, addr i2c.Addr) *Dev {
	return &Dev{d: &i2c.Dev{Bus: bus, Addr: uint16(addr)}}
}

func (d *Dev) String() string {
	return fmt.Sprintf("INA219{%s}", d.d)
}

// ReadRaw returns the raw bus voltage register.
func (d *Dev) ReadRaw() (uint16, error) {
	var r [2]byte
	if err := d.d.Tx([]byte{regBusVoltage}, r[:]); err != nil {
		return 0, fmt.Errorf("failed to read bus voltage register: %w", err)
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// Volts converts a raw register value to volts.
func Volts(raw uint16) float32 {
	return cell.Reading{BusVoltage: raw}.BusVolts()
}

// Potential converts a raw register value to a physic.ElectricPotential.
func Potential(raw uint16) physic.ElectricPotential {
	return physic.ElectricPotential(raw>>3) * 4 * physic.MilliVolt
}

// OpenBus initialises the host drivers and opens the named I²C bus.
// An empty name opens the first bus found.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", name, err)
	}
	return bus, nil
}
