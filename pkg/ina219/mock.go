package ina219

import (
	"errors"
	"fmt"
	"sync"

	"github.com/itohio/o2mon/pkg/cell"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrNoDevice is returned by MockBus for transactions to other addresses.
var ErrNoDevice = errors.New("ina219: no device at address")

// MockBus simulates an I²C bus carrying one INA219.
type MockBus struct {
	mu    sync.Mutex
	addr  i2c.Addr
	raw   uint16
	fail  error
	reads int
}

// Ensure MockBus implements i2c.Bus.
var _ i2c.Bus = (*MockBus)(nil)

// NewMockBus creates a bus with a device at addr reporting volts.
func NewMockBus(addr i2c.Addr, volts float32) *MockBus {
	b := &MockBus{addr: addr}
	b.SetVolts(volts)
	return b
}

func (b *MockBus) String() string {
	return "mock-i2c"
}

// Tx answers a bus voltage register read.
func (b *MockBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fail != nil {
		return b.fail
	}
	if addr != uint16(b.addr) {
		return ErrNoDevice
	}
	if len(w) != 1 || w[0] != regBusVoltage || len(r) != 2 {
		return fmt.Errorf("ina219 mock: unsupported transaction w=%x len(r)=%d", w, len(r))
	}
	r[0] = byte(b.raw >> 8)
	r[1] = byte(b.raw)
	b.reads++
	return nil
}

// SetSpeed is accepted and ignored.
func (b *MockBus) SetSpeed(physic.Frequency) error {
	return nil
}

// SetVolts sets the simulated bus voltage. The status bits stay clear.
func (b *MockBus) SetVolts(v float32) {
	if v < 0 {
		v = 0
	}
	steps := uint32(v/cell.BusVoltageLSB + 0.5)
	if steps > 0x1FFF {
		steps = 0x1FFF
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw = uint16(steps) << 3
}

// SetError makes every transaction fail with err; nil restores normal operation.
func (b *MockBus) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Reads returns the number of successful register reads.
func (b *MockBus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}
