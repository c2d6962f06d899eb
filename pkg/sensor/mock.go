package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/itohio/o2mon/pkg/frame"
)

// ModuleConfig sets the values a simulated sensor module reports.
type ModuleConfig struct {
	Temperature int16         // raw temperature code
	Pressure    uint32        // kPa x 1000
	Latency     time.Duration // delay before a response becomes readable
}

// Module simulates a pressure/temperature sensor module on a serial line.
// It answers each valid command with one response frame.
type Module struct {
	mu       sync.Mutex
	cfg      ModuleConfig
	silent   bool
	corrupt  bool
	closed   bool
	commands []frame.Command

	pending chan []byte
}

// NewModule creates a simulated module. A nil cfg uses room conditions.
func NewModule(cfg *ModuleConfig) *Module {
	if cfg == nil {
		cfg = &ModuleConfig{
			Temperature: 2500,
			Pressure:    101325,
		}
	}

	return &Module{
		cfg:     *cfg,
		pending: make(chan []byte, 1),
	}
}

// Write accepts one command frame. Garbage is swallowed like on a real line.
func (m *Module) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	cmd, ok := frame.ParseCommand(p)
	if !ok {
		return len(p), nil
	}
	m.commands = append(m.commands, cmd)

	if m.silent {
		return len(p), nil
	}

	var resp []byte
	switch cmd {
	case frame.Temperature:
		resp = frame.EncodeTemperature(m.cfg.Temperature)
	case frame.Pressure:
		resp = frame.EncodePressure(m.cfg.Pressure)
	}
	if m.corrupt {
		resp[len(resp)-1] ^= 0xFF
	}

	// A new command supersedes an unread reply.
	select {
	case <-m.pending:
	default:
	}
	m.pending <- resp

	return len(p), nil
}

// ReadFrame returns the pending reply or waits for ctx.
func (m *Module) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	latency := m.cfg.Latency
	m.mu.Unlock()

	if closed {
		return 0, ErrClosed
	}

	select {
	case resp := <-m.pending:
		if latency > 0 {
			t := time.NewTimer(latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		return copy(buf, resp), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close marks the module closed.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetTemperature changes the reported temperature code.
func (m *Module) SetTemperature(v int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Temperature = v
}

// SetPressure changes the reported pressure code.
func (m *Module) SetPressure(v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Pressure = v
}

// SetSilent makes the module stop answering.
func (m *Module) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// SetCorrupt makes the module answer with a bad checksum.
func (m *Module) SetCorrupt(corrupt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt = corrupt
}

// Commands returns the valid commands received so far.
func (m *Module) Commands() []frame.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]frame.Command, len(m.commands))
	copy(out, m.commands)
	return out
}
