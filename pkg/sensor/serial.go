package sensor

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the fixed line rate of the pressure/temperature module.
	DefaultBaudRate = 9600
	// DefaultIdleGap is the silence that ends a response (about five characters at 9600 baud).
	DefaultIdleGap = 5 * time.Millisecond
)

// Port describes a serial port found on the host.
type Port struct {
	Name        string
	Description string
}

// port is the subset of serial.Port the link relies on.
type port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Serial is a Link over a local serial port.
// It is owned by a single poller goroutine.
type Serial struct {
	name    string
	idleGap time.Duration

	mu     sync.Mutex
	conn   port
	closed bool
}

// Ports returns the serial ports available on the host.
func Ports() ([]Port, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, p := range ports {
		desc := p.Name
		if p.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.Product)
		}
		result = append(result, Port{
			Name:        p.Name,
			Description: desc,
		})
	}

	return result, nil
}

// OpenSerial opens name at baudRate, 8N1.
func OpenSerial(name string, baudRate int, idleGap time.Duration) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if idleGap <= 0 {
		idleGap = DefaultIdleGap
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	s, err := newSerial(name, p, idleGap)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func newSerial(name string, p port, idleGap time.Duration) (*Serial, error) {
	if err := p.SetReadTimeout(idleGap); err != nil {
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	return &Serial{
		name:    name,
		idleGap: idleGap,
		conn:    p,
	}, nil
}

// Write discards any stale input left by a late reply and sends p.
func (s *Serial) Write(p []byte) (int, error) {
	conn, err := s.port()
	if err != nil {
		return 0, err
	}
	if err := conn.ResetInputBuffer(); err != nil {
		return 0, fmt.Errorf("failed to flush %s: %w", s.name, err)
	}
	n, err := conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", s.name, err)
	}
	return n, nil
}

// ReadFrame collects bytes until the line stays idle for one read timeout.
func (s *Serial) ReadFrame(ctx context.Context, buf []byte) (int, error) {
	conn, err := s.port()
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		k, err := conn.Read(buf[n:])
		if err != nil {
			return n, fmt.Errorf("failed to read from %s: %w", s.name, err)
		}
		if k == 0 {
			// read timeout: the line is idle
			if n > 0 {
				return n, nil
			}
			continue
		}
		n += k
	}
	return n, nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing serial port %s: %v", s.name, err)
		return err
	}
	return nil
}

func (s *Serial) port() (port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.conn, nil
}
