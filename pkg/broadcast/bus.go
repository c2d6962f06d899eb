package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// ErrBusClosed is returned by buses used after Close.
var ErrBusClosed = errors.New("broadcast: bus closed")

// Bus is a CAN bus endpoint.
type Bus interface {
	Send(ctx context.Context, f can.Frame) error
	Receive(ctx context.Context) (can.Frame, error)
	Close() error
}

// Ensure SocketCAN implements Bus.
var _ Bus = (*SocketCAN)(nil)

// Ensure Memory implements Bus.
var _ Bus = (*Memory)(nil)

// SocketCAN is a Bus on a Linux CAN interface. Bit rate and acceptance
// filters are properties of the interface (ip link set can0 type can bitrate 500000).
type SocketCAN struct {
	iface string
	conn  net.Conn
	tx    *socketcan.Transmitter
	rx    *socketcan.Receiver

	mu     sync.Mutex
	closed bool
}

// DialSocketCAN opens the named CAN interface.
func DialSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", iface, err)
	}
	return newSocketCAN(iface, conn), nil
}

func newSocketCAN(iface string, conn net.Conn) *SocketCAN {
	return &SocketCAN{
		iface: iface,
		conn:  conn,
		tx:    socketcan.NewTransmitter(conn),
		rx:    socketcan.NewReceiver(conn),
	}
}

// Send transmits one frame.
func (s *SocketCAN) Send(ctx context.Context, f can.Frame) error {
	if s.isClosed() {
		return ErrBusClosed
	}
	if err := s.tx.TransmitFrame(ctx, f); err != nil {
		return fmt.Errorf("failed to transmit on %s: %w", s.iface, err)
	}
	return nil
}

// Receive blocks for the next frame or until ctx is done. It must not be
// called concurrently.
func (s *SocketCAN) Receive(ctx context.Context) (can.Frame, error) {
	if s.isClosed() {
		return can.Frame{}, ErrBusClosed
	}
	// Clear a deadline left by an earlier cancelled call.
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return can.Frame{}, fmt.Errorf("failed to reset read deadline on %s: %w", s.iface, err)
	}

	// Unblock the pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if !s.rx.Receive() {
		err := s.rx.Err()
		// A receiver stops for good after its first error.
		s.rx = socketcan.NewReceiver(s.conn)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return can.Frame{}, ctxErr
		}
		if err == nil {
			err = io.EOF
		}
		return can.Frame{}, fmt.Errorf("failed to receive on %s: %w", s.iface, err)
	}
	return s.rx.Frame(), nil
}

// Close closes the interface socket.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *SocketCAN) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Memory is an in-process Bus. It records sent frames and delivers
// injected ones to Receive.
type Memory struct {
	mu      sync.Mutex
	sent    []can.Frame
	limit   int
	sendErr error

	inbox  chan can.Frame
	done   chan struct{}
	closed bool
}

// NewMemory creates an empty in-memory bus that keeps the last limit sent
// frames. A limit of zero or less keeps them all.
func NewMemory(limit int) *Memory {
	return &Memory{
		limit: limit,
		inbox: make(chan can.Frame, 16),
		done:  make(chan struct{}),
	}
}

// Send records f, or fails with the error set by SetSendError.
func (m *Memory) Send(ctx context.Context, f can.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBusClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.limit > 0 && len(m.sent) >= m.limit {
		n := copy(m.sent, m.sent[len(m.sent)-m.limit+1:])
		m.sent = m.sent[:n]
	}
	m.sent = append(m.sent, f)
	return nil
}

// Receive returns the next injected frame.
func (m *Memory) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case f := <-m.inbox:
		return f, nil
	case <-m.done:
		return can.Frame{}, ErrBusClosed
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

// Inject queues f for Receive. It blocks while the inbox is full.
func (m *Memory) Inject(ctx context.Context, f can.Frame) error {
	select {
	case m.inbox <- f:
		return nil
	case <-m.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetSendError makes Send fail with err; nil restores it.
func (m *Memory) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of the recorded frames, oldest first.
func (m *Memory) Sent() []can.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]can.Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset forgets the recorded frames.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// Close closes the bus.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
