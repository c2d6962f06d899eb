package sensor

import (
	"context"
	"errors"
)

// ErrClosed is returned by links used after Close.
var ErrClosed = errors.New("sensor: link closed")

// Link is a half-duplex byte channel to one sensor module (real or simulated).
type Link interface {
	// Write sends one command frame.
	Write(p []byte) (int, error)
	// ReadFrame reads one response into buf. It returns once the line goes
	// idle after at least one byte, buf is full, or ctx is done; in the last
	// case the error is ctx.Err().
	ReadFrame(ctx context.Context, buf []byte) (int, error)
	Close() error
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure Module implements Link.
var _ Link = (*Module)(nil)
