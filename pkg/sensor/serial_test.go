package sensor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort returns chunks one Read at a time; an exhausted script behaves
// like an idle line (0 bytes, no error).
type fakePort struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  bytes.Buffer
	resets   int
	timeout  time.Duration
	closed   bool
	readErr  error
	writeErr error
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, f.chunks[0])
	f.chunks = f.chunks[1:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.timeout = t
	return nil
}

func TestSerialWriteFlushesInput(t *testing.T) {
	fp := &fakePort{}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)
	assert.Equal(t, DefaultIdleGap, fp.timeout)

	n, err := s.Write([]byte{0x55, 0x04, 0x0D, 0x88})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, fp.resets)
	assert.Equal(t, []byte{0x55, 0x04, 0x0D, 0x88}, fp.written.Bytes())
}

func TestSerialWriteError(t *testing.T) {
	fp := &fakePort{writeErr: errors.New("io")}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	_, err = s.Write([]byte{1})
	assert.Error(t, err)
}

func TestSerialReadFrameJoinsChunks(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{{0xAA, 0x06}, {0x0A, 0x34, 0x12, 0xDA}}}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := s.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x06, 0x0A, 0x34, 0x12, 0xDA}, buf[:n])
}

func TestSerialReadFrameFillsBuffer(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{bytes.Repeat([]byte{0xFF}, 20)}}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := s.ReadFrame(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestSerialReadFrameTimeout(t *testing.T) {
	fp := &fakePort{}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	n, err := s.ReadFrame(ctx, make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSerialReadError(t *testing.T) {
	fp := &fakePort{readErr: errors.New("device gone")}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	_, err = s.ReadFrame(context.Background(), make([]byte, 16))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestSerialClose(t *testing.T) {
	fp := &fakePort{}
	s, err := newSerial("test", fp, DefaultIdleGap)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, fp.closed)
	assert.NoError(t, s.Close(), "second close is a no-op")

	_, err = s.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadFrame(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}
