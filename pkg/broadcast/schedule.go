// Package broadcast publishes the oxygen concentration and the fixed
// identification frames on the CAN bus.
package broadcast

import (
	"encoding/binary"

	"go.einride.tech/can"
)

// Extended identifiers.
const (
	IDKeepAlive      uint32 = 0x1F0101B0
	IDStatus         uint32 = 0x1F0101B1
	IDConcentration  uint32 = 0x1F0101B2
	IDCalibrationLow uint32 = 0x1F0101B3
	IDCalibrationHi  uint32 = 0x1F0101B4
)

const (
	// TickStep is the schedule resolution in milliseconds.
	TickStep = 10
	// TickPeriod is where the tick counter wraps to zero.
	TickPeriod = 1000

	keepAlivePeriod   = 500
	calibrationPeriod = 1000
)

var (
	keepAliveData      = []byte{0x01}
	calibrationLowData = []byte{0xB6, 0x3E, 0x37, 0x21, 0xC4, 0x25, 0x9C, 0x00}
	calibrationHiData  = []byte{0x00, 0x00, 0xC1, 0x20, 0x17, 0x15, 0xE5, 0x07}
	statusData         = []byte{0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
)

// NewFrame builds an extended data frame.
func NewFrame(id uint32, data []byte) can.Frame {
	f := can.Frame{
		ID:         id,
		Length:     uint8(len(data)),
		IsExtended: true,
	}
	copy(f.Data[:], data)
	return f
}

// ConcentrationFrame carries value as 4 little-endian bytes.
func ConcentrationFrame(value uint32) can.Frame {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return NewFrame(IDConcentration, b[:])
}

// Schedule returns the frames due at tick (milliseconds), in send order.
func Schedule(tick int, value uint32) []can.Frame {
	frames := []can.Frame{ConcentrationFrame(value)}
	if tick%keepAlivePeriod == 0 {
		frames = append(frames, NewFrame(IDKeepAlive, keepAliveData))
	}
	if tick%calibrationPeriod == 0 {
		frames = append(frames,
			NewFrame(IDCalibrationLow, calibrationLowData),
			NewFrame(IDCalibrationHi, calibrationHiData),
			NewFrame(IDStatus, statusData),
		)
	}
	return frames
}

// NextTick advances tick by one step, wrapping at TickPeriod.
func NextTick(tick int) int {
	tick += TickStep
	if tick >= TickPeriod {
		tick = 0
	}
	return tick
}

// DecodeConcentration extracts a concentration code from a received frame.
// Only extended frames on IDConcentration with at least 4 bytes qualify.
func DecodeConcentration(f can.Frame) (uint32, bool) {
	if !f.IsExtended || f.IsRemote || f.ID != IDConcentration || f.Length < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(f.Data[:4]), true
}
