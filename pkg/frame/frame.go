package frame

import "encoding/binary"

const (
	// CommandStart is the first byte of every command sent to the sensor module.
	CommandStart = 0x55
	// CommandLen is the length of a command frame including its checksum.
	CommandLen = 4

	funcTemperature = 0x0E
	funcPressure    = 0x0D

	// ResponseStart is the first byte of every response frame.
	ResponseStart = 0xAA

	// TemperatureLen is the exact length of a temperature response frame.
	TemperatureLen = 6
	// PressureLen is the exact length of a pressure response frame.
	PressureLen = 8

	typeTemperature = 0x0A
	typePressure    = 0x09

	// BufferSize is the receive scratch buffer capacity used by pollers.
	BufferSize = 16
)

// Command selects which physical quantity the sensor module should report.
type Command uint8

const (
	// None means no command is pending.
	None Command = iota
	Temperature
	Pressure
)

func (c Command) String() string {
	switch c {
	case Temperature:
		return "temperature"
	case Pressure:
		return "pressure"
	default:
		return "none"
	}
}

// Bytes returns the wire form of the command with its CRC appended.
// None has no wire form and returns ok=false.
func (c Command) Bytes() (b [CommandLen]byte, ok bool) {
	var fc byte
	switch c {
	case Temperature:
		fc = funcTemperature
	case Pressure:
		fc = funcPressure
	default:
		return b, false
	}
	b[0] = CommandStart
	b[1] = CommandLen
	b[2] = fc
	b[3] = CRC8(b[:3])
	return b, true
}

// ParseCommand decodes a command frame as sent by a poller.
func ParseCommand(b []byte) (Command, bool) {
	if len(b) != CommandLen || b[0] != CommandStart || b[1] != CommandLen {
		return None, false
	}
	if CRC8(b[:CommandLen-1]) != b[CommandLen-1] {
		return None, false
	}
	switch b[2] {
	case funcTemperature:
		return Temperature, true
	case funcPressure:
		return Pressure, true
	}
	return None, false
}

// Kind identifies a validated response frame.
type Kind uint8

const (
	KindTemperature Kind = iota + 1
	KindPressure
)

func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindPressure:
		return "pressure"
	default:
		return "unknown"
	}
}

// Validate decides whether buf is exactly one complete, correctly checksummed
// response frame. Dispatch is on length only; a frame of an accepted length
// that fails any check is rejected as a whole.
func Validate(buf []byte) (Kind, []byte, bool) {
	switch len(buf) {
	case TemperatureLen:
		if check(buf, typeTemperature) {
			return KindTemperature, buf[:TemperatureLen], true
		}
	case PressureLen:
		if check(buf, typePressure) {
			return KindPressure, buf[:PressureLen], true
		}
	}
	return 0, nil, false
}

func check(buf []byte, typ byte) bool {
	n := len(buf)
	return buf[0] == ResponseStart &&
		buf[1] == byte(n) &&
		buf[2] == typ &&
		CRC8(buf[:n-1]) == buf[n-1]
}

// ParseTemperature returns the signed little-endian code in bytes 3..4 of a
// validated temperature frame.
func ParseTemperature(f []byte) int16 {
	return int16(binary.LittleEndian.Uint16(f[3:5]))
}

// ParsePressure returns the unsigned little-endian code in bytes 3..6 of a
// validated pressure frame.
func ParsePressure(f []byte) uint32 {
	return binary.LittleEndian.Uint32(f[3:7])
}

// EncodeTemperature builds a valid temperature response frame.
func EncodeTemperature(v int16) []byte {
	f := make([]byte, TemperatureLen)
	f[0] = ResponseStart
	f[1] = TemperatureLen
	f[2] = typeTemperature
	binary.LittleEndian.PutUint16(f[3:5], uint16(v))
	f[5] = CRC8(f[:5])
	return f
}

// EncodePressure builds a valid pressure response frame.
func EncodePressure(v uint32) []byte {
	f := make([]byte, PressureLen)
	f[0] = ResponseStart
	f[1] = PressureLen
	f[2] = typePressure
	binary.LittleEndian.PutUint32(f[3:7], v)
	f[7] = CRC8(f[:7])
	return f
}
