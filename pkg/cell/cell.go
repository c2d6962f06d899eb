package cell

import "sync/atomic"

const (
	// BusVoltageLSB is the bus voltage step of one register count, in volts.
	BusVoltageLSB = 0.004
	// busVoltageShift drops the three status bits of the bus voltage register.
	busVoltageShift = 3
)

// Reading is the latest state of one logical sensor stream.
// Each cell only populates the fields relevant to its role; the rest stay zero.
type Reading struct {
	Temperature   int16  // raw temperature code
	Pressure      uint32 // kPa x 1000
	BusVoltage    uint16 // raw bus voltage register
	Concentration uint32 // percent x 100
}

// PressureKPa converts the raw pressure code to kilopascals.
func (r Reading) PressureKPa() float32 {
	return float32(r.Pressure) / 1000.0
}

// BusVolts converts the raw bus voltage register to volts.
func (r Reading) BusVolts() float32 {
	return float32(r.BusVoltage>>busVoltageShift) * BusVoltageLSB
}

// ConcentrationPercent converts the centipercent code to percent.
func (r Reading) ConcentrationPercent() float32 {
	return float32(r.Concentration) / 100.0
}

// Field names one member of a Reading for SetField.
type Field uint8

const (
	FieldTemperature Field = iota
	FieldPressure
	FieldBusVoltage
	FieldConcentration
)

// Cell holds one Reading behind independently atomic fields.
//
// Every field is read and written on its own, so a Snapshot taken while a
// Replace is in progress may combine fields of two different writes. No
// single field is ever torn. Callers must keep exactly one writer per cell.
//
// The zero value is an all-zero reading ready for use.
type Cell struct {
	temperature   atomic.Int32
	pressure      atomic.Uint32
	busVoltage    atomic.Uint32
	concentration atomic.Uint32

	override    atomic.Uint32
	hasOverride atomic.Bool
}

// Snapshot loads all four fields.
func (c *Cell) Snapshot() Reading {
	return Reading{
		Temperature:   int16(c.temperature.Load()),
		Pressure:      c.pressure.Load(),
		BusVoltage:    uint16(c.busVoltage.Load()),
		Concentration: c.concentration.Load(),
	}
}

// Replace stores all four fields.
func (c *Cell) Replace(r Reading) {
	c.pressure.Store(r.Pressure)
	c.temperature.Store(int32(r.Temperature))
	c.busVoltage.Store(uint32(r.BusVoltage))
	c.concentration.Store(r.Concentration)
}

// Update applies fn to a snapshot and replaces the cell with the result.
// Fields fn does not touch are written back with the values just read.
func (c *Cell) Update(fn func(r *Reading)) {
	r := c.Snapshot()
	fn(&r)
	c.Replace(r)
}

// SetField overwrites a single field, preserving the others.
// The value is truncated to the width of the field.
func (c *Cell) SetField(f Field, v int64) {
	c.Update(func(r *Reading) {
		switch f {
		case FieldTemperature:
			r.Temperature = int16(v)
		case FieldPressure:
			r.Pressure = uint32(v)
		case FieldBusVoltage:
			r.BusVoltage = uint16(v)
		case FieldConcentration:
			r.Concentration = uint32(v)
		}
	})
}

// StoreOverride records an externally supplied concentration code.
// It is kept apart from the four snapshot fields.
func (c *Cell) StoreOverride(v uint32) {
	c.override.Store(v)
	c.hasOverride.Store(true)
}

// Override returns the last externally supplied concentration code, if any.
func (c *Cell) Override() (uint32, bool) {
	if !c.hasOverride.Load() {
		return 0, false
	}
	return c.override.Load(), true
}
