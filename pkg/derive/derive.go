// Package derive computes the oxygen concentration from the sensing element
// voltage and the two chamber pressures.
package derive

import (
	"math"

	"github.com/chewxy/math32"
)

const (
	// VoltageScale is the element output per unit of oxygen partial pressure.
	VoltageScale float32 = 0.0492
	// CorrectionFactor divides the inner pressure when the chambers diverge.
	CorrectionFactor float32 = 1.67
	// CorrectionThreshold is the pressure difference, in kPa, at which the
	// correction applies.
	CorrectionThreshold float32 = 10.0
)

// Inputs are the physical values one derivation works on.
type Inputs struct {
	Volts float32 // element voltage
	Inner float32 // inner chamber pressure, kPa
	Outer float32 // outer chamber pressure, kPa
}

// Corrected reports whether the chamber difference selects the corrected branch.
func (in Inputs) Corrected() bool {
	return math32.Abs(in.Inner-in.Outer) >= CorrectionThreshold
}

// Concentration returns the oxygen concentration in percent.
// A zero inner pressure yields +Inf or NaN, which Centipercent clamps.
func Concentration(in Inputs) float32 {
	ratio := in.Volts / VoltageScale
	inner := in.Inner
	if in.Corrected() {
		inner = in.Inner / CorrectionFactor
	}
	return ratio / inner * 100
}

// Centipercent converts a percentage to hundredths of a percent, truncating
// toward zero. NaN and negatives give 0; values past the range saturate.
func Centipercent(pct float32) uint32 {
	v := pct * 100
	switch {
	case math32.IsNaN(v) || v <= 0:
		return 0
	case v >= 1<<32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}
