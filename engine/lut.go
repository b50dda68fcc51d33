package engine

import "math"

// Shared lookup tables, built once at package init and read-only from
// then on, matching the LUT-and-linear-interpolation approach the
// oscillator bank is modelled on: a fixed-size table plus cheap
// interpolation beats a transcendental call per sample on the audio
// thread.
const (
	sinLUTSize  = 4096
	tanhLUTSize = 4096
	tanhLUTMax  = 8.0 // tanh saturates well before this; clamp beyond it
)

var (
	sinLUT  [sinLUTSize + 1]float64
	tanhLUT [tanhLUTSize + 1]float64
)

func init() {
	for i := 0; i <= sinLUTSize; i++ {
		sinLUT[i] = math.Sin(2 * math.Pi * float64(i) / float64(sinLUTSize))
	}
	for i := 0; i <= tanhLUTSize; i++ {
		x := (float64(i)/float64(tanhLUTSize))*2*tanhLUTMax - tanhLUTMax
		tanhLUT[i] = math.Tanh(x)
	}
}

// fastSinCos returns (sin, cos) of phase, phase given in turns (0..1 maps
// to 0..2π), via linear interpolation over sinLUT. cos is derived from a
// quarter-turn phase shift into the same table.
func fastSinCos(turns float64) (sinV, cosV float64) {
	turns -= math.Floor(turns)
	sinV = lutLookup(turns)
	cosV = lutLookup(turns + 0.25)
	return
}

func lutLookup(turns float64) float64 {
	turns -= math.Floor(turns)
	pos := turns * float64(sinLUTSize)
	idx := int(pos)
	frac := pos - float64(idx)
	return sinLUT[idx]*(1-frac) + sinLUT[idx+1]*frac
}

// fastTanh approximates tanh(x) via linear interpolation over tanhLUT,
// clamping inputs outside the table's range to ±1.
func fastTanh(x float64) float64 {
	if x <= -tanhLUTMax {
		return -1
	}
	if x >= tanhLUTMax {
		return 1
	}
	pos := (x + tanhLUTMax) / (2 * tanhLUTMax) * float64(tanhLUTSize)
	idx := int(pos)
	frac := pos - float64(idx)
	return tanhLUT[idx]*(1-frac) + tanhLUT[idx+1]*frac
}

// flushDenormal zeroes values too small to matter but large enough to
// force the FPU into slow denormal handling, a standard guard at
// recursive-filter state boundaries (envelope followers, one-pole
// smoothers).
func flushDenormal(x float64) float64 {
	const floor = 1e-30
	if x > -floor && x < floor {
		return 0
	}
	return x
}

// clampFinite replaces NaN/Inf with 0, the real-time-safe response to a
// numerical hazard reaching a signal boundary: clamp there rather than
// let a NaN propagate through every filter state downstream. ok reports
// whether x was already finite.
func clampFinite(x float64) (y float64, ok bool) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}
