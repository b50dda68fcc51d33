package engine

import "math"

// shiftMix turns a raw per-(octave,bin) gain grid into a shifted-and-mixed
// grid: GainShifted pulls each target octave's content from a fractional
// number of octaves away (lower bin index is higher frequency, so a
// positive shift pulls from higher-index — lower-frequency — source
// octaves), saturating at the grid edges rather than wrapping around.
// GainMixed crossfades between the unshifted and shifted grids.
type shiftMix struct {
	octaves, bins int
	shifted       [][]float64 // scratch, reused every block
	mixed         [][]float64 // scratch, reused every block
}

func newShiftMix(octaves, bins int) *shiftMix {
	shifted := make([][]float64, octaves)
	mixed := make([][]float64, octaves)
	for o := range shifted {
		shifted[o] = make([]float64, bins)
		mixed[o] = make([]float64, bins)
	}
	return &shiftMix{octaves: octaves, bins: bins, shifted: shifted, mixed: mixed}
}

// Apply computes GainShifted and GainMixed from raw, storing both into the
// shiftMix's own scratch (valid until the next call). shiftAmount is in
// (possibly fractional) octaves; mix is the 0..1 crossfade between raw and
// shifted.
func (s *shiftMix) Apply(raw [][]float64, shiftAmount, mix float64) (shifted, mixed [][]float64) {
	intShift := int(math.Floor(shiftAmount))
	frac := shiftAmount - float64(intShift)

	for o := 0; o < s.octaves; o++ {
		loSrc := clampOctave(o+intShift, s.octaves)
		hiSrc := clampOctave(o+intShift+1, s.octaves)
		for b := 0; b < s.bins; b++ {
			lo := raw[loSrc][b]
			hi := raw[hiSrc][b]
			s.shifted[o][b] = lo*(1-frac) + hi*frac
			s.mixed[o][b] = raw[o][b]*(1-mix) + s.shifted[o][b]*mix
		}
	}
	return s.shifted, s.mixed
}

func clampOctave(o, octaves int) int {
	if o < 0 {
		return 0
	}
	if o >= octaves {
		return octaves - 1
	}
	return o
}

