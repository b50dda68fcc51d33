package engine

import "github.com/intuitionamiga/harmonictail/internal/ring"

// synthWriteBack drives one channel's oscillator and envelope banks and
// performs the "consume analysis, synthesize anew" step: for every
// (octave, bin) it pulls (and discards) the analysis samples the CQT
// just produced, generates the equivalent span of oscillator samples
// scaled by the bin's envelope value, and pushes those back into the
// same ring — so the inverse transform reconstructs a phase-coherent
// regeneration of the gated content rather than a filtered copy of the
// input.
type synthWriteBack struct {
	scratch []complex128 // reused per (octave,bin) call, sized to the largest n_o
}

func newSynthWriteBack(maxBlockSize int) *synthWriteBack {
	return &synthWriteBack{scratch: make([]complex128, maxBlockSize)}
}

// Process pulls and discards n samples from buf, then pushes n freshly
// generated oscillator samples back into it, each scaled by the matching
// entry of mod (the envelope follower's per-sample modulation vector for
// this internal block, see envelopeFollower.fillBlock).
func (s *synthWriteBack) Process(buf *ring.Complex, osc *oscillator, mod []float64, n int) {
	dst := s.scratch[:n]
	buf.PullBlock(dst, n)
	for i := 0; i < n; i++ {
		re, im := osc.next()
		g := mod[i]
		dst[i] = complex(re*g, im*g)
	}
	buf.PushBlock(dst)
}
