package engine

// envelopeFollower is an asymmetric one-pole follower: it rises toward a
// gated target with an attack coefficient and falls back toward zero
// (or a lower target) with a separate decay coefficient. Per bin, one of
// these tracks how strongly that bin's resynthesis oscillator should be
// weighted from one internal block to the next.
//
// Attack/decay are user-facing unit values (0..1); they are mapped onto
// one-pole coefficients via alpha = 1 - tanh(5*t), clipped away from
// exactly 1 so the filter can never fully latch.
type envelopeFollower struct {
	value float64
}

const envelopeAlphaCeiling = 1 - 1e-10

// envelopeAlpha maps a unit attack/decay control value onto a one-pole
// coefficient: the weight step gives the target each sample. t=0 gives
// the fastest possible response (alpha≈1, y jumps straight to target);
// t=1 gives the slowest (alpha = 1 - tanh(5), just above 0).
func envelopeAlpha(t float64) float64 {
	a := 1 - fastTanh(5*t)
	if a < 0 {
		a = 0
	}
	if a > envelopeAlphaCeiling {
		a = envelopeAlphaCeiling
	}
	return a
}

// step advances the follower one sample toward target, using alphaUp
// while rising and alphaDown while falling.
func (e *envelopeFollower) step(target, alphaUp, alphaDown float64) float64 {
	alpha := alphaDown
	if target > e.value {
		alpha = alphaUp
	}
	e.value = alpha*target + (1-alpha)*e.value
	e.value = flushDenormal(e.value)
	return e.value
}

// fillBlock runs the follower at its octave's decimated rate toward a
// single target held constant for the whole internal block (the target
// changes once per block; the follower itself advances once per
// decimated sample), writing the per-sample modulation vector into out
// and returning the value after the last sample, for metering.
func (e *envelopeFollower) fillBlock(target, alphaUp, alphaDown float64, out []float64) float64 {
	for i := range out {
		out[i] = e.step(target, alphaUp, alphaDown)
	}
	return e.value
}

func (e *envelopeFollower) reset() { e.value = 0 }

// envelopeBank holds one follower per bin within an octave.
type envelopeBank struct {
	followers []envelopeFollower
}

func newEnvelopeBank(bins int) *envelopeBank {
	return &envelopeBank{followers: make([]envelopeFollower, bins)}
}

func (b *envelopeBank) reset() {
	for i := range b.followers {
		b.followers[i].reset()
	}
}
