package engine

import "math"

// gainSmoothingSeconds is the time constant shared by the input-gain and
// output-stage followers.
const gainSmoothingSeconds = 0.020

// smoothingCoeff derives the per-sample one-pole step for a follower
// with the given time constant at the given sample rate.
func smoothingCoeff(timeConstantSeconds, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(timeConstantSeconds*sampleRate))
}

// gainStage applies the input gain control before any analysis happens,
// so gain changes how much content clears the sparsity gate downstream,
// not just the output level. The gain value rides a ~20 ms follower so
// automation doesn't zipper.
type gainStage struct {
	current   float64
	smoothing float64
}

func newGainStage(sampleRate float64) *gainStage {
	return &gainStage{current: 1, smoothing: smoothingCoeff(gainSmoothingSeconds, sampleRate)}
}

func (g *gainStage) Apply(samples []float64, targetDb float64, v *violationCounters) {
	target := dbToLinear(targetDb)
	for i, x := range samples {
		g.current += (target - g.current) * g.smoothing
		y, ok := clampFinite(x * g.current)
		if !ok {
			v.recordNaNClamp()
		}
		samples[i] = y
	}
}

// outputMix combines the dry (pre-engine) and wet (resynthesized) signal
// with an equal-power crossfade, then applies master gain. At mix=0 this
// must be bit-exact passthrough of dry (minus the fixed block-adapter
// delay); at mix=1 the dry path contributes nothing. The wet, dry and
// master gains each ride their own ~20 ms one-pole follower so
// mid-stream automation doesn't zipper; the followers are seeded from
// the first block's targets, so a setting held constant is applied
// exactly.
type outputMix struct {
	wet, dry, master float64
	smoothing        float64
	primed           bool
}

func newOutputMix(sampleRate float64) outputMix {
	return outputMix{smoothing: smoothingCoeff(gainSmoothingSeconds, sampleRate)}
}

func (m *outputMix) Apply(dry, wet []float64, mix, masterDb float64, dst []float64, v *violationCounters) {
	wetTarget, dryTarget := equalPowerGains(mix)
	masterTarget := dbToLinear(masterDb)
	if !m.primed {
		m.wet, m.dry, m.master = wetTarget, dryTarget, masterTarget
		m.primed = true
	}
	for i := range dst {
		m.wet = flushDenormal(m.wet + (wetTarget-m.wet)*m.smoothing)
		m.dry = flushDenormal(m.dry + (dryTarget-m.dry)*m.smoothing)
		m.master = flushDenormal(m.master + (masterTarget-m.master)*m.smoothing)
		y, ok := clampFinite((dry[i]*m.dry + wet[i]*m.wet) * m.master)
		if !ok {
			v.recordNaNClamp()
		}
		dst[i] = y
	}
}

// equalPowerGains returns the wet/dry gain pair for an equal-power
// crossfade: wet = sqrt(mix), dry = sqrt(1-mix). Values at or beyond the
// mix=0 and mix=1 endpoints return the exact pairs (0, 1) and (1, 0), so
// full-dry and full-wet settings are bit-exact and sqrt never sees a
// negative argument.
func equalPowerGains(mix float64) (wetGain, dryGain float64) {
	if mix <= 0 {
		return 0, 1
	}
	if mix >= 1 {
		return 1, 0
	}
	return math.Sqrt(mix), math.Sqrt(1 - mix)
}
