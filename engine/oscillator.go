package engine

// oscillator is a single complex wavetable oscillator: it generates
// cos(phase) - i*sin(phase) samples at a settable frequency, continuing
// its phase seamlessly across blocks. One of these exists per (octave,
// bin) pair in the synthesis stage.
type oscillator struct {
	phase     float64 // in turns, 0..1
	phaseInc  float64 // turns per sample
	frequency float64
}

// setFrequency recomputes the per-sample phase increment for the given
// sample rate. Called whenever the bin's centre frequency changes
// (at Prepare and on a tuning change).
func (o *oscillator) setFrequency(freq, sampleRate float64) {
	o.frequency = freq
	o.phaseInc = freq / sampleRate
}

// next advances the oscillator by one sample and returns
// (cos(phase), -sin(phase)) as the real and imaginary parts of the
// generated complex carrier.
func (o *oscillator) next() (re, im float64) {
	s, c := fastSinCos(o.phase)
	re = c
	im = -s
	o.phase += o.phaseInc
	if o.phase >= 1 {
		o.phase -= 1
	} else if o.phase < 0 {
		o.phase += 1
	}
	return
}

// oscillatorBank holds one oscillator per bin for a single octave.
type oscillatorBank struct {
	osc []oscillator
}

func newOscillatorBank(bins int) *oscillatorBank {
	return &oscillatorBank{osc: make([]oscillator, bins)}
}

func (b *oscillatorBank) setFrequency(bin int, freq, sampleRate float64) {
	b.osc[bin].setFrequency(freq, sampleRate)
}
