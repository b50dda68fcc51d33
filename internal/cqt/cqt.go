// Package cqt implements the sliding constant-Q transform the engine
// analyses and resynthesizes through. It supplies exactly the narrow
// accessor surface the engine needs and nothing more.
//
// The construction is the classic sliding-CQT approach: each octave
// is a decimated copy of the input (octave o runs at sr/2^o), and within
// an octave each bin is a complex one-pole resonator tuned to that bin's
// centre frequency, whose bandwidth is set by a fixed quality factor Q so
// that absolute bandwidth scales with frequency — the defining property of
// a constant-Q analysis.
//
// Synthesis is additive: the engine overwrites each bin's ring with
// oscillator-generated samples (already complex sinusoids at the bin's own
// frequency), and OutputBlock reconstructs the time domain signal by
// summing real parts across bins per octave and upsampling each octave's
// contribution back to the shared internal block rate.
package cqt

import (
	"math"

	"github.com/intuitionamiga/harmonictail/internal/ring"
)

// lowpassStage is a single one-pole anti-aliasing filter paired with a
// decimate/interpolate-by-2 stage. Octave o chains o of these, applied to
// the full-rate input to reach sr/2^o.
type lowpassStage struct {
	state float64
	alpha float64 // smoothing coefficient, same for decimation and interpolation
}

func newLowpassStage() *lowpassStage {
	// Cutoff at roughly 0.45 of the post-decimation Nyquist, matched for
	// both the analysis (decimation) and synthesis (interpolation) paths.
	// The filter runs at the undecimated rate, whose post-decimation
	// Nyquist is a quarter of it.
	const cutoffRatio = 0.45
	alpha := math.Exp(-2 * math.Pi * cutoffRatio / 4)
	return &lowpassStage{alpha: alpha}
}

func (s *lowpassStage) filter(x float64) float64 {
	s.state = s.alpha*s.state + (1-s.alpha)*x
	return s.state
}

// binResonator is a single complex demodulating one-pole filter.
type binResonator struct {
	freq       float64
	phase      float64 // radians
	phaseInc   float64
	alpha      float64
	gain       float64
	stateRe    float64
	stateIm    float64
	sampleRate float64
}

func (r *binResonator) setFrequency(f, sampleRate, q float64) {
	r.freq = f
	r.sampleRate = sampleRate
	r.phaseInc = 2 * math.Pi * f / sampleRate
	bandwidth := f / q
	if bandwidth <= 0 {
		bandwidth = 1
	}
	cutoff := bandwidth / sampleRate
	if cutoff > 0.49 {
		cutoff = 0.49
	}
	r.alpha = math.Exp(-2 * math.Pi * cutoff)
	r.gain = 1 - r.alpha
}

// demodulate steps the resonator one sample and returns the current
// baseband-filtered magnitude estimate of the input at this bin's
// frequency, as a complex sample.
//
// Mixing x down by e^-i*phase and lowpass-filtering the product leaves
// half the analytic amplitude at the carrier's own frequency (the other
// half lands at +2*phase and is removed by the lowpass): a real input
// A*cos(phase) converges to a baseband state of A/2, not A. The ×2 below
// is the standard synchronous-detection/lock-in-amplifier compensation
// for that factor, so the returned magnitude tracks the input amplitude
// directly instead of half of it.
func (r *binResonator) demodulate(x float64) complex128 {
	s, c := math.Sincos(-r.phase)
	re := x * c
	im := x * s
	r.stateRe = r.alpha*r.stateRe + r.gain*re
	r.stateIm = r.alpha*r.stateIm + r.gain*im
	r.phase += r.phaseInc
	if r.phase >= 2*math.Pi {
		r.phase -= 2 * math.Pi
	}
	return complex(2*r.stateRe, 2*r.stateIm)
}

type octaveState struct {
	decimate    []*lowpassStage // length o, chained
	interpolate []*lowpassStage // length o, chained (reverse order use)
	resonators  []binResonator  // length B
	bins        []*ring.Complex // length B, capacity n_o

	// decimateScratch[i] holds the output of decimation stage i, sized
	// blockSize>>(i+1); decimateScratch[o-1] is the final n_o-length
	// decimated signal. Preallocated in Prepare so InputBlock/OutputBlock
	// never allocate.
	decimateScratch [][]float64
	// interpScratch[i] holds the output of interpolation stage i, sized
	// n_o<<(i+1); interpScratch[o-1] is the final blockSize-length signal.
	interpScratch [][]float64

	synthReal []complex128 // length n_o, reused each block
	binPeek   []complex128 // length n_o, reused each block
	decimated []float64    // length n_o, reused each block (synthesis sum)
	n         int          // n_o = blockSize / 2^o
}

// CQT is one channel's sliding constant-Q transform instance.
type CQT struct {
	sampleRate float64
	blockSize  int
	bins       int
	octaves    int
	tuning     float64
	octaveRef  float64
	q          float64
	oct        []octaveState
	outBlock   []float64
}

const defaultOctaveRefFraction = 0.5 // places the default tuning mid-stack

// New constructs a CQT for the given octave/bin layout. Prepare must be
// called before use.
func New(bins, octaves int) *CQT {
	return &CQT{
		bins:      bins,
		octaves:   octaves,
		tuning:    440,
		octaveRef: float64(octaves-1) * defaultOctaveRefFraction,
		q:         1 / (math.Pow(2, 1/float64(bins)) - 1),
	}
}

// Prepare (re)allocates all per-octave state for the given sample rate and
// internal block size. May allocate; must not be called from the audio
// thread while processing is active.
func (c *CQT) Prepare(sampleRate float64, blockSize int) {
	c.sampleRate = sampleRate
	c.blockSize = blockSize
	c.outBlock = make([]float64, blockSize)
	c.oct = make([]octaveState, c.octaves)
	for o := 0; o < c.octaves; o++ {
		n := blockSize >> uint(o)
		st := octaveState{
			decimate:         make([]*lowpassStage, o),
			interpolate:      make([]*lowpassStage, o),
			resonators:       make([]binResonator, c.bins),
			bins:             make([]*ring.Complex, c.bins),
			decimateScratch:  make([][]float64, o),
			interpScratch:    make([][]float64, o),
			synthReal:        make([]complex128, n),
			binPeek:          make([]complex128, n),
			decimated:        make([]float64, n),
			n:                n,
		}
		for i := 0; i < o; i++ {
			st.decimate[i] = newLowpassStage()
			st.interpolate[i] = newLowpassStage()
			st.decimateScratch[i] = make([]float64, blockSize>>uint(i+1))
			st.interpScratch[i] = make([]float64, n<<uint(i+1))
		}
		octaveRate := sampleRate / math.Pow(2, float64(o))
		for b := 0; b < c.bins; b++ {
			st.bins[b] = ring.NewComplex(n)
			st.resonators[b].setFrequency(c.binFreq(o, b), octaveRate, c.q)
		}
		c.oct[o] = st
	}
}

func (c *CQT) binFreq(o, b int) float64 {
	return c.tuning * math.Pow(2, c.octaveRef-float64(o)) * math.Pow(2, float64(b)/float64(c.bins))
}

// SetConcertPitch retunes every bin's analysis frequency. A tuning
// change reassigns every centre frequency before the next block is
// analysed.
func (c *CQT) SetConcertPitch(f float64) {
	c.tuning = f
	for o := range c.oct {
		octaveRate := c.sampleRate / math.Pow(2, float64(o))
		for b := range c.oct[o].resonators {
			c.oct[o].resonators[b].setFrequency(c.binFreq(o, b), octaveRate, c.q)
		}
	}
}

// SamplesToProcess returns n_o, the number of samples octave o processes
// per internal block.
func (c *CQT) SamplesToProcess(o int) int { return c.oct[o].n }

// OctaveBinFreqs writes octave o's current centre frequencies into dst,
// which must have length >= bins. Never allocates.
func (c *CQT) OctaveBinFreqs(o int, dst []float64) {
	for b := range c.oct[o].resonators {
		dst[b] = c.oct[o].resonators[b].freq
	}
}

// OctaveBinBuffer returns the read-write ring for bin b of octave o. The
// engine reads the newest analysis magnitude from it and later pulls and
// pushes n_o synthesis samples.
func (c *CQT) OctaveBinBuffer(o, b int) *ring.Complex {
	return c.oct[o].bins[b]
}

// InputBlock decimates blockSize samples into each octave's rate and runs
// every bin's analysis resonator, pushing n_o complex analysis samples
// into each bin's ring. It never allocates: every intermediate buffer was
// sized once in Prepare.
func (c *CQT) InputBlock(samples []float64) {
	for o := range c.oct {
		st := &c.oct[o]
		decimated := decimateChain(samples, st.decimate, st.decimateScratch)
		for b := range st.resonators {
			res := &st.resonators[b]
			for i, x := range decimated {
				st.synthReal[i] = res.demodulate(x)
			}
			st.bins[b].PushBlock(st.synthReal)
		}
	}
}

// decimateChain runs src through len(stages) half-band decimate-by-2
// filters in sequence, writing each stage's output into the matching
// scratch buffer, and returns the final decimated signal (an alias into
// scratch, not a copy).
func decimateChain(src []float64, stages []*lowpassStage, scratch [][]float64) []float64 {
	cur := src
	for i, stage := range stages {
		out := scratch[i]
		j := 0
		for k, x := range cur {
			f := stage.filter(x)
			if k%2 == 0 {
				out[j] = f
				j++
			}
		}
		cur = out
	}
	return cur
}

// interpolateChain is the inverse of decimateChain: it upsamples src by
// 2^len(stages) back to blockSize samples, smoothing each zero-stuffed
// doubling with the matching interpolation filter, writing each step's
// output into the matching scratch buffer.
func interpolateChain(src []float64, stages []*lowpassStage, scratch [][]float64) []float64 {
	cur := src
	// stages were built outermost-first (octave-order); undo from the
	// innermost (closest to the decimated rate) outward.
	step := 0
	for i := len(stages) - 1; i >= 0; i-- {
		stage := stages[i]
		out := scratch[step]
		for j, x := range cur {
			out[2*j] = stage.filter(x * 2)
			out[2*j+1] = stage.filter(0)
		}
		cur = out
		step++
	}
	return cur
}

// OutputBlock sums every octave's reconstructed, upsampled contribution
// into a single internal block's worth of time-domain samples. The
// returned slice is owned by the CQT and is overwritten on the next call.
func (c *CQT) OutputBlock() []float64 {
	for i := range c.outBlock {
		c.outBlock[i] = 0
	}
	for o := range c.oct {
		st := &c.oct[o]
		for i := range st.decimated {
			st.decimated[i] = 0
		}
		// Sum real parts of whatever the engine most recently pushed back
		// into each bin's ring for this block (additive synthesis — the
		// oscillator bank already supplies the carrier, so no remodulation
		// is needed here, only accumulation across bins).
		for b := range st.bins {
			st.bins[b].PeekBlockTailInto(st.binPeek)
			for i, v := range st.binPeek {
				st.decimated[i] += real(v)
			}
		}
		var upsampled []float64
		if len(st.interpolate) == 0 {
			upsampled = st.decimated
		} else {
			upsampled = interpolateChain(st.decimated, st.interpolate, st.interpScratch)
		}
		for i, v := range upsampled {
			c.outBlock[i] += v
		}
	}
	return c.outBlock
}
