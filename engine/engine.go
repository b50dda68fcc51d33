// Package engine implements the harmonic resynthesis reverb core: a
// sliding constant-Q analysis feeds a per-bin sparsity gate and envelope
// bank, which in turn drives a complex oscillator bank that regenerates
// the gated content from scratch before an inverse transform and an
// equal-power wet/dry mix return it to the host.
package engine

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/intuitionamiga/harmonictail/internal/cqt"
)

const (
	// Octaves and Bins fix the analysis grid: 9 octaves of 12 semitone
	// bins each.
	Octaves = 9
	Bins    = 12
)

// Only mono and stereo layouts are accepted; input and output layouts
// must match. Wider layouts are rejected at Prepare.
const (
	minSampleRate = 8000
	maxSampleRate = 192000
	minChannels   = 1
	maxChannels   = 2
)

// channelState holds everything the engine needs to process one audio
// channel independently of every other channel: its own CQT instance,
// envelope and oscillator banks, and all per-block scratch grids.
type channelState struct {
	cqt     *cqt.CQT
	feature *featureStage
	shift   *shiftMix
	colour  *colourStage
	gain    *gainStage
	outMix  outputMix
	synth   *synthWriteBack
	adapter *blockAdapter

	envelope []*envelopeBank // per octave
	osc      []*oscillatorBank

	mag       [][]float64 // O x B instantaneous magnitude this block
	envCur    [][]float64 // O x B envelope value before this block's update
	pass      [][]bool
	gainRaw   [][]float64
	envTarget [][]float64 // this block's new envelope values, also the meter snapshot

	envMod []float64 // scratch: per-sample modulation vector for one (o,b) bin, reused every call

	raw   []float64 // internalBlockSize; gain-staged input, also the dry signal
	mixed []float64 // internalBlockSize; output of the mix stage
}

func newChannelState(bins, octaves, blockSize, maxHostBlock int, sampleRate float64) *channelState {
	mag := make([][]float64, octaves)
	envCur := make([][]float64, octaves)
	pass := make([][]bool, octaves)
	gainRaw := make([][]float64, octaves)
	envTarget := make([][]float64, octaves)
	envelope := make([]*envelopeBank, octaves)
	osc := make([]*oscillatorBank, octaves)
	for o := 0; o < octaves; o++ {
		mag[o] = make([]float64, bins)
		envCur[o] = make([]float64, bins)
		pass[o] = make([]bool, bins)
		gainRaw[o] = make([]float64, bins)
		envTarget[o] = make([]float64, bins)
		envelope[o] = newEnvelopeBank(bins)
		osc[o] = newOscillatorBank(bins)
	}
	return &channelState{
		cqt:       cqt.New(bins, octaves),
		feature:   newFeatureStage(octaves, bins),
		shift:     newShiftMix(octaves, bins),
		gain:      newGainStage(sampleRate),
		outMix:    newOutputMix(sampleRate),
		synth:     newSynthWriteBack(blockSize),
		adapter:   newBlockAdapter(maxHostBlock),
		envelope:  envelope,
		osc:       osc,
		mag:       mag,
		envCur:    envCur,
		pass:      pass,
		gainRaw:   gainRaw,
		envTarget: envTarget,
		envMod:    make([]float64, blockSize),
		raw:       make([]float64, blockSize),
		mixed:     make([]float64, blockSize),
	}
}

// binBuffersMatch reports whether every bin's ring holds exactly the
// per-octave sample count the CQT reports for this block. A mismatch
// means the analysis side and the synthesis side disagree about how many
// samples are in flight, and pulling anyway would silently read stale
// data; the caller must drop the block to silence instead.
func (cs *channelState) binBuffersMatch() bool {
	for o := 0; o < Octaves; o++ {
		n := cs.cqt.SamplesToProcess(o)
		for b := 0; b < Bins; b++ {
			if cs.cqt.OctaveBinBuffer(o, b).Buffered() != n {
				return false
			}
		}
	}
	return true
}

// retuneOscillators pushes the CQT's current per-bin centre frequencies
// into the oscillator bank for every octave. Called once at Prepare and
// again whenever concert pitch changes.
func (cs *channelState) retuneOscillators(sampleRate float64, octaves, bins int) {
	freqs := make([]float64, bins)
	for o := 0; o < octaves; o++ {
		octaveRate := sampleRate / float64(int(1)<<uint(o))
		cs.cqt.OctaveBinFreqs(o, freqs)
		for b := 0; b < bins; b++ {
			cs.osc[o].setFrequency(b, freqs[b], octaveRate)
		}
	}
}

// Engine is the top-level processor. One Engine instance handles all
// channels of a stream; each channel gets an independent channelState so
// stereo processing never shares mutable state across channels.
type Engine struct {
	params     *Params
	meters     []*Meter
	violations violationCounters
	logger     *log.Logger

	sampleRate float64
	channels   int
	chans      []*channelState
}

// New constructs an Engine bound to the given Params. Params may be
// shared with a UI/control layer; Prepare must be called before Process.
func New(params *Params) *Engine {
	return &Engine{
		params: params,
		logger: log.New(os.Stderr),
	}
}

// Prepare (re)allocates every buffer the engine needs for the given
// sample rate, channel count, and the largest host block size Process
// will ever be called with. Prepare is the only place configuration
// errors surface; Process never returns an error. May allocate.
func (e *Engine) Prepare(sampleRate float64, channels, maxBlockSize int) error {
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return fmt.Errorf("prepare: %w", &ConfigError{Field: "sampleRate", Value: int(sampleRate), Want: fmt.Sprintf("%d..%d", minSampleRate, maxSampleRate)})
	}
	if channels < minChannels || channels > maxChannels {
		return fmt.Errorf("prepare: %w", &ConfigError{Field: "channels", Value: channels, Want: fmt.Sprintf("%d..%d", minChannels, maxChannels)})
	}
	if maxBlockSize < 1 {
		return fmt.Errorf("prepare: %w", &ConfigError{Field: "maxBlockSize", Value: maxBlockSize, Want: ">=1"})
	}

	e.sampleRate = sampleRate
	e.channels = channels
	e.chans = make([]*channelState, channels)
	e.meters = make([]*Meter, channels)

	tuning := e.params.Tuning.Load()
	blockRate := sampleRate / internalBlockSize
	for ch := 0; ch < channels; ch++ {
		cs := newChannelState(Bins, Octaves, internalBlockSize, maxBlockSize, sampleRate)
		cs.cqt.Prepare(sampleRate, internalBlockSize)
		cs.cqt.SetConcertPitch(tuning)
		cs.colour = newColourStage(Octaves, Bins, blockRate)
		cs.retuneOscillators(sampleRate, Octaves, Bins)
		e.chans[ch] = cs
		e.meters[ch] = newMeter(Octaves, Bins)
		e.meters[ch].updateFrequencies(cs.cqt.OctaveBinFreqs)
	}

	e.logger.Info("engine prepared", "sampleRate", sampleRate, "channels", channels, "maxBlockSize", maxBlockSize)
	return nil
}

// Release drops every allocation Prepare made. Safe to call even if
// Prepare was never called.
func (e *Engine) Release() {
	e.chans = nil
	e.meters = nil
	e.logger.Info("engine released")
}

// Meter returns the channel's latest spectral display snapshot.
func (e *Engine) Meter(channel int) *Meter { return e.meters[channel] }

// ContractViolations reports counters for real-time contract violations
// observed since Prepare: host output underruns, bin-buffer sample-count
// mismatches (the offending block is replaced with silence), and NaN
// clamps at signal boundaries. Safe to call from any thread.
func (e *Engine) ContractViolations() (underruns, binMismatches, nanClamps uint64) {
	return e.violations.Underruns(), e.violations.BinMismatches(), e.violations.NaNClamps()
}

// Process runs exactly one host block through the engine for every
// channel. in and out must have the same channel count the engine was
// prepared with, and in[c]/out[c] must be the same length. Process
// performs no allocation and never blocks.
func (e *Engine) Process(in, out [][]float64) {
	snap := e.params.Load()
	alphaUp := envelopeAlpha(snap.Attack)
	alphaDown := envelopeAlpha(snap.Decay)

	for ch := 0; ch < e.channels; ch++ {
		cs := e.chans[ch]
		cs.adapter.PushInput(in[ch])

		for cs.adapter.ReadyForInternalBlock() {
			e.processInternalBlock(ch, cs, snap, alphaUp, alphaDown)
		}

		if cs.adapter.ReadyForHost(len(out[ch])) {
			cs.adapter.PullHostBlock(out[ch])
		} else {
			e.violations.recordUnderrun()
			for i := range out[ch] {
				out[ch][i] = 0
			}
		}
	}
}

// processInternalBlock runs one fixed-size internal block through every
// stage of the chain: gain, analysis, sparsity gate, octave shift/mix,
// colour tilt, envelope update, oscillator synthesis write-back, inverse
// transform, and output mix.
func (e *Engine) processInternalBlock(ch int, cs *channelState, snap Snapshot, alphaUp, alphaDown float64) {
	cs.adapter.PullInternalBlock(cs.raw)

	cs.gain.Apply(cs.raw, snap.Gain, &e.violations)
	cs.cqt.InputBlock(cs.raw)

	if !cs.binBuffersMatch() {
		e.violations.recordBinMismatch()
		for i := range cs.mixed {
			cs.mixed[i] = 0
		}
		cs.adapter.PushInternalBlock(cs.mixed)
		return
	}

	for o := 0; o < Octaves; o++ {
		for b := 0; b < Bins; b++ {
			sample := cs.cqt.OctaveBinBuffer(o, b).PeekDelaySample(0)
			cs.mag[o][b] = magnitude(real(sample), imag(sample))
			cs.envCur[o][b] = cs.envelope[o].followers[b].value
		}
	}

	cs.feature.Gate(cs.mag, cs.envCur, snap.Sparsity, cs.pass)
	for o := 0; o < Octaves; o++ {
		for b := 0; b < Bins; b++ {
			if cs.pass[o][b] {
				cs.gainRaw[o][b] = cs.mag[o][b]
			} else {
				cs.gainRaw[o][b] = 0
			}
		}
	}

	_, mixed := cs.shift.Apply(cs.gainRaw, snap.OctaveShift, snap.OctaveMix)
	coloured := cs.colour.Apply(mixed, cs.feature.OctaveMeanEnv(), snap.Colour)

	for o := 0; o < Octaves; o++ {
		n := cs.cqt.SamplesToProcess(o)
		mod := cs.envMod[:n]
		for b := 0; b < Bins; b++ {
			v := cs.envelope[o].followers[b].fillBlock(coloured[o][b], alphaUp, alphaDown, mod)
			cs.envTarget[o][b] = v
			cs.synth.Process(cs.cqt.OctaveBinBuffer(o, b), &cs.osc[o].osc[b], mod, n)
		}
	}

	wet := cs.cqt.OutputBlock()
	cs.outMix.Apply(cs.raw, wet, snap.Mix, snap.Master, cs.mixed, &e.violations)
	e.meters[ch].write(cs.envTarget)

	cs.adapter.PushInternalBlock(cs.mixed)
}

// SetTuning propagates a concert-pitch change to every channel's CQT and
// oscillator bank. This is a control-rate operation: it reassigns every
// per-bin frequency and is not meant to be called from the audio thread.
func (e *Engine) SetTuning(hz float64) {
	e.params.SetTuning(hz)
	for i, cs := range e.chans {
		cs.cqt.SetConcertPitch(hz)
		cs.retuneOscillators(e.sampleRate, Octaves, Bins)
		e.meters[i].updateFrequencies(cs.cqt.OctaveBinFreqs)
	}
}
