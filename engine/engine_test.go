package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitionamiga/harmonictail/internal/cqt"
)

const testSampleRate = 48000.0

func newTestEngine(t *testing.T, maxBlock int) (*Engine, *Params) {
	t.Helper()
	params := NewParams()
	e := New(params)
	require.NoError(t, e.Prepare(testSampleRate, 2, maxBlock))
	t.Cleanup(e.Release)
	return e, params
}

func makeBlocks(channels, n int) [][]float64 {
	bufs := make([][]float64, channels)
	for c := range bufs {
		bufs[c] = make([]float64, n)
	}
	return bufs
}

func TestPrepareRejectsBadSampleRate(t *testing.T) {
	e := New(NewParams())
	err := e.Prepare(-1, 2, 256)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestPrepareRejectsBadChannelCount(t *testing.T) {
	for _, channels := range []int{0, -1, 3, 6} {
		e := New(NewParams())
		err := e.Prepare(48000, channels, 256)
		require.Error(t, err, "channels=%d", channels)
	}
}

func TestPrepareRejectsBadMaxBlockSize(t *testing.T) {
	e := New(NewParams())
	err := e.Prepare(48000, 2, 0)
	require.Error(t, err)
}

// Two seconds of silence must produce silent output.
func TestSilenceProducesSilence(t *testing.T) {
	hostBlock := 512
	e, _ := newTestEngine(t, hostBlock)

	totalSamples := int(2 * testSampleRate)
	processed := 0
	for processed < totalSamples {
		in := makeBlocks(2, hostBlock)
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		processed += hostBlock

		// Only check once the block adapter has flushed its fixed
		// internalBlockSize latency.
		if processed > internalBlockSize*2 {
			for c := range out {
				for _, v := range out[c] {
					assert.InDelta(t, 0, v, 1e-9)
				}
			}
		}
	}
}

// Process always writes exactly N samples for every requested host
// block size.
func TestProcessWritesExactlyNSamples(t *testing.T) {
	for _, n := range []int{1, 17, 63, 128, 256, 257, 1000} {
		e, _ := newTestEngine(t, 1024)
		in := makeBlocks(2, n)
		out := makeBlocks(2, n)
		e.Process(in, out)
		for c := range out {
			assert.Len(t, out[c], n, "N=%d", n)
		}
	}
}

// With mix=0 and gain=master=0dB, output equals input bit-exactly after
// the fixed block-adapter latency.
func TestBypassPropertyAtMixZero(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetMix(0)
	params.SetGain(0)
	params.SetMaster(0)

	numBlocks := 8
	inputSeq := make([]float64, numBlocks*hostBlock)
	for i := range inputSeq {
		inputSeq[i] = math.Sin(2 * math.Pi * 440 * float64(i) / testSampleRate)
	}

	var outputSeq []float64
	for b := 0; b < numBlocks; b++ {
		in := makeBlocks(2, hostBlock)
		chunk := inputSeq[b*hostBlock : (b+1)*hostBlock]
		copy(in[0], chunk)
		copy(in[1], chunk)

		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		outputSeq = append(outputSeq, out[0]...)
	}

	// After the fixed internalBlockSize latency, output must match input
	// bit-exactly (dry passthrough).
	delay := internalBlockSize
	for i := delay; i < len(outputSeq); i++ {
		assert.InDelta(t, inputSeq[i-delay], outputSeq[i], 1e-9, "sample %d", i)
	}
}

// With mix=1 on silent input, output is zero once envelopes settle (no
// self-excitation).
func TestFullWetSilentInputStaysSilent(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetMix(1)

	var last [][]float64
	for b := 0; b < 40; b++ {
		in := makeBlocks(2, hostBlock)
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		last = out
	}
	for c := range last {
		for _, v := range last[c] {
			assert.InDelta(t, 0, v, 1e-6)
		}
	}
}

// Stereo channels are processed independently: a signal on the left must
// leave the right output silent.
func TestChannelsAreIndependent(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetMix(1)
	params.SetAttack(0)
	params.SetDecay(0)
	params.SetSparsity(0)
	params.SetOctaveMix(0)

	numBlocks := 20
	var rightEnergy float64
	for b := 0; b < numBlocks; b++ {
		in := makeBlocks(2, hostBlock)
		for i := range in[0] {
			sampleIdx := b*hostBlock + i
			in[0][i] = 0.5 * math.Sin(2*math.Pi*220*float64(sampleIdx)/testSampleRate)
		}
		// in[1] stays silent.
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		for _, v := range out[1] {
			rightEnergy += v * v
		}
	}
	assert.InDelta(t, 0, rightEnergy, 1e-9)
}

func TestNoUnderrunsAcrossVaryingHostBlockSizes(t *testing.T) {
	// The primed output ring guarantees every host pull can be satisfied
	// regardless of how the host slices its blocks, so the underrun counter
	// only ever moves on a genuine contract violation.
	e, _ := newTestEngine(t, 1024)
	for _, n := range []int{10, 1, 513, 256, 999, 64, 1024} {
		in := makeBlocks(2, n)
		out := makeBlocks(2, n)
		e.Process(in, out)
	}

	underruns, binMismatches, nanClamps := e.ContractViolations()
	assert.Zero(t, underruns)
	assert.Zero(t, binMismatches)
	assert.Zero(t, nanClamps)
}

func TestBinBufferMismatchIsDetected(t *testing.T) {
	hostBlock := internalBlockSize
	e, _ := newTestEngine(t, hostBlock)

	in := makeBlocks(2, hostBlock)
	out := makeBlocks(2, hostBlock)
	e.Process(in, out)

	cs := e.chans[0]
	require.True(t, cs.binBuffersMatch())

	// Draining a sample from one bin's ring leaves it short of the count
	// the CQT reports for its octave.
	var scratch [1]complex128
	cs.cqt.OctaveBinBuffer(0, 0).PullBlock(scratch[:], 1)
	assert.False(t, cs.binBuffersMatch())
}

func TestContractViolationsExposesBinMismatchCounter(t *testing.T) {
	e, _ := newTestEngine(t, 256)
	e.violations.recordBinMismatch()

	_, binMismatches, _ := e.ContractViolations()
	assert.Equal(t, uint64(1), binMismatches)
}

func TestSetTuningUpdatesMeterFrequencies(t *testing.T) {
	e, _ := newTestEngine(t, 256)

	before := make([]float64, Bins)
	copy(before, e.Meter(0).Frequencies[2])

	e.Meter(0).FrequenciesDirty.Store(false)
	e.SetTuning(466.164)

	assert.True(t, e.Meter(0).FrequenciesDirty.Load())
	after := e.Meter(0).Frequencies[2]
	for b := range after {
		assert.NotEqual(t, before[b], after[b])
	}
}

// After a tuning change, every oscillator's phase increment equals its
// bin's new centre frequency divided by the octave's decimated sample
// rate.
func TestSetTuningRetunesEveryOscillator(t *testing.T) {
	e, _ := newTestEngine(t, 256)
	e.SetTuning(466.164)

	freqs := make([]float64, Bins)
	for _, cs := range e.chans {
		for o := 0; o < Octaves; o++ {
			octaveRate := testSampleRate / float64(int(1)<<uint(o))
			cs.cqt.OctaveBinFreqs(o, freqs)
			for b := 0; b < Bins; b++ {
				osc := &cs.osc[o].osc[b]
				assert.Equal(t, freqs[b], osc.frequency, "o=%d b=%d", o, b)
				assert.InDelta(t, freqs[b]/octaveRate, osc.phaseInc, 1e-15, "o=%d b=%d", o, b)
			}
		}
	}
}

func TestMeterEnvelopeUpdatesAfterProcessing(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetSparsity(0)
	params.SetAttack(0)

	in := makeBlocks(2, hostBlock)
	for i := range in[0] {
		in[0][i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/testSampleRate)
		in[1][i] = in[0][i]
	}
	out := makeBlocks(2, hostBlock)
	e.Process(in, out)

	var total float64
	for _, row := range e.Meter(0).Envelope {
		for _, v := range row {
			total += v
		}
	}
	assert.Greater(t, total, 0.0)
}

func TestReleaseThenPrepareIsSafe(t *testing.T) {
	e, _ := newTestEngine(t, 256)
	e.Release()
	require.NoError(t, e.Prepare(testSampleRate, 2, 256))
	in := makeBlocks(2, 64)
	out := makeBlocks(2, 64)
	e.Process(in, out)
}

// analyzeDominantBin re-analyzes a rendered signal with a fresh CQT
// instance (independent of whatever engine produced it) and returns the
// (octave, bin) with the largest accumulated energy, its centre
// frequency, and the average magnitude of its analysis samples. The
// first warmupBlocks internal blocks are discarded so that filter and
// envelope transients don't skew the result.
func analyzeDominantBin(samples []float64, sampleRate float64, warmupBlocks int) (octave, bin int, freq, avgMag float64) {
	c := cqt.New(Bins, Octaves)
	c.Prepare(sampleRate, internalBlockSize)

	energy := make([][]float64, Octaves)
	magSum := make([][]float64, Octaves)
	count := make([][]int, Octaves)
	for o := range energy {
		energy[o] = make([]float64, Bins)
		magSum[o] = make([]float64, Bins)
		count[o] = make([]int, Bins)
	}

	numBlocks := len(samples) / internalBlockSize
	for blk := 0; blk < numBlocks; blk++ {
		c.InputBlock(samples[blk*internalBlockSize : (blk+1)*internalBlockSize])
		if blk < warmupBlocks {
			continue
		}
		for o := 0; o < Octaves; o++ {
			for b := 0; b < Bins; b++ {
				s := c.OctaveBinBuffer(o, b).PeekDelaySample(0)
				m := magnitude(real(s), imag(s))
				energy[o][b] += m * m
				magSum[o][b] += m
				count[o][b]++
			}
		}
	}

	bestO, bestB, best := 0, 0, -1.0
	for o := 0; o < Octaves; o++ {
		for b := 0; b < Bins; b++ {
			if energy[o][b] > best {
				best, bestO, bestB = energy[o][b], o, b
			}
		}
	}
	freqs := make([]float64, Bins)
	c.OctaveBinFreqs(bestO, freqs)
	if count[bestO][bestB] > 0 {
		avgMag = magSum[bestO][bestB] / float64(count[bestO][bestB])
	}
	return bestO, bestB, freqs[bestB], avgMag
}

// A 440 Hz sine at full wet mix re-synthesizes with its dominant energy
// still at 440 Hz, at an amplitude within 3 dB of the input's.
func TestDominantFrequencyTracks440HzInput(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetMix(1)
	params.SetAttack(0)
	params.SetDecay(0)
	params.SetSparsity(0)
	params.SetOctaveMix(0)

	const amplitude = 0.5
	numBlocks := 60
	outSeq := make([]float64, 0, numBlocks*hostBlock)
	for b := 0; b < numBlocks; b++ {
		in := makeBlocks(2, hostBlock)
		for i := range in[0] {
			sampleIdx := b*hostBlock + i
			in[0][i] = amplitude * math.Sin(2*math.Pi*440*float64(sampleIdx)/testSampleRate)
		}
		copy(in[1], in[0])
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		outSeq = append(outSeq, out[0]...)
	}

	o, b, freq, avgMag := analyzeDominantBin(outSeq, testSampleRate, numBlocks/2)
	assert.Equal(t, 4, o, "dominant octave")
	assert.Equal(t, 0, b, "dominant bin")
	assert.InDelta(t, 440.0, freq, 1.0)

	ratio := avgMag / amplitude
	assert.Greater(t, ratio, 1/math.Sqrt2, "amplitude should be within 3dB of input (too quiet)")
	assert.Less(t, ratio, math.Sqrt2, "amplitude should be within 3dB of input (too loud)")
}

// An 880 Hz input with octaveShift=-1, octaveMix=1 resynthesizes with
// its dominant energy pulled down to 440 Hz.
func TestOctaveShiftMapsDominantFrequencyDownAnOctave(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetMix(1)
	params.SetAttack(0)
	params.SetDecay(0)
	params.SetSparsity(0)
	params.SetOctaveShift(-1)
	params.SetOctaveMix(1)

	const amplitude = 0.5
	numBlocks := 60
	outSeq := make([]float64, 0, numBlocks*hostBlock)
	for b := 0; b < numBlocks; b++ {
		in := makeBlocks(2, hostBlock)
		for i := range in[0] {
			sampleIdx := b*hostBlock + i
			in[0][i] = amplitude * math.Sin(2*math.Pi*880*float64(sampleIdx)/testSampleRate)
		}
		copy(in[1], in[0])
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
		outSeq = append(outSeq, out[0]...)
	}

	o, b, freq, _ := analyzeDominantBin(outSeq, testSampleRate, numBlocks/2)
	assert.Equal(t, 4, o, "dominant octave")
	assert.Equal(t, 0, b, "dominant bin")
	assert.InDelta(t, 440.0, freq, 1.0)
}

// White noise at sparsity=10 leaves no more than 12 bins active across
// the whole (octave, bin) grid.
func TestHighSparsityWithNoiseGatesToFewActiveBins(t *testing.T) {
	hostBlock := internalBlockSize
	e, params := newTestEngine(t, hostBlock)
	params.SetSparsity(10)
	params.SetAttack(0)
	params.SetDecay(0)

	rng := rand.New(rand.NewSource(1))
	numBlocks := 40
	for b := 0; b < numBlocks; b++ {
		in := makeBlocks(2, hostBlock)
		for i := range in[0] {
			in[0][i] = rng.Float64()*2 - 1
		}
		copy(in[1], in[0])
		out := makeBlocks(2, hostBlock)
		e.Process(in, out)
	}

	active := 0
	for _, row := range e.Meter(0).Envelope {
		for _, v := range row {
			if v > 1e-6 {
				active++
			}
		}
	}
	assert.LessOrEqual(t, active, 12)
}
