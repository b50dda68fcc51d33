// Command harmonictail is a test-fixture harness for the engine package:
// it feeds a WAV file or a generated tone through the reverb core at an
// arbitrary host block size, and either renders the result to a WAV file
// or plays it back live. It is scaffolding for exercising the core, not
// a plugin shell.
package main

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
	"github.com/spf13/pflag"

	"github.com/intuitionamiga/harmonictail/engine"
	"github.com/intuitionamiga/harmonictail/internal/wav"
)

func main() {
	var (
		inputPath  = pflag.StringP("input", "i", "", "input WAV file (default: generated tone)")
		outputPath = pflag.StringP("output", "o", "", "output WAV file (default: play live)")
		toneHz     = pflag.Float64("tone-hz", 440, "frequency of the generated test tone, if no --input is given")
		toneSecs   = pflag.Float64("tone-seconds", 3, "duration of the generated test tone")
		sampleRate = pflag.IntP("sample-rate", "r", 48000, "sample rate used when generating a test tone")
		hostBlock  = pflag.Int("block-size", 512, "host block size passed to the engine per call")
		attack     = pflag.Float64("attack", engine.AttackRange.Default, "attack control (0..1)")
		decay      = pflag.Float64("decay", engine.DecayRange.Default, "decay control (0..1)")
		shift      = pflag.Float64("octave-shift", engine.OctaveShiftRange.Default, "octave shift (-3..3)")
		octaveMix  = pflag.Float64("octave-mix", engine.OctaveMixRange.Default, "octave mix (0..1)")
		colour     = pflag.Float64("colour", engine.ColourRange.Default, "colour tilt (-1..1)")
		sparsity   = pflag.Float64("sparsity", engine.SparsityRange.Default, "sparsity gate stringency (0..10)")
		tuning     = pflag.Float64("tuning", engine.TuningRange.Default, "concert pitch in Hz")
		gain       = pflag.Float64("gain", engine.GainRange.Default, "input gain in dB")
		mix        = pflag.Float64("mix", engine.MixRange.Default, "wet/dry mix (0..1)")
		master     = pflag.Float64("master", engine.MasterRange.Default, "master gain in dB")
		paramsFile = pflag.String("params", "", "load a saved parameter snapshot (YAML) before processing")
	)
	pflag.Parse()

	logger := log.New(os.Stderr)

	var channels [][]float64
	var sr int
	if *inputPath != "" {
		f, err := wav.Read(*inputPath)
		if err != nil {
			logger.Fatal("read input", "err", err)
		}
		channels = f.Channels
		sr = f.SampleRate
	} else {
		channels, sr = generateTone(*toneHz, *toneSecs, *sampleRate)
	}

	params := engine.NewParams()
	if *paramsFile != "" {
		if err := params.LoadFile(*paramsFile); err != nil {
			logger.Fatal("load params", "err", err)
		}
	} else {
		params.SetAttack(*attack)
		params.SetDecay(*decay)
		params.SetOctaveShift(*shift)
		params.SetOctaveMix(*octaveMix)
		params.SetColour(*colour)
		params.SetSparsity(*sparsity)
		params.SetTuning(*tuning)
		params.SetGain(*gain)
		params.SetMix(*mix)
		params.SetMaster(*master)
	}

	eng := engine.New(params)
	if err := eng.Prepare(float64(sr), len(channels), *hostBlock); err != nil {
		logger.Fatal("prepare", "err", err)
	}
	defer eng.Release()

	out := processAll(eng, channels, *hostBlock)
	if underruns, binMismatches, nanClamps := eng.ContractViolations(); underruns > 0 || binMismatches > 0 || nanClamps > 0 {
		logger.Warn("contract violations observed", "underruns", underruns, "binMismatches", binMismatches, "nanClamps", nanClamps)
	}

	if *outputPath != "" {
		if err := wav.Write(*outputPath, sr, out); err != nil {
			logger.Fatal("write output", "err", err)
		}
		logger.Info("wrote output", "path", *outputPath)
		return
	}

	if err := playLive(out, sr); err != nil {
		logger.Fatal("playback", "err", err)
	}
}

func generateTone(hz, seconds float64, sampleRate int) ([][]float64, int) {
	n := int(seconds * float64(sampleRate))
	ch := make([]float64, n)
	for i := range ch {
		ch[i] = 0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate))
	}
	return [][]float64{ch, ch}, sampleRate
}

// processAll runs the full input through the engine in fixed-size host
// blocks, zero-padding the final partial block.
func processAll(eng *engine.Engine, channels [][]float64, hostBlock int) [][]float64 {
	numChannels := len(channels)
	frameCount := 0
	if numChannels > 0 {
		frameCount = len(channels[0])
	}

	out := make([][]float64, numChannels)
	for c := range out {
		out[c] = make([]float64, frameCount)
	}

	inBuf := make([][]float64, numChannels)
	outBuf := make([][]float64, numChannels)
	for c := range inBuf {
		inBuf[c] = make([]float64, hostBlock)
		outBuf[c] = make([]float64, hostBlock)
	}

	for start := 0; start < frameCount; start += hostBlock {
		end := start + hostBlock
		if end > frameCount {
			end = frameCount
		}
		n := end - start
		for c := 0; c < numChannels; c++ {
			copy(inBuf[c][:n], channels[c][start:end])
			for i := n; i < hostBlock; i++ {
				inBuf[c][i] = 0
			}
		}

		eng.Process(inBuf, outBuf)

		for c := 0; c < numChannels; c++ {
			copy(out[c][start:end], outBuf[c][:n])
		}
	}
	return out
}

// livePlayer adapts a pre-rendered, interleaved sample stream to oto's
// pull-based Reader interface. The read position is published atomically
// so the playback callback never shares mutable state with setup.
type livePlayer struct {
	samples []float32
	pos     atomic.Uint64
}

func (p *livePlayer) Read(buf []byte) (int, error) {
	start := p.pos.Load()
	n := len(buf) / 4
	for i := 0; i < n; i++ {
		idx := start + uint64(i)
		var sample float32
		if idx < uint64(len(p.samples)) {
			sample = p.samples[idx]
		}
		bits := math.Float32bits(sample)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	p.pos.Store(start + uint64(n))
	return len(buf), nil
}

func playLive(channels [][]float64, sampleRate int) error {
	numChannels := len(channels)
	frameCount := 0
	if numChannels > 0 {
		frameCount = len(channels[0])
	}

	interleaved := make([]float32, frameCount*numChannels)
	for i := 0; i < frameCount; i++ {
		for c := 0; c < numChannels; c++ {
			interleaved[i*numChannels+c] = float32(channels[c][i])
		}
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4,
	})
	if err != nil {
		return fmt.Errorf("oto context: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(&livePlayer{samples: interleaved})
	var wg sync.WaitGroup
	wg.Add(1)
	player.Play()

	go func() {
		defer wg.Done()
		for player.IsPlaying() {
			time.Sleep(20 * time.Millisecond)
		}
	}()
	wg.Wait()
	return player.Close()
}
