package engine

import (
	"math"
	"sync/atomic"
)

// Param is a lock-free single-writer, single-reader parameter cell. The
// control thread calls Store; the audio thread calls Load once per
// Process call. Both are wait-free and allocation-free.
type Param struct {
	bits atomic.Uint64
}

// NewParam constructs a Param initialised to v.
func NewParam(v float64) *Param {
	p := &Param{}
	p.Store(v)
	return p
}

// Store writes a new value, visible to the next Load on any thread.
func (p *Param) Store(v float64) { p.bits.Store(math.Float64bits(v)) }

// Load reads the most recently stored value.
func (p *Param) Load() float64 { return math.Float64frombits(p.bits.Load()) }

// Range describes a parameter's valid span and default as a
// (min, max, default) tuple.
type Range struct {
	Min, Max, Default float64
}

// Clamp restricts v to the range's [Min, Max] span.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Parameter ranges. Attack/Decay are unit envelope-time controls,
// OctaveShift is a signed (fractional) number of octaves,
// OctaveMix/Colour/Sparsity/Mix shape the resynthesis blend, Tuning is
// the concert pitch in Hz around 440, and Gain/Master are in decibels.
var (
	AttackRange      = Range{0, 1, 0.25}
	DecayRange       = Range{0, 1, 0.5}
	OctaveShiftRange = Range{-3, 3, 1}
	OctaveMixRange   = Range{0, 1, 0.3}
	ColourRange      = Range{-1, 1, 0}
	SparsityRange    = Range{0, 10, 1}
	TuningRange      = Range{415.305, 466.164, 440}
	GainRange        = Range{-20, 20, 0}
	MixRange         = Range{0, 1, 0.3}
	MasterRange      = Range{-20, 20, 0}
)

// Params bundles every user-facing control as an atomic cell. The audio
// thread reads a consistent snapshot once per Process call via Load;
// the control thread writes through the Set* methods, which
// clamp to the documented range before storing.
type Params struct {
	Attack      *Param
	Decay       *Param
	OctaveShift *Param
	OctaveMix   *Param
	Colour      *Param
	Sparsity    *Param
	Tuning      *Param
	Gain        *Param
	Mix         *Param
	Master      *Param
}

// NewParams constructs a Params bundle initialised to every control's
// documented default.
func NewParams() *Params {
	return &Params{
		Attack:      NewParam(AttackRange.Default),
		Decay:       NewParam(DecayRange.Default),
		OctaveShift: NewParam(OctaveShiftRange.Default),
		OctaveMix:   NewParam(OctaveMixRange.Default),
		Colour:      NewParam(ColourRange.Default),
		Sparsity:    NewParam(SparsityRange.Default),
		Tuning:      NewParam(TuningRange.Default),
		Gain:        NewParam(GainRange.Default),
		Mix:         NewParam(MixRange.Default),
		Master:      NewParam(MasterRange.Default),
	}
}

func (p *Params) SetAttack(v float64)      { p.Attack.Store(AttackRange.Clamp(v)) }
func (p *Params) SetDecay(v float64)       { p.Decay.Store(DecayRange.Clamp(v)) }
func (p *Params) SetOctaveShift(v float64) { p.OctaveShift.Store(OctaveShiftRange.Clamp(v)) }
func (p *Params) SetOctaveMix(v float64)   { p.OctaveMix.Store(OctaveMixRange.Clamp(v)) }
func (p *Params) SetColour(v float64)      { p.Colour.Store(ColourRange.Clamp(v)) }
func (p *Params) SetSparsity(v float64)    { p.Sparsity.Store(SparsityRange.Clamp(v)) }
func (p *Params) SetTuning(v float64)      { p.Tuning.Store(TuningRange.Clamp(v)) }
func (p *Params) SetGain(v float64)        { p.Gain.Store(GainRange.Clamp(v)) }
func (p *Params) SetMix(v float64)         { p.Mix.Store(MixRange.Clamp(v)) }
func (p *Params) SetMaster(v float64)      { p.Master.Store(MasterRange.Clamp(v)) }

// Snapshot is a torn-free-enough read of every parameter taken once at
// the top of each Process call; the engine works from this copy for every
// internal block that call runs rather than re-reading atomics per sample.
type Snapshot struct {
	Attack      float64
	Decay       float64
	OctaveShift float64
	OctaveMix   float64
	Colour      float64
	Sparsity    float64
	Tuning      float64
	Gain        float64
	Mix         float64
	Master      float64
}

// Load takes a fresh Snapshot of every parameter cell.
func (p *Params) Load() Snapshot {
	return Snapshot{
		Attack:      p.Attack.Load(),
		Decay:       p.Decay.Load(),
		OctaveShift: p.OctaveShift.Load(),
		OctaveMix:   p.OctaveMix.Load(),
		Colour:      p.Colour.Load(),
		Sparsity:    p.Sparsity.Load(),
		Tuning:      p.Tuning.Load(),
		Gain:        p.Gain.Load(),
		Mix:         p.Mix.Load(),
		Master:      p.Master.Load(),
	}
}

// dbToLinear converts a decibel value to a linear amplitude multiplier.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
