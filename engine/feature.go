package engine

import "math"

// Threshold factors controlling the per-bin sparsity gate. K1/K2/K3 are
// applied to per-octave and global statistics of the instantaneous CQT
// magnitude; the same three factors are applied a second time to the same
// statistics of the envelope-follower values, and a bin only regenerates
// once its magnitude clears both the instantaneous and the "currently
// sustained" thresholds. The envelope-side thresholds are what keep
// a decaying bin from flickering in and out of the gate near the
// threshold crossing.
const (
	maxToneThresholdFactor    = 0.05 // K1: per-octave peak magnitude factor
	globalMaxThresholdFactor  = 0.05 // K2: whole-transform peak magnitude factor
	octaveMeanThresholdFactor = 2.0  // K3: per-octave mean magnitude factor

	// octaveMeanThresholdFactorLegacy is the smaller octave-mean factor an
	// earlier revision of this gate shipped. It gates almost nothing at the
	// default sparsity of 1.0 and is kept only as a named constant for a
	// possible future "legacy sparsity" mode; nothing currently reads it.
	octaveMeanThresholdFactorLegacy = 0.75
)

// featureStage computes the six-way sparsity gate across one channel's
// full (octave, bin) grid. All scratch slices are preallocated once in
// newFeatureStage, so Gate never allocates.
type featureStage struct {
	octaves, bins int

	octaveMax     []float64
	octaveMean    []float64
	octaveMaxEnv  []float64
	octaveMeanEnv []float64
}

func newFeatureStage(octaves, bins int) *featureStage {
	return &featureStage{
		octaves:       octaves,
		bins:          bins,
		octaveMax:     make([]float64, octaves),
		octaveMean:    make([]float64, octaves),
		octaveMaxEnv:  make([]float64, octaves),
		octaveMeanEnv: make([]float64, octaves),
	}
}

// Gate fills pass[o][b] with whether bin (o,b) clears the sparsity gate
// this block, given instantaneous magnitudes mag[o][b] and the matching
// envelope-follower values env[o][b] (the value carried over from the
// previous block, read before this block's envelope update). sparsity
// scales every threshold factor; sparsity=0 disables gating (everything
// passes), sparsity=1 uses the factors above unscaled.
func (f *featureStage) Gate(mag, env [][]float64, sparsity float64, pass [][]bool) {
	for o := 0; o < f.octaves; o++ {
		f.octaveMax[o] = 0
		f.octaveMean[o] = 0
		f.octaveMaxEnv[o] = 0
		f.octaveMeanEnv[o] = 0
		for b := 0; b < f.bins; b++ {
			m := mag[o][b]
			e := env[o][b]
			if m > f.octaveMax[o] {
				f.octaveMax[o] = m
			}
			if e > f.octaveMaxEnv[o] {
				f.octaveMaxEnv[o] = e
			}
			f.octaveMean[o] += m
			f.octaveMeanEnv[o] += e
		}
		f.octaveMean[o] /= float64(f.bins)
		f.octaveMeanEnv[o] /= float64(f.bins)
	}

	var globalMax, globalMaxEnv float64
	for o := 0; o < f.octaves; o++ {
		if f.octaveMax[o] > globalMax {
			globalMax = f.octaveMax[o]
		}
		if f.octaveMaxEnv[o] > globalMaxEnv {
			globalMaxEnv = f.octaveMaxEnv[o]
		}
	}

	if sparsity <= 0 {
		for o := 0; o < f.octaves; o++ {
			for b := 0; b < f.bins; b++ {
				pass[o][b] = true
			}
		}
		return
	}

	k1 := maxToneThresholdFactor * sparsity
	k2 := globalMaxThresholdFactor * sparsity
	k3 := octaveMeanThresholdFactor * sparsity

	for o := 0; o < f.octaves; o++ {
		t1 := f.octaveMax[o] * k1
		t2 := globalMax * k2
		t3 := f.octaveMean[o] * k3
		t1c := f.octaveMaxEnv[o] * k1
		t2c := globalMaxEnv * k2
		t3c := f.octaveMeanEnv[o] * k3
		for b := 0; b < f.bins; b++ {
			m := mag[o][b]
			instant := m > t1 && m > t2 && m > t3
			sustained := m > t1c && m > t2c && m > t3c
			pass[o][b] = instant && sustained
		}
	}
}

// OctaveMean returns this block's per-octave mean magnitude, valid until
// the next call to Gate.
func (f *featureStage) OctaveMean() []float64 { return f.octaveMean }

// OctaveMeanEnv returns this block's per-octave mean envelope value,
// valid until the next call to Gate. The colour stage's base-octave
// tracker uses it to find which octave's currently-sustained energy (not
// just this instant's magnitude) is largest, per the base-octave
// definition as an argmax over envelope values.
func (f *featureStage) OctaveMeanEnv() []float64 { return f.octaveMeanEnv }

// magnitude is a small helper shared by the engine's per-block analysis
// pass: the CQT exposes complex analysis samples, and the feature stage
// only ever needs their modulus.
func magnitude(re, im float64) float64 {
	return math.Hypot(re, im)
}
