package engine

import (
	"fmt"
	"sync/atomic"
)

// ConfigError reports a rejected Prepare call: an out-of-range sample
// rate, channel count, or host block size. These are always surfaced as
// a normal Go error at the Prepare boundary — never inside Process.
type ConfigError struct {
	Field string
	Value int
	Want  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("engine: invalid %s %d, want %s", e.Field, e.Value, e.Want)
}

// violationCounters tracks real-time contract violations: situations the
// engine detects mid-block that would otherwise require an error return
// it cannot give (Process has no way to propagate a failure to the host
// mid-callback). In a debug build these would assert; here they are
// counted and the block degrades to silence instead of misbehaving.
type violationCounters struct {
	underrun    atomic.Uint64
	binMismatch atomic.Uint64
	nanClamped  atomic.Uint64
}

func (v *violationCounters) recordUnderrun()    { v.underrun.Add(1) }
func (v *violationCounters) recordBinMismatch() { v.binMismatch.Add(1) }
func (v *violationCounters) recordNaNClamp()    { v.nanClamped.Add(1) }

// Underruns returns how many times the block adapter was asked for more
// host output than had been produced.
func (v *violationCounters) Underruns() uint64 { return v.underrun.Load() }

// BinMismatches returns how many internal blocks were dropped to silence
// because a bin buffer did not hold the per-octave sample count the CQT
// reported for that block.
func (v *violationCounters) BinMismatches() uint64 { return v.binMismatch.Load() }

// NaNClamps returns how many times a non-finite sample was clamped to
// zero at a signal boundary.
func (v *violationCounters) NaNClamps() uint64 { return v.nanClamped.Load() }
