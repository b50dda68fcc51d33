package engine

import "github.com/intuitionamiga/harmonictail/internal/ring"

// internalBlockSize is the engine's fixed internal processing
// granularity. The CQT and everything downstream of it only ever see
// blocks of exactly this many samples, regardless of what block size the
// host calls Process with.
const internalBlockSize = 256

// blockAdapter decouples the host's call-to-call block size from the
// engine's fixed internal block size using a pair of ring buffers: one
// accumulates host input until a full internal block is available, the
// other holds internal output until the host has drained enough of it.
// This introduces a fixed latency of internalBlockSize samples.
type blockAdapter struct {
	in       *ring.Float
	out      *ring.Float
	inCount  int // samples buffered in `in` since the last internal block was pulled
	outCount int // samples buffered in `out` not yet delivered to the host
}

// newBlockAdapter sizes both rings to maxHostBlock+internalBlockSize:
// large enough to hold the largest host block the caller promised plus
// one full internal block of slack. The output ring starts primed with
// internalBlockSize zeros, so the adapter's latency is exactly
// internalBlockSize samples for every host block size rather than
// collapsing to zero whenever the host block happens to line up with the
// internal one.
func newBlockAdapter(maxHostBlock int) *blockAdapter {
	capacity := maxHostBlock + internalBlockSize
	return &blockAdapter{
		in:       ring.NewFloat(capacity),
		out:      ring.NewFloat(capacity),
		outCount: internalBlockSize,
	}
}

func (a *blockAdapter) reset() {
	a.in.Reset()
	a.out.Reset()
	a.inCount = 0
	a.outCount = internalBlockSize
}

// PushInput appends a host-supplied block to the input ring.
func (a *blockAdapter) PushInput(host []float64) {
	a.in.PushBlock(host)
	a.inCount += len(host)
}

// ReadyForInternalBlock reports whether a full internal block is
// available to process.
func (a *blockAdapter) ReadyForInternalBlock() bool {
	return a.inCount >= internalBlockSize
}

// PullInternalBlock copies the next internalBlockSize samples (oldest
// first) into dst and advances the consumed count.
func (a *blockAdapter) PullInternalBlock(dst []float64) {
	a.in.PullDelayBlock(dst, a.inCount-internalBlockSize, internalBlockSize)
	a.inCount -= internalBlockSize
}

// PushInternalBlock appends a freshly processed internal block to the
// output ring.
func (a *blockAdapter) PushInternalBlock(src []float64) {
	a.out.PushBlock(src)
	a.outCount += len(src)
}

// ReadyForHost reports whether enough processed output is buffered to
// satisfy a host block of the given size.
func (a *blockAdapter) ReadyForHost(hostBlockSize int) bool {
	return a.outCount >= hostBlockSize
}

// PullHostBlock copies the next hostBlockSize samples of processed output
// into dst and advances the consumed count.
func (a *blockAdapter) PullHostBlock(dst []float64) {
	a.out.PullDelayBlock(dst, a.outCount-len(dst), len(dst))
	a.outCount -= len(dst)
}
