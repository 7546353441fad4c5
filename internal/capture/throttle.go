// Package capture delivers sensor frames into the analysis pipeline: frame
// sources, the index-based throttle, and the single-worker executor with
// latest-only backpressure.
package capture

// DefaultEvery keeps every second frame, halving the analyzed rate.
const DefaultEvery = 2

// Throttle decides by sequence number which frames are analyzed.
type Throttle struct {
	Every uint64
}

// NewThrottle returns a Throttle keeping one frame in every n.
func NewThrottle(n int) Throttle {
	if n <= 0 {
		n = DefaultEvery
	}
	return Throttle{Every: uint64(n)}
}

// ShouldProcess reports whether the frame with sequence number seq is kept.
func (t Throttle) ShouldProcess(seq uint64) bool {
	if t.Every <= 1 {
		return true
	}
	return seq%t.Every == 0
}
