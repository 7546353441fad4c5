package frame

import "sync"

// DefaultRingCapacity is the chart window in samples.
const DefaultRingCapacity = 150

// ChannelSample is one analyzed frame's channel means.
type ChannelSample struct {
	TimestampMillis int64   `json:"timestamp_ms"`
	Red             float64 `json:"red"`
	Green           float64 `json:"green"`
	Blue            float64 `json:"blue"`
}

// Ring is a fixed-capacity sample buffer that evicts the oldest entry.
// It is safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []ChannelSample
	start int
	n     int
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]ChannelSample, capacity)}
}

// Push appends s, evicting the oldest sample when full.
func (r *Ring) Push(s ChannelSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the samples oldest first.
func (r *Ring) Snapshot() []ChannelSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ChannelSample, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest sample.
func (r *Ring) Latest() (ChannelSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == 0 {
		return ChannelSample{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Len returns the number of stored samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Reset drops every sample.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.n = 0
}
