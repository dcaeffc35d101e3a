// Package daemon implements the system sampler daemon: a single cooperative
// loop that captures whole-system resource samples into a bounded ring
// buffer, flushes them to rotating retention-bounded metric files, and
// exposes its run state over an HTTP status API.
package daemon

import "goperf/internal/model"

// Ring is a bounded buffer of system samples. When full, the oldest sample
// is evicted first. It is owned by the daemon's single loop and is not safe
// for concurrent use.
type Ring struct {
	buf   []model.SystemSample
	start int
	count int
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.SystemSample, capacity)}
}

// Push appends a sample, evicting the oldest when the ring is full.
func (r *Ring) Push(sample model.SystemSample) {
	if r.count == len(r.buf) {
		r.buf[r.start] = sample
		r.start = (r.start + 1) % len(r.buf)
		return
	}
	r.buf[(r.start+r.count)%len(r.buf)] = sample
	r.count++
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	return r.count
}

// Drain returns the buffered samples in insertion order and empties the ring.
func (r *Ring) Drain() []model.SystemSample {
	out := make([]model.SystemSample, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	r.start = 0
	r.count = 0
	return out
}
