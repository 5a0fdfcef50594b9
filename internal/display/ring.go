// Package display holds the rolling per-channel sample history drawn by the
// render loop.
//
// A Ring is written by one capture goroutine and read by the render goroutine.
// Appended samples are stored as immutable chunks; every write publishes a new
// Window through an atomic pointer, so readers never lock and never observe a
// buffer mid-eviction.
package display

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity FIFO of samples. It is always full: unused history
// reads as zeros.
type Ring struct {
	mu       sync.Mutex
	capacity int
	chunks   [][]float32
	skip     int // samples of chunks[0] already evicted

	current atomic.Pointer[Window]
}

// NewRing returns a ring of the given capacity filled with zeros.
func NewRing(capacity int) *Ring {
	r := &Ring{}
	r.reset(max(capacity, 1))
	return r
}

// Append copies samples into the ring, evicting the oldest samples.
func (r *Ring) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(samples) >= r.capacity {
		chunk := make([]float32, r.capacity)
		copy(chunk, samples[len(samples)-r.capacity:])
		r.chunks = [][]float32{chunk}
		r.skip = 0
		r.publish()
		return
	}

	chunk := make([]float32, len(samples))
	copy(chunk, samples)
	r.chunks = append(r.chunks, chunk)
	r.evict(len(samples))
	r.publish()
}

// Resize changes the capacity. Shrinking drops the oldest samples; growing
// pads the oldest end with zeros. The newest samples are always kept.
func (r *Ring) Resize(capacity int) {
	capacity = max(capacity, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case capacity == r.capacity:
		return
	case capacity < r.capacity:
		drop := r.capacity - capacity
		r.capacity = capacity
		r.evict(drop)
	default:
		pad := make([]float32, capacity-r.capacity)
		chunks := make([][]float32, 0, len(r.chunks)+1)
		chunks = append(chunks, pad, r.chunks[0][r.skip:])
		chunks = append(chunks, r.chunks[1:]...)
		r.chunks = chunks
		r.skip = 0
		r.capacity = capacity
	}
	r.publish()
}

// Reset discards all history.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset(r.capacity)
}

// Capacity returns the number of samples the ring holds.
func (r *Ring) Capacity() int {
	return r.Snapshot().Len()
}

// Snapshot returns the current contents. It never blocks.
func (r *Ring) Snapshot() *Window {
	return r.current.Load()
}

func (r *Ring) reset(capacity int) {
	r.capacity = capacity
	r.chunks = [][]float32{make([]float32, capacity)}
	r.skip = 0
	r.publish()
}

// evict drops n samples from the oldest end. Chunk headers already published
// are never rewritten; the front is only resliced.
func (r *Ring) evict(n int) {
	for n > 0 {
		avail := len(r.chunks[0]) - r.skip
		if avail > n {
			r.skip += n
			return
		}
		n -= avail
		r.chunks = r.chunks[1:]
		r.skip = 0
	}
}

func (r *Ring) publish() {
	r.current.Store(&Window{
		chunks: r.chunks,
		skip:   r.skip,
		length: r.capacity,
	})
}
