package audio

import "sync"

// RingBuffer keeps the most recent capacity samples of PCM audio for
// pre-roll. Appends evict the oldest samples at sample granularity.
// Safe for one producer and concurrent readers.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []float32
	start int // index of oldest sample
	size  int
}

// NewRingBuffer allocates a ring holding capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// NewRingBufferSeconds sizes the ring for a duration at a sample rate.
func NewRingBufferSeconds(seconds float64, sampleRate int) *RingBuffer {
	return NewRingBuffer(int(seconds * float64(sampleRate)))
}

// Append adds samples, dropping the oldest on overflow.
func (r *RingBuffer) Append(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	if len(samples) >= capacity {
		// The new data alone fills the ring; keep only its tail.
		copy(r.buf, samples[len(samples)-capacity:])
		r.start = 0
		r.size = capacity
		return
	}

	for _, s := range samples {
		idx := (r.start + r.size) % capacity
		r.buf[idx] = s
		if r.size < capacity {
			r.size++
		} else {
			r.start = (r.start + 1) % capacity
		}
	}
}

// Snapshot returns a copy of the buffered samples, oldest first.
func (r *RingBuffer) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.size)
	capacity := len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%capacity]
	}
	return out
}

// Len reports the number of buffered samples.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap reports the ring capacity in samples.
func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

// Clear discards all buffered samples.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.size = 0
}
