package device

import "sync/atomic"

// ringSize is the number of int16 samples a ring can hold: about 4 seconds at
// 16kHz mono. Must be a power of two.
const ringSize = 1 << 16

// sampleRing is a lock-free single-producer single-consumer ring buffer of
// int16 samples. One side runs in the malgo audio callback and must never
// block or allocate.
type sampleRing struct {
	samples [ringSize]int16
	head    atomic.Uint64 // write position (producer)
	tail    atomic.Uint64 // read position (consumer)
}

// push appends as many samples as fit and returns how many were written.
func (r *sampleRing) push(samples []int16) int {
	head := r.head.Load()
	tail := r.tail.Load()

	free := ringSize - int(head-tail)
	n := len(samples)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.samples[(head+uint64(i))&(ringSize-1)] = samples[i]
	}
	r.head.Add(uint64(n))
	return n
}

// pop fills dst with up to len(dst) samples and returns the count read.
func (r *sampleRing) pop(dst []int16) int {
	head := r.head.Load()
	tail := r.tail.Load()

	n := int(head - tail)
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.samples[(tail+uint64(i))&(ringSize-1)]
	}
	r.tail.Add(uint64(n))
	return n
}

// len returns the number of buffered samples.
func (r *sampleRing) len() int {
	return int(r.head.Load() - r.tail.Load())
}

// clear drops all buffered samples. Only the consumer side may call clear
// concurrently with push.
func (r *sampleRing) clear() {
	r.tail.Store(r.head.Load())
}
