package audio

import "sync/atomic"

// Buffer is a fixed-capacity store of 16-bit PCM samples. Storage is allocated once
// in NewBuffer; Push copies into it and never grows it.
//
// Overflow policy is reject-newest: when a push does not fit, the samples that fit
// are admitted and the rest of that push is dropped and counted. Callers that must
// not lose audio drain the buffer between pushes.
//
// One producer may Push while one consumer reads. Push publishes the new length with
// a compare-and-swap, so it never blocks and finishes in time bounded by the copy.
// A view returned by Samples stays valid until the next Drain or Reset.
type Buffer struct {
	sampleRate int
	storage    []int16
	length     atomic.Int64

	pushed  atomic.Uint64
	dropped atomic.Uint64
	drained atomic.Uint64
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SampleRate      int     `json:"sample_rate"`
	Capacity        int     `json:"capacity_samples"`
	Buffered        int     `json:"buffered_samples"`
	PushedSamples   uint64  `json:"pushed_samples"`
	DroppedSamples  uint64  `json:"dropped_samples"`
	DrainedSamples  uint64  `json:"drained_samples"`
	FillRatePercent float64 `json:"fill_rate_percent"`
}

// NewBuffer creates a buffer holding durationMs of audio at sampleRate.
// Capacity is sampleRate*durationMs/1000 samples, truncated.
func NewBuffer(sampleRate, durationMs int) *Buffer {
	capacity := 0
	if sampleRate > 0 && durationMs > 0 {
		capacity = int(int64(sampleRate) * int64(durationMs) / 1000)
	}
	return &Buffer{
		sampleRate: sampleRate,
		storage:    make([]int16, capacity),
	}
}

// Push admits as many samples as fit in the remaining capacity and returns how many
// were admitted. It does not allocate and does not block.
func (b *Buffer) Push(samples []int16) int {
	for {
		cur := b.length.Load()
		free := int64(len(b.storage)) - cur
		n := int64(len(samples))
		if n > free {
			n = free
		}
		if n <= 0 {
			b.dropped.Add(uint64(len(samples)))
			return 0
		}
		copy(b.storage[cur:cur+n], samples[:n])
		if b.length.CompareAndSwap(cur, cur+n) {
			b.pushed.Add(uint64(n))
			if dropped := len(samples) - int(n); dropped > 0 {
				b.dropped.Add(uint64(dropped))
			}
			return int(n)
		}
		// the consumer reset the buffer between load and publish; retry at the new cursor
	}
}

// Samples returns a read-only view of the stored samples
func (b *Buffer) Samples() []int16 {
	return b.storage[:b.length.Load()]
}

// Drain appends the stored samples to dst, empties the buffer and returns dst
func (b *Buffer) Drain(dst []int16) []int16 {
	for {
		n := b.length.Load()
		out := append(dst, b.storage[:n]...)
		if b.length.CompareAndSwap(n, 0) {
			b.drained.Add(uint64(n))
			return out
		}
	}
}

// Reset discards the stored samples
func (b *Buffer) Reset() {
	b.length.Store(0)
}

// Len returns the number of stored samples
func (b *Buffer) Len() int {
	return int(b.length.Load())
}

// Capacity returns the maximum number of samples the buffer holds
func (b *Buffer) Capacity() int {
	return len(b.storage)
}

// Remaining returns how many more samples fit
func (b *Buffer) Remaining() int {
	return len(b.storage) - b.Len()
}

// Full reports whether no more samples can be admitted
func (b *Buffer) Full() bool {
	return b.Remaining() == 0
}

// SampleRate returns the sample rate the buffer was sized for
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() BufferStats {
	stats := BufferStats{
		SampleRate:     b.sampleRate,
		Capacity:       len(b.storage),
		Buffered:       b.Len(),
		PushedSamples:  b.pushed.Load(),
		DroppedSamples: b.dropped.Load(),
		DrainedSamples: b.drained.Load(),
	}
	if stats.Capacity > 0 {
		stats.FillRatePercent = float64(stats.Buffered) / float64(stats.Capacity) * 100
	}
	return stats
}
