package audio

import (
	"errors"
	"fmt"
)

// ErrLatePacket is returned for packets older than the last emitted sequence
var ErrLatePacket = errors.New("late or duplicate packet")

// Reorderer restores packet order for sequenced capture frames. In-order frames are
// emitted immediately; early frames wait until the gap is filled or grows beyond
// maxGap, at which point the missing sequences are counted as lost.
type Reorderer struct {
	maxGap   uint32
	started  bool
	expected uint32
	pending  map[uint32][]int16

	totalPackets uint64
	lostPackets  uint64
	latePackets  uint64
}

// SequenceStats represents reordering statistics for monitoring
type SequenceStats struct {
	TotalPackets uint64  `json:"total_packets"`
	LostPackets  uint64  `json:"lost_packets"`
	LatePackets  uint64  `json:"late_packets"`
	PendingSeqs  int     `json:"pending_sequences"`
	NextSequence uint32  `json:"next_sequence"`
	LossRate     float64 `json:"loss_rate"`
}

// NewReorderer creates a reorderer that waits for at most maxGap missing frames
func NewReorderer(maxGap uint32) *Reorderer {
	return &Reorderer{
		maxGap:  maxGap,
		pending: make(map[uint32][]int16),
	}
}

// Add accepts a frame and calls emit for every frame that is now in order.
// The samples slice is copied if it has to wait.
func (r *Reorderer) Add(seq uint32, samples []int16, emit func([]int16)) error {
	r.totalPackets++
	if !r.started {
		r.started = true
		r.expected = seq
	}

	switch {
	case seq == r.expected:
		emit(samples)
		r.expected++
		r.flush(emit)

	case seq > r.expected:
		frame := make([]int16, len(samples))
		copy(frame, samples)
		r.pending[seq] = frame

		if seq-r.expected > r.maxGap {
			r.skipToPending()
			r.flush(emit)
		}

	default:
		r.latePackets++
		return fmt.Errorf("%w: seq=%d, expected=%d", ErrLatePacket, seq, r.expected)
	}
	return nil
}

// Flush emits every waiting frame in order, counting the holes as lost.
// It is used when a stream ends.
func (r *Reorderer) Flush(emit func([]int16)) {
	for len(r.pending) > 0 {
		r.skipToPending()
		r.flush(emit)
	}
}

// skipToPending advances the expected sequence to the oldest waiting frame
func (r *Reorderer) skipToPending() {
	first, found := uint32(0), false
	for seq := range r.pending {
		if !found || seq < first {
			first, found = seq, true
		}
	}
	if found && first > r.expected {
		r.lostPackets += uint64(first - r.expected)
		r.expected = first
	}
}

func (r *Reorderer) flush(emit func([]int16)) {
	for {
		frame, ok := r.pending[r.expected]
		if !ok {
			return
		}
		delete(r.pending, r.expected)
		emit(frame)
		r.expected++
	}
}

// Stats returns reordering statistics
func (r *Reorderer) Stats() SequenceStats {
	stats := SequenceStats{
		TotalPackets: r.totalPackets,
		LostPackets:  r.lostPackets,
		LatePackets:  r.latePackets,
		PendingSeqs:  len(r.pending),
		NextSequence: r.expected,
	}
	if total := r.totalPackets + r.lostPackets; total > 0 {
		stats.LossRate = float64(r.lostPackets) / float64(total) * 100
	}
	return stats
}
