package audio

import (
	"sync"
	"testing"
)

func TestNewBufferCapacity(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		durationMs int
		capacity   int
	}{
		{name: "one second", sampleRate: 16000, durationMs: 1000, capacity: 16000},
		{name: "ten milliseconds", sampleRate: 16000, durationMs: 10, capacity: 160},
		{name: "truncated", sampleRate: 8000, durationMs: 1, capacity: 8},
		{name: "fraction truncates to zero", sampleRate: 999, durationMs: 1, capacity: 0},
		{name: "zero duration", sampleRate: 16000, durationMs: 0, capacity: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.sampleRate, tt.durationMs)
			if b.Capacity() != tt.capacity {
				t.Errorf("Expected capacity %d, got %d", tt.capacity, b.Capacity())
			}
			if b.Len() != 0 {
				t.Errorf("New buffer should be empty, has %d samples", b.Len())
			}
		})
	}
}

func TestBufferPush(t *testing.T) {
	b := NewBuffer(16000, 1000)

	if n := b.Push([]int16{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected 5 samples admitted, got %d", n)
	}
	samples := b.Samples()
	if len(samples) != 5 {
		t.Fatalf("Expected 5 samples, got %d", len(samples))
	}
	for i, want := range []int16{1, 2, 3, 4, 5} {
		if samples[i] != want {
			t.Errorf("sample %d = %d, want %d", i, samples[i], want)
		}
	}
}

func TestBufferOverflowRejectsNewest(t *testing.T) {
	b := NewBuffer(16000, 10)

	input := make([]int16, 200)
	for i := range input {
		input[i] = int16(i)
	}

	if n := b.Push(input); n != 160 {
		t.Errorf("Expected 160 samples admitted, got %d", n)
	}
	samples := b.Samples()
	if len(samples) != 160 {
		t.Fatalf("Expected exactly 160 samples, got %d", len(samples))
	}
	if samples[0] != 0 || samples[159] != 159 {
		t.Errorf("Expected the oldest samples to survive, got first=%d last=%d", samples[0], samples[159])
	}

	if n := b.Push([]int16{1, 2, 3}); n != 0 {
		t.Errorf("Full buffer should admit nothing, admitted %d", n)
	}

	stats := b.Stats()
	if stats.DroppedSamples != 43 {
		t.Errorf("Expected 43 dropped samples, got %d", stats.DroppedSamples)
	}
	if stats.PushedSamples != 160 {
		t.Errorf("Expected 160 pushed samples, got %d", stats.PushedSamples)
	}
	if !b.Full() || stats.FillRatePercent != 100 {
		t.Errorf("Buffer should report full, fill rate %f", stats.FillRatePercent)
	}
}

func TestBufferDrainAndReset(t *testing.T) {
	b := NewBuffer(16000, 10)
	b.Push(make([]int16, 100))

	out := b.Drain(nil)
	if len(out) != 100 {
		t.Errorf("Expected 100 drained samples, got %d", len(out))
	}
	if b.Len() != 0 || b.Remaining() != 160 {
		t.Errorf("Drain should empty the buffer, len=%d remaining=%d", b.Len(), b.Remaining())
	}

	if n := b.Push(make([]int16, 160)); n != 160 {
		t.Errorf("Drained buffer should accept full capacity, admitted %d", n)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Reset should empty the buffer, has %d", b.Len())
	}
}

func TestBufferPushDoesNotAllocate(t *testing.T) {
	b := NewBuffer(16000, 1000)
	frame := make([]int16, 160)

	allocs := testing.AllocsPerRun(50, func() {
		b.Push(frame)
		if b.Full() {
			b.Reset()
		}
	})
	if allocs != 0 {
		t.Errorf("Push allocated %.1f times per call", allocs)
	}
}

func TestBufferConcurrentProducerConsumer(t *testing.T) {
	b := NewBuffer(16000, 100)
	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = 7
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Push(frame)
		}
	}()

	var drained []int16
	for i := 0; i < 1000; i++ {
		drained = b.Drain(drained[:0])
		for _, s := range drained {
			if s != 7 {
				t.Fatalf("Drained corrupted sample %d", s)
			}
		}
	}
	wg.Wait()

	stats := b.Stats()
	if stats.PushedSamples+stats.DroppedSamples != 160*1000 {
		t.Errorf("Pushed %d + dropped %d should account for every sample", stats.PushedSamples, stats.DroppedSamples)
	}
}
