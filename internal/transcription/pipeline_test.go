package transcription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// stubRecognizer returns a fixed result and tracks concurrency
type stubRecognizer struct {
	text     string
	segments []whisper.Segment
	err      error
	delay    time.Duration
	active   atomic.Int32
	peak     atomic.Int32
	samples  atomic.Int64
}

func (s *stubRecognizer) Transcribe(samples []int16) (whisper.Result, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	s.samples.Add(int64(len(samples)))
	time.Sleep(s.delay)

	if s.err != nil {
		return whisper.Result{State: whisper.DecodeAborted}, s.err
	}
	return whisper.Result{
		Text:           s.text,
		Confidence:     0.75,
		Tokens:         []int{1, 2, 3},
		State:          whisper.DecodeComplete,
		ProcessingTime: s.delay,
		Language:       "en",
		Segments:       s.segments,
	}, nil
}

type recordingSink struct {
	mu          sync.Mutex
	transcripts []*Transcript
	err         error
}

func (r *recordingSink) Deliver(ctx context.Context, t *Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, t)
	return r.err
}

func TestNewPipelineRequiresModel(t *testing.T) {
	if _, err := NewPipeline(nil, Config{}, nil, nil, nil); err == nil {
		t.Error("Expected error for nil model")
	}
}

func TestPipelineTranscribe(t *testing.T) {
	model := &stubRecognizer{text: "turn left"}
	sink := &recordingSink{}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	p, err := NewPipeline(model, Config{MaxConcurrent: 2}, nil, m, sink)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	transcript, err := p.Transcribe(context.Background(), Request{
		StreamID: 42,
		Source:   "mic",
		Samples:  make([]int16, 8000),
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if transcript.Text != "turn left" || transcript.StreamID != 42 || transcript.Source != "mic" {
		t.Errorf("Unexpected transcript %+v", transcript)
	}
	if transcript.ID == "" {
		t.Error("Expected transcript ID")
	}
	if transcript.AudioDuration != 500*time.Millisecond {
		t.Errorf("Expected 500ms of audio, got %v", transcript.AudioDuration)
	}
	if transcript.State != whisper.DecodeComplete {
		t.Errorf("Expected complete state, got %v", transcript.State)
	}
	if len(sink.transcripts) != 1 || sink.transcripts[0] != transcript {
		t.Errorf("Expected transcript delivered to sink, got %d", len(sink.transcripts))
	}

	stats := p.Stats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.SuccessRate != 100 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if got := testutil.ToFloat64(m.TranscriptionSuccesses); got != 1 {
		t.Errorf("Expected 1 success metric, got %v", got)
	}
}

func TestPipelineFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"too short", whisper.ErrAudioTooShort, "audio_too_short"},
		{"inference", fmt.Errorf("%w: non-finite logits", whisper.ErrInference), "inference"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMetrics(prometheus.NewRegistry())
			sink := &recordingSink{}
			p, err := NewPipeline(&stubRecognizer{err: tt.err}, Config{MaxConcurrent: 1}, nil, m, sink)
			if err != nil {
				t.Fatalf("NewPipeline failed: %v", err)
			}

			_, err = p.Transcribe(context.Background(), Request{StreamID: 1, Samples: make([]int16, 10)})
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
			if len(sink.transcripts) != 0 {
				t.Error("Failed transcriptions must not reach the sink")
			}
			if p.Stats().FailedRequests != 1 {
				t.Errorf("Expected one failure, got %+v", p.Stats())
			}
			if got := testutil.ToFloat64(m.TranscriptionFailures.WithLabelValues(tt.reason)); got != 1 {
				t.Errorf("Expected failure reason %s recorded, got %v", tt.reason, got)
			}
		})
	}
}

func TestPipelineSinkFailureKeepsTranscript(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	p, err := NewPipeline(&stubRecognizer{text: "ok"}, Config{}, nil, nil, sink)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	transcript, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 400)})
	if err != nil || transcript == nil {
		t.Fatalf("Sink errors should not fail the transcription: %v", err)
	}
	if p.Stats().SinkFailures != 1 {
		t.Errorf("Expected sink failure counted, got %+v", p.Stats())
	}
}

func TestPipelineBoundsConcurrency(t *testing.T) {
	model := &stubRecognizer{text: "x", delay: 20 * time.Millisecond}
	p, err := NewPipeline(model, Config{MaxConcurrent: 2}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 400)}); err != nil {
				t.Errorf("Transcribe failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := model.peak.Load(); peak > 2 {
		t.Errorf("Expected at most 2 concurrent inferences, saw %d", peak)
	}
	if p.Stats().SuccessRequests != 8 {
		t.Errorf("Expected 8 successes, got %+v", p.Stats())
	}
}

func TestPipelineContextWhileWaiting(t *testing.T) {
	model := &stubRecognizer{text: "x", delay: 100 * time.Millisecond}
	p, err := NewPipeline(model, Config{MaxConcurrent: 1}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	started := make(chan struct{})
	go func() {
		close(started)
		p.Transcribe(context.Background(), Request{Samples: make([]int16, 400)})
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, Request{Samples: make([]int16, 400)}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while waiting for a slot, got %v", err)
	}
}

func TestTranscribeBufferDrains(t *testing.T) {
	model := &stubRecognizer{text: "drained"}
	p, err := NewPipeline(model, Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	buf := audio.NewBuffer(16000, 1000)
	buf.Push(make([]int16, 3200))

	transcript, err := p.TranscribeBuffer(context.Background(), 5, buf)
	if err != nil {
		t.Fatalf("TranscribeBuffer failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected buffer drained, %d samples left", buf.Len())
	}
	if model.samples.Load() != 3200 {
		t.Errorf("Expected 3200 samples transcribed, got %d", model.samples.Load())
	}
	if transcript.AudioDuration != 200*time.Millisecond || transcript.StreamID != 5 {
		t.Errorf("Unexpected transcript %+v", transcript)
	}
}

func TestPipelineWithModel(t *testing.T) {
	cfg, err := whisper.NewConfig(300, 1, 1, 8, 2, 8)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg, err = cfg.WithContext(16, 8); err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}
	data, err := whisper.EncodeWeights(cfg, whisper.RandomWeights(cfg, 7), nil)
	if err != nil {
		t.Fatalf("EncodeWeights failed: %v", err)
	}
	model := whisper.New(cfg)
	if err := model.LoadWeights(data); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	p, err := NewPipeline(model, Config{MaxConcurrent: 1}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	transcript, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 1600)})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if transcript.Confidence < 0 || transcript.Confidence > 1 {
		t.Errorf("Confidence out of range: %v", transcript.Confidence)
	}
	if transcript.State != whisper.DecodeComplete {
		t.Errorf("Expected complete state, got %v", transcript.State)
	}

	if _, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 100)}); !errors.Is(err, whisper.ErrAudioTooShort) {
		t.Errorf("Expected audio too short, got %v", err)
	}
}

func TestPipelineDiscardsLateResult(t *testing.T) {
	model := &stubRecognizer{text: "too late", delay: 50 * time.Millisecond}
	sink := &recordingSink{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p, err := NewPipeline(model, Config{MaxConcurrent: 1}, nil, m, sink)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Transcribe(ctx, Request{Samples: make([]int16, 400)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if model.samples.Load() != 400 {
		t.Error("The model call should still run to completion")
	}
	if len(sink.transcripts) != 0 {
		t.Error("Late results must not reach the sink")
	}
	if p.Stats().LateResults != 1 {
		t.Errorf("Expected one late result, got %+v", p.Stats())
	}
	if got := testutil.ToFloat64(m.TranscriptionTimeouts); got != 1 {
		t.Errorf("Expected timeout metric, got %v", got)
	}
}

// blockingSink holds the first delivery until release is closed
type blockingSink struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Deliver(ctx context.Context, t *Transcript) error {
	if b.calls.Add(1) != 1 {
		return nil
	}
	close(b.entered)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPipelineSlowSinkDoesNotHoldSlot(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	p, err := NewPipeline(&stubRecognizer{text: "ok"}, Config{MaxConcurrent: 1, DeliveryTimeout: 5 * time.Second}, nil, nil, sink)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 400)})
		first <- err
	}()

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("First transcript never reached the sink")
	}
	if active := p.Stats().ActiveRequests; active != 0 {
		t.Errorf("Expected the slot to be free during delivery, %d active", active)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, Request{Samples: make([]int16, 400)}); err != nil {
		t.Errorf("Second utterance should not wait for the first delivery: %v", err)
	}

	close(sink.release)
	if err := <-first; err != nil {
		t.Errorf("First Transcribe failed: %v", err)
	}
}

// slowSink finishes after wait unless its context ends first
type slowSink struct {
	wait time.Duration
}

func (s *slowSink) Deliver(ctx context.Context, t *Transcript) error {
	select {
	case <-time.After(s.wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPipelineDeliveryDeadline(t *testing.T) {
	tests := []struct {
		name            string
		callerTimeout   time.Duration
		deliveryTimeout time.Duration
		sinkWait        time.Duration
		sinkFailures    uint64
	}{
		{
			name:            "caller deadline does not cut delivery",
			callerTimeout:   20 * time.Millisecond,
			deliveryTimeout: time.Second,
			sinkWait:        60 * time.Millisecond,
		},
		{
			name:            "delivery timeout bounds the sink",
			callerTimeout:   5 * time.Second,
			deliveryTimeout: 20 * time.Millisecond,
			sinkWait:        time.Second,
			sinkFailures:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPipeline(&stubRecognizer{text: "ok"}, Config{DeliveryTimeout: tt.deliveryTimeout}, nil, nil, &slowSink{wait: tt.sinkWait})
			if err != nil {
				t.Fatalf("NewPipeline failed: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), tt.callerTimeout)
			defer cancel()
			if _, err := p.Transcribe(ctx, Request{Samples: make([]int16, 400)}); err != nil {
				t.Fatalf("Transcribe failed: %v", err)
			}
			if got := p.Stats().SinkFailures; got != tt.sinkFailures {
				t.Errorf("Expected %d sink failures, got %d", tt.sinkFailures, got)
			}
		})
	}
}

func TestPipelineShiftsSegmentsByOffset(t *testing.T) {
	segments := []whisper.Segment{{Start: 0, End: 400 * time.Millisecond, Text: "go"}}
	p, err := NewPipeline(&stubRecognizer{text: "go", segments: segments}, Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	transcript, err := p.Transcribe(context.Background(), Request{Samples: make([]int16, 400), Offset: 2 * time.Second})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	want := whisper.Segment{Start: 2 * time.Second, End: 2400 * time.Millisecond, Text: "go"}
	if len(transcript.Segments) != 1 || transcript.Segments[0] != want {
		t.Errorf("Expected %+v, got %+v", want, transcript.Segments)
	}
	if segments[0].Start != 0 {
		t.Error("The model result must not be modified")
	}
	if transcript.Language != "en" {
		t.Errorf("Expected language to be carried, got %q", transcript.Language)
	}
}
