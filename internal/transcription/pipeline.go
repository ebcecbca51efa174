package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// Recognizer turns 16 kHz PCM into text. *whisper.Model implements it.
type Recognizer interface {
	Transcribe(samples []int16) (whisper.Result, error)
}

// Sink receives every successful transcript
type Sink interface {
	Deliver(ctx context.Context, t *Transcript) error
}

// Config contains pipeline configuration
type Config struct {
	MaxConcurrent   int
	DeliveryTimeout time.Duration
}

const defaultDeliveryTimeout = 30 * time.Second

// Pipeline runs utterances through the model with bounded concurrency and forwards
// the transcripts to a sink
type Pipeline struct {
	model     Recognizer
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sink      Sink
	semaphore chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	sinkFailures    uint64
	lateResults     uint64
	avgProcessing   time.Duration

	mu sync.RWMutex
}

// Stats represents pipeline statistics
type Stats struct {
	TotalRequests     uint64        `json:"total_requests"`
	SuccessRequests   uint64        `json:"success_requests"`
	FailedRequests    uint64        `json:"failed_requests"`
	SinkFailures      uint64        `json:"sink_failures"`
	LateResults       uint64        `json:"late_results"`
	SuccessRate       float64       `json:"success_rate"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	ActiveRequests    int           `json:"active_requests"`
	MaxConcurrent     int           `json:"max_concurrent"`
}

// NewPipeline creates a pipeline around model. logger, m and sink may be nil.
func NewPipeline(model Recognizer, config Config, logger *slog.Logger, m *metrics.Metrics, sink Sink) (*Pipeline, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaultDeliveryTimeout
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Pipeline{
		model:     model,
		config:    config,
		logger:    logger.With("component", "pipeline"),
		metrics:   m,
		sink:      sink,
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Transcribe runs one utterance. The model call itself is never interrupted: ctx
// bounds the wait for a free slot, and a result that completes after ctx is done is
// discarded instead of delivered. The slot is held only while the model runs; sink
// delivery gets its own DeliveryTimeout and does not count against ctx.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.incrementTotalRequests()
	p.metrics.RecordTranscriptionRequest()

	result, elapsed, err := p.runModel(req.Samples)

	if err != nil {
		p.incrementFailedRequests()
		p.metrics.RecordTranscriptionFailure(failureReason(err), elapsed.Seconds())
		p.logger.Warn("Transcription failed",
			slog.Uint64("stream_id", uint64(req.StreamID)),
			slog.Int("samples", len(req.Samples)),
			slog.String("state", result.State.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("stream %d: %w", req.StreamID, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		p.incrementLateResults()
		p.metrics.RecordTranscriptionTimeout()
		p.logger.Warn("Discarding late transcription",
			slog.Uint64("stream_id", uint64(req.StreamID)),
			slog.Duration("processing", elapsed))
		return nil, fmt.Errorf("stream %d: result discarded after %v: %w", req.StreamID, elapsed, ctxErr)
	}

	transcript := &Transcript{
		ID:             uuid.NewString(),
		StreamID:       req.StreamID,
		Source:         req.Source,
		Text:           result.Text,
		Confidence:     result.Confidence,
		Tokens:         result.Tokens,
		Language:       result.Language,
		Segments:       shiftSegments(result.Segments, req.Offset),
		State:          result.State,
		ProcessingTime: result.ProcessingTime,
		AudioDuration:  req.Duration(),
		CreatedAt:      time.Now(),
	}

	p.recordSuccess(result.ProcessingTime)
	p.metrics.RecordTranscriptionSuccess(result.ProcessingTime.Seconds(), float64(result.Confidence), len(result.Tokens))

	p.logger.Debug("Utterance transcribed",
		slog.String("id", transcript.ID),
		slog.Uint64("stream_id", uint64(req.StreamID)),
		slog.Int("tokens", len(result.Tokens)),
		slog.Duration("audio", transcript.AudioDuration),
		slog.Duration("processing", result.ProcessingTime))

	if p.sink != nil {
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.DeliveryTimeout)
		err := p.sink.Deliver(deliverCtx, transcript)
		cancel()
		if err != nil {
			p.incrementSinkFailures()
			p.logger.Warn("Transcript delivery failed",
				slog.String("id", transcript.ID),
				slog.String("error", err.Error()))
		}
	}

	return transcript, nil
}

// runModel calls the recognizer and frees the slot acquired by Transcribe
func (p *Pipeline) runModel(samples []int16) (whisper.Result, time.Duration, error) {
	defer func() { <-p.semaphore }()

	startTime := time.Now()
	result, err := p.model.Transcribe(samples)
	return result, time.Since(startTime), err
}

// TranscribeBuffer drains buf and transcribes its contents
func (p *Pipeline) TranscribeBuffer(ctx context.Context, streamID uint32, buf *audio.Buffer) (*Transcript, error) {
	samples := buf.Drain(nil)
	return p.Transcribe(ctx, Request{
		StreamID:   streamID,
		Samples:    samples,
		SampleRate: buf.SampleRate(),
	})
}

func shiftSegments(segments []whisper.Segment, offset time.Duration) []whisper.Segment {
	if offset == 0 {
		return segments
	}
	shifted := make([]whisper.Segment, len(segments))
	for i, seg := range segments {
		seg.Start += offset
		seg.End += offset
		shifted[i] = seg
	}
	return shifted
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, whisper.ErrAudioTooShort):
		return "audio_too_short"
	case errors.Is(err, whisper.ErrInference):
		return "inference"
	default:
		return "other"
	}
}

func (p *Pipeline) incrementTotalRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRequests++
}

func (p *Pipeline) incrementFailedRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedRequests++
}

func (p *Pipeline) incrementSinkFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinkFailures++
}

func (p *Pipeline) incrementLateResults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lateResults++
}

func (p *Pipeline) recordSuccess(processing time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successRequests++
	// Simple moving average
	if p.avgProcessing == 0 {
		p.avgProcessing = processing
	} else {
		p.avgProcessing = (p.avgProcessing + processing) / 2
	}
}

// Stats returns current pipeline statistics
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	successRate := float64(0)
	if p.totalRequests > 0 {
		successRate = float64(p.successRequests) / float64(p.totalRequests) * 100
	}

	return Stats{
		TotalRequests:     p.totalRequests,
		SuccessRequests:   p.successRequests,
		FailedRequests:    p.failedRequests,
		SinkFailures:      p.sinkFailures,
		LateResults:       p.lateResults,
		SuccessRate:       successRate,
		AvgProcessingTime: p.avgProcessing,
		ActiveRequests:    len(p.semaphore),
		MaxConcurrent:     p.config.MaxConcurrent,
	}
}

// Close waits for running transcriptions to finish and blocks new ones
func (p *Pipeline) Close() error {
	for i := 0; i < p.config.MaxConcurrent; i++ {
		p.semaphore <- struct{}{}
	}
	return nil
}
