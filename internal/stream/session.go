package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/vad"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// Session is one capture stream. Audio is processed synchronously on the caller's
// goroutine; only transcription runs in the background.
type Session struct {
	ID           uint32
	Source       string
	SampleRate   int // producer rate before resampling
	StartTime    time.Time
	LastActivity time.Time

	buffer    *audio.Buffer
	resampler *audio.Resampler
	reorderer *audio.Reorderer
	vad       *vad.Processor
	vadOn     bool
	segmenter *audio.Segmenter
	window    []int16 // resampled samples not yet scored
	windowLen int

	// Utterance and transcription tracking
	utterancesCompleted uint64
	utterancesAbandoned uint64
	transcripts         uint64
	transcriptsFailed   uint64
	transcriptsLate     uint64
	closed              bool

	manager *Manager
	mu      sync.Mutex
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	StreamID     uint32        `json:"stream_id"`
	Source       string        `json:"source"`
	SampleRate   int           `json:"sample_rate"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`
	State        string        `json:"state"`

	Buffer   audio.BufferStats    `json:"buffer"`
	Sequence audio.SequenceStats  `json:"sequence"`
	VAD      vad.ProcessorStats   `json:"vad"`
	Segments audio.SegmenterStats `json:"segments"`

	UtterancesCompleted uint64 `json:"utterances_completed"`
	UtterancesAbandoned uint64 `json:"utterances_abandoned"`
	Transcripts         uint64 `json:"transcripts"`
	TranscriptsFailed   uint64 `json:"transcripts_failed"`
	TranscriptsLate     uint64 `json:"transcripts_late"`
}

func newSession(m *Manager, streamID uint32, source string, sampleRate int) (*Session, error) {
	resampler, err := audio.NewResampler(sampleRate, whisper.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	processor, err := vad.NewProcessor(m.config.VAD.Threshold, m.config.VAD.WindowSize, whisper.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}

	now := time.Now()
	return &Session{
		ID:           streamID,
		Source:       source,
		SampleRate:   sampleRate,
		StartTime:    now,
		LastActivity: now,
		buffer:       audio.NewBuffer(whisper.SampleRate, m.config.BufferDurationMs),
		resampler:    resampler,
		reorderer:    audio.NewReorderer(uint32(m.config.MaxSequenceGap)),
		vad:          processor,
		vadOn:        m.config.VAD.Enabled,
		segmenter: audio.NewSegmenter(audio.SegmenterConfig{
			MinDuration:        m.config.MinDuration,
			MaxDuration:        m.config.MaxDuration,
			MinSpeechDuration:  m.config.MinSpeech,
			MinSilenceDuration: m.config.MinSilence,
			SampleRate:         whisper.SampleRate,
		}),
		window:    make([]int16, 0, m.config.VAD.WindowSize),
		windowLen: m.config.VAD.WindowSize,
		manager:   m,
	}, nil
}

// AddAudio accepts one sequenced packet of PCM at the session's sample rate.
// final marks the end of an utterance.
func (s *Session) AddAudio(sequence uint32, pcm []int16, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.LastActivity = time.Now()

	lostBefore := s.reorderer.Stats().LostPackets
	var ingestErr error
	err := s.reorderer.Add(sequence, pcm, func(frame []int16) {
		if err := s.ingest(frame); err != nil && ingestErr == nil {
			ingestErr = err
		}
	})
	s.manager.metrics.RecordLostPackets(s.reorderer.Stats().LostPackets - lostBefore)
	if err != nil {
		return err
	}
	if ingestErr != nil {
		return ingestErr
	}

	if final {
		s.finalize()
	}
	return nil
}

// AddPCM accepts unsequenced PCM at the session's sample rate
func (s *Session) AddPCM(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.LastActivity = time.Now()
	return s.ingest(pcm)
}

// Flush scores any partial window and finalizes the current utterance
func (s *Session) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.reorderer.Flush(func(frame []int16) {
		if err := s.ingest(frame); err != nil {
			s.manager.logger.Warn("Failed to ingest reordered audio",
				slog.Uint64("stream_id", uint64(s.ID)),
				slog.String("error", err.Error()))
		}
	})
	s.finalize()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// ingest resamples pcm and scores it window by window
func (s *Session) ingest(pcm []int16) error {
	samples, err := s.resampler.Process(pcm)
	if err != nil {
		return fmt.Errorf("stream %d: %w", s.ID, err)
	}

	for len(samples) > 0 {
		n := s.windowLen - len(s.window)
		if n > len(samples) {
			n = len(samples)
		}
		s.window = append(s.window, samples[:n]...)
		samples = samples[n:]

		if len(s.window) == s.windowLen {
			s.processWindow(s.window)
			s.window = s.window[:0]
		}
	}
	return nil
}

// processWindow admits one window into the buffer and advances segmentation
func (s *Session) processWindow(window []int16) {
	result := &vad.Result{Probability: 1, HasVoice: true, Confidence: 1}
	if s.vadOn {
		scored, err := s.vad.Process(window)
		if err != nil {
			s.manager.logger.Warn("VAD processing failed",
				slog.Uint64("stream_id", uint64(s.ID)),
				slog.String("error", err.Error()))
			return
		}
		result = scored
		s.manager.metrics.RecordVADWindow(result.HasVoice, result.ProcessingTime.Seconds())
	}

	admitted := s.admit(window, result)
	s.manager.metrics.RecordBufferPush(admitted, len(window)-admitted)
}

// admit pushes samples into the buffer, cutting the utterance whenever the buffer
// fills. Samples past the cut open the next utterance. It returns how many samples
// were kept.
func (s *Session) admit(samples []int16, result *vad.Result) int {
	kept := 0
	for len(samples) > 0 {
		room := min(len(samples), s.buffer.Remaining())
		if room == 0 {
			// nothing drained the buffer; Push counts the drop
			s.buffer.Push(samples)
			break
		}
		n := s.buffer.Push(samples[:room])
		kept += n
		samples = samples[n:]

		s.handle(s.segmenter.Observe(result, n))
		if s.buffer.Full() {
			s.handle(s.segmenter.ForceFinalize())
		}
	}
	return kept
}

// finalize scores the partial window and closes the current utterance
func (s *Session) finalize() {
	if len(s.window) > 0 {
		s.processWindow(s.window)
		s.window = s.window[:0]
	}
	s.handle(s.segmenter.ForceFinalize())
}

func (s *Session) handle(action audio.Action) {
	switch action {
	case audio.ActionDiscard:
		s.buffer.Reset()

	case audio.ActionAbandon:
		s.utterancesAbandoned++
		s.buffer.Reset()

	case audio.ActionComplete:
		s.utterancesCompleted++
		samples := s.buffer.Drain(nil)
		req := transcription.Request{
			StreamID:   s.ID,
			Source:     s.Source,
			Samples:    samples,
			SampleRate: whisper.SampleRate,
		}
		s.manager.metrics.RecordUtterance(req.Duration().Seconds())
		s.manager.logger.Debug("Utterance complete",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.Duration("duration", req.Duration()),
			slog.Float64("vad_confidence", float64(s.segmenter.LastConfidence())))
		s.manager.dispatch(s, req)
	}
}

func (s *Session) recordTranscription(ok, late bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case ok:
		s.transcripts++
	case late:
		s.transcriptsLate++
	default:
		s.transcriptsFailed++
	}
}

// Info returns session information including buffer, VAD and segmentation stats
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		StreamID:     s.ID,
		Source:       s.Source,
		SampleRate:   s.SampleRate,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime),
		State:        s.segmenter.State().String(),

		Buffer:   s.buffer.Stats(),
		Sequence: s.reorderer.Stats(),
		VAD:      s.vad.GetStats(),
		Segments: s.segmenter.Stats(),

		UtterancesCompleted: s.utterancesCompleted,
		UtterancesAbandoned: s.utterancesAbandoned,
		Transcripts:         s.transcripts,
		TranscriptsFailed:   s.transcriptsFailed,
		TranscriptsLate:     s.transcriptsLate,
	}
}
