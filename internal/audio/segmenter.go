package audio

import (
	"sync"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/vad"
)

// SegmentState represents the current state of utterance segmentation
type SegmentState int

const (
	StateIdle SegmentState = iota
	StateCollecting
	StateWaitingSilence
)

func (s SegmentState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateWaitingSilence:
		return "waiting_silence"
	default:
		return "idle"
	}
}

// Action tells the caller what to do with the audio buffered so far
type Action int

const (
	// ActionNone means keep buffering
	ActionNone Action = iota
	// ActionDiscard means the window was silence outside an utterance
	ActionDiscard
	// ActionStart means an utterance began with this window
	ActionStart
	// ActionComplete means the buffered utterance is ready for transcription
	ActionComplete
	// ActionAbandon means the buffered audio held too little speech to keep
	ActionAbandon
)

func (a Action) String() string {
	switch a {
	case ActionDiscard:
		return "discard"
	case ActionStart:
		return "start"
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	default:
		return "none"
	}
}

// SegmenterConfig contains configuration for utterance segmentation
type SegmenterConfig struct {
	MinDuration        time.Duration
	MaxDuration        time.Duration
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	SampleRate         int
}

// Segmenter turns a stream of VAD decisions into utterance boundaries. Durations are
// measured in samples observed, so segmentation is independent of wall-clock timing.
type Segmenter struct {
	config SegmenterConfig
	state  SegmentState

	total   int // samples in the current utterance
	speech  int // samples up to and including the last voiced window
	silence int // trailing unvoiced samples

	confidenceSum   float32
	confidenceCount int

	completed      uint64
	abandoned      uint64
	totalDuration  time.Duration
	lastConfidence float32

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics
type SegmenterStats struct {
	State            string        `json:"state"`
	Completed        uint64        `json:"utterances_completed"`
	Abandoned        uint64        `json:"utterances_abandoned"`
	TotalDuration    time.Duration `json:"total_duration"`
	CurrentDuration  time.Duration `json:"current_duration"`
	AvgUtteranceSecs float64       `json:"avg_utterance_duration_sec"`
}

// NewSegmenter creates a new utterance segmenter
func NewSegmenter(config SegmenterConfig) *Segmenter {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	return &Segmenter{config: config}
}

// Observe consumes the VAD result for a window of n samples
func (s *Segmenter) Observe(result *vad.Result, n int) Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	voiced := result != nil && result.HasVoice
	if result != nil {
		s.confidenceSum += result.Confidence
		s.confidenceCount++
	}

	switch s.state {
	case StateIdle:
		if !voiced {
			s.confidenceSum, s.confidenceCount = 0, 0
			return ActionDiscard
		}
		s.state = StateCollecting
		s.total, s.speech, s.silence = n, n, 0
		return ActionStart

	case StateCollecting, StateWaitingSilence:
		s.total += n
		if voiced {
			s.speech = s.total
			s.silence = 0
			s.state = StateCollecting
		} else {
			s.silence += n
			s.state = StateWaitingSilence
		}

		if s.duration(s.total) >= s.config.MaxDuration {
			return s.finish()
		}
		if !voiced && s.duration(s.silence) >= s.config.MinSilenceDuration {
			return s.finish()
		}
	}
	return ActionNone
}

// ForceFinalize ends the current utterance, used when a stream stops or its buffer fills
func (s *Segmenter) ForceFinalize() Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return ActionNone
	}
	return s.finish()
}

// finish decides whether the current utterance is worth transcribing and resets
func (s *Segmenter) finish() Action {
	action := ActionAbandon
	if s.duration(s.speech) >= s.config.MinSpeechDuration && s.duration(s.total) >= s.config.MinDuration {
		action = ActionComplete
		s.completed++
		s.totalDuration += s.duration(s.total)
	} else {
		s.abandoned++
	}

	if s.confidenceCount > 0 {
		s.lastConfidence = s.confidenceSum / float32(s.confidenceCount)
	}
	s.state = StateIdle
	s.total, s.speech, s.silence = 0, 0, 0
	s.confidenceSum, s.confidenceCount = 0, 0
	return action
}

// LastConfidence returns the mean VAD confidence of the last finished utterance
func (s *Segmenter) LastConfidence() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfidence
}

func (s *Segmenter) duration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(s.config.SampleRate)
}

// State returns the current segmentation state
func (s *Segmenter) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns current segmenter statistics
func (s *Segmenter) Stats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := float64(0)
	if s.completed > 0 {
		avg = s.totalDuration.Seconds() / float64(s.completed)
	}
	return SegmenterStats{
		State:            s.state.String(),
		Completed:        s.completed,
		Abandoned:        s.abandoned,
		TotalDuration:    s.totalDuration,
		CurrentDuration:  s.duration(s.total),
		AvgUtteranceSecs: avg,
	}
}
