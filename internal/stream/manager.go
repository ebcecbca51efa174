package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// ErrTooManyStreams is returned when the session limit is reached
var ErrTooManyStreams = errors.New("too many concurrent streams")

// ErrSessionClosed is returned for audio sent to a removed session
var ErrSessionClosed = errors.New("session closed")

// VADConfig holds VAD processor configuration
type VADConfig struct {
	Enabled    bool
	Threshold  float32
	WindowSize int
}

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	Timeout           time.Duration // idle time before a session expires
	CleanupInterval   time.Duration
	MaxStreams        int
	BufferDurationMs  int
	MaxSequenceGap    int
	TranscribeTimeout time.Duration
	VAD               VADConfig
	MinDuration       time.Duration
	MaxDuration       time.Duration
	MinSpeech         time.Duration
	MinSilence        time.Duration
}

// ManagerConfigFrom maps the service configuration onto a ManagerConfig
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		Timeout:           cfg.Audio.GetStreamTimeoutDuration(),
		CleanupInterval:   30 * time.Second,
		MaxStreams:        cfg.Server.MaxConcurrentStreams,
		BufferDurationMs:  cfg.Audio.BufferDurationMs,
		MaxSequenceGap:    cfg.Audio.MaxSequenceGap,
		TranscribeTimeout: cfg.Pipeline.GetTimeoutDuration(),
		VAD: VADConfig{
			Enabled:    cfg.VAD.Enabled,
			Threshold:  cfg.VAD.Threshold,
			WindowSize: cfg.VAD.WindowSize,
		},
		MinDuration: cfg.Audio.GetChunkMinDuration(),
		MaxDuration: cfg.Audio.GetChunkMaxDuration(),
		MinSpeech:   cfg.VAD.GetMinSpeechDuration(),
		MinSilence:  cfg.VAD.GetMinSilenceDuration(),
	}
}

// Manager manages all active stream sessions
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig
	pipeline *transcription.Pipeline
	metrics  *metrics.Metrics

	subscribers map[uint32]map[chan *transcription.Transcript]struct{}
	subMu       sync.Mutex

	nextLocalID atomic.Uint32
	dispatches  sync.WaitGroup

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a stream manager feeding pipeline. m may be nil.
func NewManager(logger *slog.Logger, config ManagerConfig, pipeline *transcription.Pipeline, m *metrics.Metrics) (*Manager, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if config.BufferDurationMs <= 0 {
		return nil, fmt.Errorf("buffer duration must be positive, got %d", config.BufferDurationMs)
	}
	if config.VAD.WindowSize <= 0 {
		return nil, fmt.Errorf("vad window size must be positive, got %d", config.VAD.WindowSize)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.TranscribeTimeout <= 0 {
		config.TranscribeTimeout = 30 * time.Second
	}
	if config.MaxStreams <= 0 {
		config.MaxStreams = 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:    make(map[uint32]*Session),
		logger:      logger.With("component", "stream"),
		config:      config,
		pipeline:    pipeline,
		metrics:     m,
		subscribers: make(map[uint32]map[chan *transcription.Transcript]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}
	// local sessions (HTTP, websocket) count down from the top of the ID space
	mgr.nextLocalID.Store(^uint32(0))

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a session for streamID. An existing session is returned with
// its source updated; a different sample rate replaces it.
func (m *Manager) CreateSession(streamID uint32, source string, sampleRate int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[streamID]; exists {
		if existing.SampleRate == sampleRate {
			m.logger.Warn("Session already exists, updating metadata",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("existing_source", existing.Source),
				slog.String("new_source", source),
			)
			existing.mu.Lock()
			existing.Source = source
			existing.LastActivity = time.Now()
			existing.mu.Unlock()
			return existing, nil
		}
		existing.close()
		delete(m.sessions, streamID)
	}

	if len(m.sessions) >= m.config.MaxStreams {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyStreams, m.config.MaxStreams)
	}

	session, err := newSession(m, streamID, source, sampleRate)
	if err != nil {
		return nil, err
	}
	m.sessions[streamID] = session
	m.metrics.RecordStreamCreated()
	m.metrics.SetActiveStreams(len(m.sessions))

	m.logger.Info("Created new stream session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("source", source),
		slog.Int("sample_rate", sampleRate),
	)

	return session, nil
}

// CreateLocalSession creates a session with a fresh ID outside the range producers use
func (m *Manager) CreateLocalSession(source string, sampleRate int) (*Session, error) {
	return m.CreateSession(m.nextLocalID.Add(^uint32(0)), source, sampleRate)
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// RemoveSession finalizes any pending utterance and removes the session
func (m *Manager) RemoveSession(streamID uint32) bool {
	m.mu.Lock()
	session, exists := m.sessions[streamID]
	if exists {
		delete(m.sessions, streamID)
		m.metrics.SetActiveStreams(len(m.sessions))
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Flush()
	session.close()

	info := session.Info()
	m.metrics.RecordStreamDestroyed(info.Duration.Seconds())
	m.logger.Info("Stream session removed",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("source", info.Source),
		slog.Duration("duration", info.Duration),
		slog.Uint64("utterances", info.UtterancesCompleted),
		slog.Uint64("transcripts", info.Transcripts),
	)

	return true
}

// Subscribe returns a channel receiving transcripts of streamID and a function
// that ends the subscription. Slow subscribers miss transcripts rather than
// blocking dispatch.
func (m *Manager) Subscribe(streamID uint32) (<-chan *transcription.Transcript, func()) {
	ch := make(chan *transcription.Transcript, 16)

	m.subMu.Lock()
	if m.subscribers[streamID] == nil {
		m.subscribers[streamID] = make(map[chan *transcription.Transcript]struct{})
	}
	m.subscribers[streamID][ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers[streamID], ch)
			if len(m.subscribers[streamID]) == 0 {
				delete(m.subscribers, streamID)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(t *transcription.Transcript) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers[t.StreamID] {
		select {
		case ch <- t:
		default:
			m.logger.Warn("Subscriber too slow, dropping transcript",
				slog.Uint64("stream_id", uint64(t.StreamID)),
				slog.String("id", t.ID))
		}
	}
}

// dispatch transcribes an utterance in the background under the configured deadline
func (m *Manager) dispatch(s *Session, req transcription.Request) {
	m.dispatches.Add(1)
	go func() {
		defer m.dispatches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.config.TranscribeTimeout)
		defer cancel()

		transcript, err := m.pipeline.Transcribe(ctx, req)
		if err != nil {
			late := errors.Is(err, context.DeadlineExceeded)
			s.recordTranscription(false, late)
			m.logger.Warn("Utterance transcription failed",
				slog.Uint64("stream_id", uint64(req.StreamID)),
				slog.Bool("late", late),
				slog.String("error", err.Error()))
			return
		}

		s.recordTranscription(true, false)
		m.publish(transcript)
	}()
}

// Wait blocks until every dispatched utterance has finished
func (m *Manager) Wait() {
	m.dispatches.Wait()
}

// Stop finalizes all sessions, waits for in-flight transcriptions and stops cleanup
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.mu.RLock()
	ids := make([]uint32, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.RemoveSession(id)
	}

	m.cancel()
	<-m.cleanup
	m.dispatches.Wait()

	stats := m.pipeline.Stats()
	m.logger.Info("Stream manager stopped",
		slog.Uint64("total_transcription_requests", stats.TotalRequests),
		slog.Uint64("successful_transcriptions", stats.SuccessRequests),
		slog.Float64("transcription_success_rate", stats.SuccessRate),
	)
}

// GetTranscriptionStats returns current pipeline statistics
func (m *Manager) GetTranscriptionStats() transcription.Stats {
	return m.pipeline.Stats()
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Stream cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expiredSessions := make([]uint32, 0)

	m.mu.RLock()
	for streamID, session := range m.sessions {
		session.mu.Lock()
		lastActivity := session.LastActivity
		session.mu.Unlock()

		if now.Sub(lastActivity) > m.config.Timeout {
			expiredSessions = append(expiredSessions, streamID)
		}
	}
	m.mu.RUnlock()

	if len(expiredSessions) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expiredSessions)),
		)

		for _, streamID := range expiredSessions {
			m.RemoveSession(streamID)
		}
	}
}
