package stream

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

type stubRecognizer struct {
	delay   time.Duration
	calls   atomic.Int32
	mu      sync.Mutex
	lengths []int
}

func (s *stubRecognizer) Transcribe(samples []int16) (whisper.Result, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lengths = append(s.lengths, len(samples))
	s.mu.Unlock()
	time.Sleep(s.delay)
	return whisper.Result{Text: "copy that", Confidence: 0.9, State: whisper.DecodeComplete}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestManagerConfig creates a test configuration for the manager
func createTestManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout:           time.Minute,
		CleanupInterval:   time.Minute,
		MaxStreams:        4,
		BufferDurationMs:  5000,
		MaxSequenceGap:    4,
		TranscribeTimeout: 5 * time.Second,
		VAD: VADConfig{
			Enabled:    true,
			Threshold:  0.5,
			WindowSize: 512,
		},
		MinDuration: 300 * time.Millisecond,
		MaxDuration: 4 * time.Second,
		MinSpeech:   200 * time.Millisecond,
		MinSilence:  300 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, config ManagerConfig, model *stubRecognizer) *Manager {
	t.Helper()
	pipeline, err := transcription.NewPipeline(model, transcription.Config{MaxConcurrent: 2}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	mgr, err := NewManager(testLogger(), config, pipeline, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func tone(n, sampleRate int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*300*float64(i)/float64(sampleRate)))
	}
	return samples
}

// sendPackets splits samples into sequenced packets starting at *seq
func sendPackets(t *testing.T, s *Session, seq *uint32, samples []int16, packet int) {
	t.Helper()
	for len(samples) > 0 {
		n := packet
		if n > len(samples) {
			n = len(samples)
		}
		if err := s.AddAudio(*seq, samples[:n], false); err != nil {
			t.Fatalf("AddAudio(%d) failed: %v", *seq, err)
		}
		*seq++
		samples = samples[n:]
	}
}

func receive(t *testing.T, ch <-chan *transcription.Transcript) *transcription.Transcript {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for transcript")
		return nil
	}
}

func TestNewManagerValidation(t *testing.T) {
	pipeline, err := transcription.NewPipeline(&stubRecognizer{}, transcription.Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	tests := []struct {
		name     string
		modify   func(c *ManagerConfig)
		pipeline *transcription.Pipeline
	}{
		{"nil pipeline", func(c *ManagerConfig) {}, nil},
		{"zero timeout", func(c *ManagerConfig) { c.Timeout = 0 }, pipeline},
		{"zero buffer", func(c *ManagerConfig) { c.BufferDurationMs = 0 }, pipeline},
		{"zero window", func(c *ManagerConfig) { c.VAD.WindowSize = 0 }, pipeline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := createTestManagerConfig()
			tt.modify(&config)
			if _, err := NewManager(testLogger(), config, tt.pipeline, nil); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestCreateSession(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig(), &stubRecognizer{})

	session, err := mgr.CreateSession(12345, "radio", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if session.ID != 12345 || session.Source != "radio" {
		t.Errorf("Unexpected session %+v", session.Info())
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	// same rate keeps the session
	again, err := mgr.CreateSession(12345, "radio-2", 16000)
	if err != nil {
		t.Fatalf("Failed to recreate session: %v", err)
	}
	if again != session || again.Source != "radio-2" {
		t.Error("Expected existing session with updated source")
	}

	// a new rate replaces it
	replaced, err := mgr.CreateSession(12345, "radio", 8000)
	if err != nil {
		t.Fatalf("Failed to replace session: %v", err)
	}
	if replaced == session || replaced.SampleRate != 8000 {
		t.Error("Expected a new session for a new sample rate")
	}
	if err := session.AddPCM(make([]int16, 10)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected replaced session to be closed, got %v", err)
	}
}

func TestCreateSessionLimits(t *testing.T) {
	config := createTestManagerConfig()
	config.MaxStreams = 2
	mgr := newTestManager(t, config, &stubRecognizer{})

	if _, err := mgr.CreateSession(1, "a", 16000); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := mgr.CreateLocalSession("ws", 16000); err != nil {
		t.Fatalf("Failed to create local session: %v", err)
	}
	if _, err := mgr.CreateSession(3, "c", 16000); !errors.Is(err, ErrTooManyStreams) {
		t.Errorf("Expected ErrTooManyStreams, got %v", err)
	}
	if _, err := mgr.CreateSession(4, "bad", 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if len(mgr.GetAllSessions()) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(mgr.GetAllSessions()))
	}
}

func TestRemoveSession(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig(), &stubRecognizer{})

	if _, err := mgr.CreateSession(7, "mic", 16000); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if !mgr.RemoveSession(7) {
		t.Error("Expected session to be removed")
	}
	if mgr.RemoveSession(7) {
		t.Error("Removing twice should report false")
	}
	if _, ok := mgr.GetSession(7); ok {
		t.Error("Session still present after removal")
	}
}

func TestUtteranceIsTranscribed(t *testing.T) {
	model := &stubRecognizer{}
	mgr := newTestManager(t, createTestManagerConfig(), model)

	session, err := mgr.CreateSession(1, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	transcripts, cancel := mgr.Subscribe(1)
	defer cancel()

	var seq uint32
	sendPackets(t, session, &seq, make([]int16, 8000), 1600)
	sendPackets(t, session, &seq, tone(16000, 16000), 1600)
	sendPackets(t, session, &seq, make([]int16, 16000), 1600)

	tr := receive(t, transcripts)
	if tr.Text != "copy that" || tr.StreamID != 1 || tr.Source != "mic" {
		t.Errorf("Unexpected transcript %+v", tr)
	}
	// one second of speech plus the trailing silence that closed it
	if tr.AudioDuration < time.Second || tr.AudioDuration > 1600*time.Millisecond {
		t.Errorf("Unexpected utterance duration %v", tr.AudioDuration)
	}

	mgr.Wait()
	info := session.Info()
	if info.UtterancesCompleted != 1 || info.Transcripts != 1 {
		t.Errorf("Unexpected session stats %+v", info)
	}
	if info.State != audio.StateIdle.String() {
		t.Errorf("Expected idle segmenter, got %s", info.State)
	}
	if info.Buffer.Buffered != 0 {
		t.Errorf("Expected silence discarded, %d samples buffered", info.Buffer.Buffered)
	}
}

func TestFinalFlagEndsUtterance(t *testing.T) {
	model := &stubRecognizer{}
	mgr := newTestManager(t, createTestManagerConfig(), model)

	session, err := mgr.CreateSession(2, "ptt", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	transcripts, cancel := mgr.Subscribe(2)
	defer cancel()

	if err := session.AddAudio(0, tone(8000, 16000), true); err != nil {
		t.Fatalf("AddAudio failed: %v", err)
	}

	tr := receive(t, transcripts)
	if tr.AudioDuration != 500*time.Millisecond {
		t.Errorf("Expected the whole 500ms packet, got %v", tr.AudioDuration)
	}
}

func TestShortBlipIsAbandoned(t *testing.T) {
	model := &stubRecognizer{}
	mgr := newTestManager(t, createTestManagerConfig(), model)

	session, err := mgr.CreateSession(3, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var seq uint32
	sendPackets(t, session, &seq, tone(1024, 16000), 1024)
	sendPackets(t, session, &seq, make([]int16, 16000), 1600)
	mgr.Wait()

	info := session.Info()
	if info.UtterancesAbandoned != 1 || info.UtterancesCompleted != 0 {
		t.Errorf("Expected one abandoned utterance, got %+v", info)
	}
	if model.calls.Load() != 0 {
		t.Error("Abandoned utterances must not be transcribed")
	}
}

func TestFullBufferForcesUtterance(t *testing.T) {
	config := createTestManagerConfig()
	config.BufferDurationMs = 1000
	config.MaxDuration = 10 * time.Second
	model := &stubRecognizer{}
	mgr := newTestManager(t, config, model)

	session, err := mgr.CreateSession(4, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var seq uint32
	sendPackets(t, session, &seq, tone(40000, 16000), 1600)
	mgr.Wait()

	if calls := model.calls.Load(); calls < 2 {
		t.Errorf("Expected the full buffer to cut at least 2 utterances, got %d", calls)
	}
	model.mu.Lock()
	defer model.mu.Unlock()
	for _, n := range model.lengths {
		if n > 16000 {
			t.Errorf("Utterance of %d samples exceeds buffer capacity", n)
		}
	}
}

func TestFullBufferCarriesWindowTail(t *testing.T) {
	config := createTestManagerConfig()
	config.VAD.Enabled = false
	// 16000 samples is not a multiple of the 512-sample window
	config.BufferDurationMs = 1000
	config.MaxDuration = 10 * time.Second
	model := &stubRecognizer{}
	mgr := newTestManager(t, config, model)

	session, err := mgr.CreateSession(10, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	const total = 80 * 512
	var seq uint32
	sendPackets(t, session, &seq, tone(total, 16000), 1600)
	session.Flush()
	mgr.Wait()

	model.mu.Lock()
	lengths := append([]int(nil), model.lengths...)
	model.mu.Unlock()
	slices.Sort(lengths)

	want := []int{total - 32000, 16000, 16000}
	if len(lengths) != len(want) {
		t.Fatalf("Expected utterances %v, got %v", want, lengths)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Errorf("Utterance %d: expected %d samples, got %d", i, want[i], lengths[i])
		}
	}
	if dropped := session.Info().Buffer.DroppedSamples; dropped != 0 {
		t.Errorf("Expected no dropped samples, got %d", dropped)
	}
}

func TestResampledSession(t *testing.T) {
	model := &stubRecognizer{}
	mgr := newTestManager(t, createTestManagerConfig(), model)

	session, err := mgr.CreateSession(5, "narrowband", 8000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var seq uint32
	sendPackets(t, session, &seq, tone(8000, 8000), 800)
	info := session.Info()
	// one second at 8 kHz becomes about 16000 samples, less filter delay
	if got := info.Buffer.PushedSamples; got < 12000 || got > 16500 {
		t.Errorf("Expected about 16000 resampled samples, got %d", got)
	}
	if info.Buffer.SampleRate != whisper.SampleRate {
		t.Errorf("Expected buffer at model rate, got %d", info.Buffer.SampleRate)
	}
}

func TestLatePacketRejected(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig(), &stubRecognizer{})

	session, err := mgr.CreateSession(6, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := session.AddAudio(10, make([]int16, 160), false); err != nil {
		t.Fatalf("AddAudio failed: %v", err)
	}
	if err := session.AddAudio(9, make([]int16, 160), false); !errors.Is(err, audio.ErrLatePacket) {
		t.Errorf("Expected ErrLatePacket, got %v", err)
	}
	if session.Info().Sequence.LatePackets != 1 {
		t.Error("Expected late packet counted")
	}
}

func TestLateTranscriptionDiscarded(t *testing.T) {
	config := createTestManagerConfig()
	config.TranscribeTimeout = 10 * time.Millisecond
	model := &stubRecognizer{delay: 100 * time.Millisecond}
	mgr := newTestManager(t, config, model)

	session, err := mgr.CreateSession(8, "mic", 16000)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	transcripts, cancel := mgr.Subscribe(8)
	defer cancel()

	if err := session.AddAudio(0, tone(8000, 16000), true); err != nil {
		t.Fatalf("AddAudio failed: %v", err)
	}
	mgr.Wait()

	select {
	case tr := <-transcripts:
		t.Errorf("Late transcript should be discarded, got %+v", tr)
	default:
	}
	if info := session.Info(); info.TranscriptsLate != 1 || info.Transcripts != 0 {
		t.Errorf("Expected one late transcript, got %+v", info)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	config := createTestManagerConfig()
	config.Timeout = 50 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	mgr := newTestManager(t, config, &stubRecognizer{})

	if _, err := mgr.CreateSession(9, "mic", 16000); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for mgr.GetActiveSessionCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.GetActiveSessionCount() != 0 {
		t.Error("Expected idle session to expire")
	}
}

func TestSessionConcurrency(t *testing.T) {
	mgr := newTestManager(t, createTestManagerConfig(), &stubRecognizer{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			session, err := mgr.CreateSession(id, "mic", 16000)
			if err != nil {
				t.Errorf("Failed to create session %d: %v", id, err)
				return
			}
			for seq := uint32(0); seq < 50; seq++ {
				if err := session.AddAudio(seq, tone(320, 16000), false); err != nil {
					t.Errorf("AddAudio failed: %v", err)
					return
				}
			}
			_ = session.Info()
		}(uint32(100 + i))
	}
	wg.Wait()

	if mgr.GetActiveSessionCount() != 4 {
		t.Errorf("Expected 4 sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestManagerConfigFrom(t *testing.T) {
	cfg := config.Default()
	mc := ManagerConfigFrom(cfg)

	if mc.Timeout != 60*time.Second {
		t.Errorf("Expected 60s stream timeout, got %v", mc.Timeout)
	}
	if mc.MaxStreams != cfg.Server.MaxConcurrentStreams {
		t.Errorf("Expected %d streams, got %d", cfg.Server.MaxConcurrentStreams, mc.MaxStreams)
	}
	if mc.MaxDuration != 25*time.Second || mc.MinDuration != 500*time.Millisecond {
		t.Errorf("Unexpected chunk bounds %v..%v", mc.MinDuration, mc.MaxDuration)
	}
	if !mc.VAD.Enabled || mc.VAD.WindowSize != 512 {
		t.Errorf("Unexpected VAD config %+v", mc.VAD)
	}

	mgr, err := NewManager(testLogger(), mc, newTestPipeline(t), nil)
	if err != nil {
		t.Fatalf("Default config should build a manager: %v", err)
	}
	mgr.Stop()
}

func newTestPipeline(t *testing.T) *transcription.Pipeline {
	t.Helper()
	pipeline, err := transcription.NewPipeline(&stubRecognizer{}, transcription.Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return pipeline
}
