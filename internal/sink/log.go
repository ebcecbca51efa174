package sink

import (
	"context"
	"log/slog"

	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// Log writes every transcript to a structured logger
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log sink
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "transcripts")}
}

// Name returns the sink name
func (s *Log) Name() string {
	return "log"
}

// Deliver logs t at info level
func (s *Log) Deliver(ctx context.Context, t *transcription.Transcript) error {
	s.logger.InfoContext(ctx, "Transcript",
		slog.String("id", t.ID),
		slog.Uint64("stream_id", uint64(t.StreamID)),
		slog.String("text", t.Text),
		slog.Float64("confidence", float64(t.Confidence)),
		slog.Duration("audio", t.AudioDuration),
		slog.Duration("processing", t.ProcessingTime))
	return nil
}
