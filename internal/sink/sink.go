package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// Sink receives transcripts
type Sink interface {
	Name() string
	Deliver(ctx context.Context, t *transcription.Transcript) error
}

// Multi fans a transcript out to every sink. A failing sink does not stop delivery
// to the others.
type Multi struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

// NewMulti creates a fan-out sink. m may be nil.
func NewMulti(m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: m}
}

// Add appends a sink
func (s *Multi) Add(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Len returns the number of sinks
func (s *Multi) Len() int {
	return len(s.sinks)
}

// Name returns the sink name
func (s *Multi) Name() string {
	return "multi"
}

// Deliver forwards t to every sink and joins their errors
func (s *Multi) Deliver(ctx context.Context, t *transcription.Transcript) error {
	var errs []error
	for _, sink := range s.sinks {
		err := sink.Deliver(ctx, t)
		s.metrics.RecordSinkDelivery(sink.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
