package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// Serial prints transcripts as single display-safe ASCII lines, the form a serial
// console or character display accepts
type Serial struct {
	w  io.Writer
	mu sync.Mutex
}

// NewSerial creates a serial sink writing to w
func NewSerial(w io.Writer) *Serial {
	return &Serial{w: w}
}

// OpenOutput resolves a configured output name. "stdout" and "stderr" name the
// process streams; anything else is a device or file opened for appending.
func OpenOutput(name string) (io.WriteCloser, error) {
	switch name {
	case "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial output %s: %w", name, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Name returns the sink name
func (s *Serial) Name() string {
	return "serial"
}

// Deliver writes one line: text, confidence percentage and processing milliseconds.
// Timed segments follow on indented lines.
func (s *Serial) Deliver(ctx context.Context, t *transcription.Transcript) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s (%d%%, %dms)\n",
		t.StreamID,
		DisplaySafe(t.Text),
		int(t.Confidence*100+0.5),
		t.ProcessingTime.Milliseconds())
	for _, seg := range t.Segments {
		fmt.Fprintf(&b, "  %.2f-%.2f %s\n", seg.Start.Seconds(), seg.End.Seconds(), DisplaySafe(seg.Text))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// DisplaySafe maps text onto printable ASCII. Whitespace runs collapse to one space
// and anything else outside 0x20-0x7E becomes '?'.
func DisplaySafe(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			space = true
			continue
		case r < 0x20 || r > 0x7e:
			r = '?'
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
