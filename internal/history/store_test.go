package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{InMemory: true, Retention: time.Hour})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func transcriptAt(i int, streamID uint32) *transcription.Transcript {
	return &transcription.Transcript{
		ID:             fmt.Sprintf("id-%02d", i),
		StreamID:       streamID,
		Text:           fmt.Sprintf("utterance %d", i),
		Confidence:     0.5,
		Tokens:         []int{i},
		State:          whisper.DecodeComplete,
		ProcessingTime: 30 * time.Millisecond,
		AudioDuration:  time.Second,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("Expected error for on-disk store without dir")
	}
}

func TestPutGet(t *testing.T) {
	store := openTestStore(t)
	in := transcriptAt(1, 9)

	if err := store.Deliver(context.Background(), in); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	out, err := store.Get(in.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.Text != in.Text || out.StreamID != 9 || out.State != whisper.DecodeComplete {
		t.Errorf("Unexpected transcript %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ProcessingTime != in.ProcessingTime {
		t.Errorf("Timing fields not preserved: %+v", out)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Put(&transcription.Transcript{}); err == nil {
		t.Error("Expected error for transcript without ID")
	}
}

func streamID(id uint32) *uint32 { return &id }

func TestRecent(t *testing.T) {
	store := openTestStore(t)
	// streams 0, 1, 2 in turn; stream 0 holds the uploads
	for i := 0; i < 6; i++ {
		tr := transcriptAt(i, uint32(i%3))
		tr.Source = "radio"
		if tr.StreamID == 0 {
			tr.Source = "http"
		}
		if err := store.Put(tr); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		limit   int
		filter  Filter
		wantIDs []string
	}{
		{"newest first", 3, Filter{}, []string{"id-05", "id-04", "id-03"}},
		{"single stream", 10, Filter{StreamID: streamID(1)}, []string{"id-04", "id-01"}},
		{"stream zero", 10, Filter{StreamID: streamID(0)}, []string{"id-03", "id-00"}},
		{"by source", 10, Filter{Source: "http"}, []string{"id-03", "id-00"}},
		{"stream and source", 10, Filter{StreamID: streamID(2), Source: "http"}, nil},
		{"zero limit", 0, Filter{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Recent(tt.limit, tt.filter)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Expected %d transcripts, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}

	if n, err := store.Count(); err != nil || n != 6 {
		t.Errorf("Expected 6 stored transcripts, got %d (%v)", n, err)
	}
}
