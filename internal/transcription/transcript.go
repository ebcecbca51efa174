package transcription

import (
	"time"

	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// Transcript is a finished recognition result for one utterance
type Transcript struct {
	ID             string              `json:"id" msgpack:"id"`
	StreamID       uint32              `json:"stream_id" msgpack:"stream_id"`
	Source         string              `json:"source,omitempty" msgpack:"source,omitempty"`
	Text           string              `json:"text" msgpack:"text"`
	Confidence     float32             `json:"confidence" msgpack:"confidence"`
	Tokens         []int               `json:"tokens,omitempty" msgpack:"tokens,omitempty"`
	Language       string              `json:"language,omitempty" msgpack:"language,omitempty"`
	Segments       []whisper.Segment   `json:"segments,omitempty" msgpack:"segments,omitempty"`
	State          whisper.DecodeState `json:"state" msgpack:"state"`
	ProcessingTime time.Duration       `json:"processing_time" msgpack:"processing_time"`
	AudioDuration  time.Duration       `json:"audio_duration" msgpack:"audio_duration"`
	CreatedAt      time.Time           `json:"created_at" msgpack:"created_at"`
}

// Request is one utterance to transcribe
type Request struct {
	StreamID   uint32
	Source     string
	Samples    []int16       // 16 kHz mono
	SampleRate int           // defaults to whisper.SampleRate
	Offset     time.Duration // position of Samples in a longer recording, added to segment times
}

// Duration returns the length of the request audio
func (r *Request) Duration() time.Duration {
	rate := r.SampleRate
	if rate <= 0 {
		rate = whisper.SampleRate
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(rate)
}
