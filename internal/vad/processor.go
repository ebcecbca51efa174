package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// Levels mapped to probability 0 and 1
	floorDBFS = -60.0
	ceilDBFS  = -20.0
)

// Processor scores audio windows for voice activity
type Processor struct {
	threshold  float32
	windowSize int // samples per window (512 = 32ms at 16kHz)
	sampleRate int

	lastResult float32
	smoothing  float32 // weight of the previous score

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection
type Result struct {
	Probability    float32       `json:"probability"`     // Voice probability (0.0 - 1.0)
	HasVoice       bool          `json:"has_voice"`       // Whether voice was detected
	Confidence     float32       `json:"confidence"`      // Distance from the threshold, scaled to 0-1
	LevelDBFS      float64       `json:"level_dbfs"`      // Window level
	WindowIndex    int           `json:"window_index"`    // Window index processed
	ProcessingTime time.Duration `json:"processing_time"` // Time taken to process
}

// Segment is a voiced region of a recording, in samples
type Segment struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float32 `json:"confidence"`
}

// Duration returns the segment length at sampleRate
func (s Segment) Duration(sampleRate int) time.Duration {
	return time.Duration(s.End-s.Start) * time.Second / time.Duration(sampleRate)
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  0.3,
	}, nil
}

// Process scores one window of samples
func (p *Processor) Process(samples []int16) (*Result, error) {
	startTime := time.Now()

	if len(samples) == 0 {
		return nil, fmt.Errorf("empty window")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	level := levelDBFS(samples)
	probability := float32((level - floorDBFS) / (ceilDBFS - floorDBFS))
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}

	if p.totalWindows > 0 {
		probability = p.smoothing*p.lastResult + (1-p.smoothing)*probability
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	// higher when the probability is far from the threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence *= 2

	return &Result{
		Probability:    probability,
		HasVoice:       hasVoice,
		Confidence:     confidence,
		LevelDBFS:      level,
		WindowIndex:    int(p.totalWindows - 1),
		ProcessingTime: time.Since(startTime),
	}, nil
}

// levelDBFS returns the RMS level of samples relative to full scale
func levelDBFS(samples []int16) float64 {
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	if rms < 1 {
		return -96
	}
	return 20 * math.Log10(rms/32768.0)
}

// Segments splits a recording into voiced regions. Gaps shorter than minSilence are
// bridged and regions are cut so none exceeds maxLength samples. The processor's
// smoothing state carries over from and into live processing.
func (p *Processor) Segments(samples []int16, minSilence time.Duration, maxLength int) ([]Segment, error) {
	silenceWindows := int(minSilence * time.Duration(p.sampleRate) / time.Second / time.Duration(p.windowSize))
	if silenceWindows < 1 {
		silenceWindows = 1
	}

	var (
		segments []Segment
		current  *Segment
		quiet    int
		confSum  float32
		confN    int
	)
	closeSegment := func(end int) {
		current.End = end
		if confN > 0 {
			current.Confidence = confSum / float32(confN)
		}
		segments = append(segments, *current)
		current, quiet, confSum, confN = nil, 0, 0, 0
	}

	for start := 0; start < len(samples); start += p.windowSize {
		end := start + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}
		result, err := p.Process(samples[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to process window at %d: %w", start, err)
		}

		if result.HasVoice {
			if current == nil {
				current = &Segment{Start: start}
			}
			quiet = 0
			confSum += result.Confidence
			confN++
		} else if current != nil {
			quiet++
			if quiet >= silenceWindows {
				closeSegment(end - quiet*p.windowSize + p.windowSize)
				continue
			}
		}

		// close before the next window would overrun the cap
		if current != nil && maxLength > 0 && end-current.Start+p.windowSize > maxLength {
			closeSegment(end)
		}
	}
	if current != nil {
		closeSegment(len(samples))
	}
	return segments, nil
}

// Split cuts a recording into pieces of at most maxLength samples. A recording that
// already fits is returned whole. With a nil processor the cuts are fixed-size;
// otherwise they follow the voiced regions found by Segments.
func Split(p *Processor, samples []int16, minSilence time.Duration, maxLength int) ([]Segment, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}
	if len(samples) == 0 {
		return nil, nil
	}
	if len(samples) <= maxLength {
		return []Segment{{Start: 0, End: len(samples), Confidence: 1}}, nil
	}
	if p == nil {
		var segments []Segment
		for start := 0; start < len(samples); start += maxLength {
			end := min(start+maxLength, len(samples))
			segments = append(segments, Segment{Start: start, End: end, Confidence: 1})
		}
		return segments, nil
	}
	return p.Segments(samples, minSilence, maxLength)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
		WindowSize:      p.windowSize,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastResult = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}
