package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono PCM-16 from one sample rate to another. It keeps filter
// state between calls so a stream can be converted frame by frame. It is not safe
// for concurrent use.
type Resampler struct {
	inRate, outRate int
	resampler       resampling.Resampler
	input           []float64
	output          []int16
}

// NewResampler creates a mono resampler. Equal rates produce a passthrough.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", inRate, outRate)
	}
	r := &Resampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return r, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	r.resampler = rs
	return r, nil
}

// Passthrough reports whether no conversion takes place
func (r *Resampler) Passthrough() bool {
	return r.resampler == nil
}

// Process converts a block of samples. The returned slice is reused by the next call.
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if r.resampler == nil {
		return samples, nil
	}

	r.input = r.input[:0]
	for _, s := range samples {
		r.input = append(r.input, float64(s)/32768.0)
	}

	out, err := r.resampler.Process(r.input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	r.output = r.output[:0]
	for _, v := range out {
		r.output = append(r.output, floatToPCM16(v))
	}
	return r.output, nil
}

// Resample converts a complete recording in one call
func Resample(samples []int16, inRate, outRate int) ([]int16, error) {
	r, err := NewResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, err
	}
	return append([]int16(nil), out...), nil
}

func floatToPCM16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}
