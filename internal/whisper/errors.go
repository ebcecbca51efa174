package whisper

import "errors"

var (
	// ErrWeightFormat indicates a structurally malformed weight container
	ErrWeightFormat = errors.New("weight format error")
	// ErrWeightShape indicates a tensor whose shape disagrees with the model configuration
	ErrWeightShape = errors.New("weight shape error")
	// ErrInference indicates that a transcription could not be produced
	ErrInference = errors.New("inference error")
	// ErrAudioTooShort indicates fewer samples than one analysis window
	ErrAudioTooShort = errors.New("audio too short")
)
