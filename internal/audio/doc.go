// Package audio handles sample admission, utterance segmentation and format conversion.
// It provides the bounded lock-free capture buffer that feeds the speech model,
// sequence reordering for packetised capture, VAD-driven utterance segmentation,
// WAV encoding/decoding and sample-rate conversion to the model's 16 kHz input.
package audio
