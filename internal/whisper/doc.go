// Package whisper implements an offline encoder/decoder transformer for speech-to-text.
// It turns 16 kHz PCM into log-mel features, encodes them with a stack of attention
// blocks and greedily decodes text tokens with a KV-cached decoder. Weights are loaded
// once from an AETW named-tensor container and are read-only afterwards, so one Model
// can serve concurrent Transcribe calls.
package whisper
