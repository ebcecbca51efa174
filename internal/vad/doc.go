// Package vad provides energy-based Voice Activity Detection for 16-bit PCM.
// It scores fixed windows by their level in dBFS, smooths the score across windows
// and splits longer recordings into voiced segments.
package vad
