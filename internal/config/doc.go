// Package config provides configuration loading and validation for the speech service.
// It handles YAML-based configuration with per-section validation covering capture
// ingest, audio segmentation, the speech model, the transcription pipeline, result
// sinks, transcript history and logging.
package config
