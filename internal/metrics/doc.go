// Package metrics exposes Prometheus collectors for capture ingest, segmentation,
// transcription and the HTTP API.
package metrics
