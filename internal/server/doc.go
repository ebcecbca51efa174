// Package server implements the UDP capture server and the HTTP API.
//
// The UDP server parses Start/Audio/End packets on a pool of workers, sharding
// by stream ID so each stream's packets are handled in arrival order, and routes
// them to stream sessions. The HTTP API exposes health, stream, statistics and
// history endpoints, file transcription on POST /transcribe, live transcription
// over the /ws/stream websocket and Prometheus metrics.
package server
