// Package protocol implements the capture packet format used by audio producers.
// A stream is opened by a Start packet carrying its sample rate and source name,
// continues with sequenced Audio packets of 16-bit little-endian PCM and is closed
// by an End packet. All header fields are big-endian.
package protocol
