// Package transcription runs captured utterances through the speech model.
// A Pipeline bounds the number of concurrent inferences, turns model results into
// Transcripts with stable IDs and forwards them to a Sink.
package transcription
