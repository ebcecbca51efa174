// Package stream manages capture sessions. Each session restores packet order,
// resamples to the model rate, scores voice activity, cuts utterances and hands
// completed ones to the transcription pipeline under a deadline. Idle sessions
// expire after a configurable timeout.
package stream
