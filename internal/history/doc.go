// Package history keeps recent transcripts in a badger database so the HTTP API
// can list and fetch them after delivery.
package history
