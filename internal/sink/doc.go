// Package sink delivers finished transcripts to their consumers: a display-safe
// text console, the structured log, a webhook for a downstream command parser,
// or several of these at once.
package sink
