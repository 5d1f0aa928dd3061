// Package publish delivers finalized transcripts to downstream consumers
// over Redis pub/sub and keyed storage.
package publish
