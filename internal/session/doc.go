// Package session implements the transcription session state machine and the
// segment store it owns. A session routes capture buffers through
// normalization, mixing, and windowing, serializes transcription calls per
// stream, and appends the resulting time-stamped segments to an append-only
// store observable through subscribers and the finalize snapshot.
package session
