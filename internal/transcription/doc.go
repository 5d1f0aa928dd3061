// Package transcription defines the speech-to-text capability contract and
// implements an HTTP client for it. The client uploads emitted audio windows
// as multipart WAV with retry, exponential backoff, and a concurrency cap;
// any engine reachable over HTTP can sit behind it.
package transcription
