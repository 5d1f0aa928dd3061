package transcription

import "context"

// Transcriber converts one window of 16 kHz mono float samples into text.
// Implementations are not required to be safe for concurrent invocation;
// callers serialize requests per stream. An empty result means the window
// contained no recognizable speech and is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Func adapts a function to the Transcriber interface.
type Func func(ctx context.Context, samples []float32) (string, error)

// Transcribe implements Transcriber.
func (f Func) Transcribe(ctx context.Context, samples []float32) (string, error) {
	return f(ctx, samples)
}
