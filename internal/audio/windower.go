package audio

import (
	"sync"
	"time"
)

// Default windowing parameters.
const (
	DefaultChunkDuration    = 5 * time.Second
	DefaultOverlapDuration  = 1 * time.Second
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 2 * time.Second
)

// Window is a slice of normalized audio emitted for transcription, with
// timing derived from cumulative sample counts rather than wall clock.
type Window struct {
	Samples   []float32
	StartTime float64 // seconds relative to session start
	EndTime   float64 // seconds relative to session start
	EarlyCut  bool    // emitted by silence detection or flush, not a full chunk
}

// WindowerConfig contains windowing parameters. Zero values fall back to the
// package defaults.
type WindowerConfig struct {
	SampleRate       int
	ChunkDuration    time.Duration
	OverlapDuration  time.Duration
	SilenceThreshold float64
	SilenceDuration  time.Duration
}

// WindowerStats represents windower statistics for monitoring.
type WindowerStats struct {
	WindowsEmitted   uint64  `json:"windows_emitted"`
	SilenceCuts      uint64  `json:"silence_cuts"`
	BufferedSamples  int     `json:"buffered_samples"`
	ProcessedSeconds float64 `json:"processed_seconds"`
}

// Windower accumulates normalized samples into a rolling buffer and emits
// fixed-duration overlapping windows, or the whole accumulated buffer early
// when trailing silence is detected. The cumulative processed-sample counter
// advances only by the non-overlapping count consumed, so overlap regions are
// not double-counted in elapsed time.
type Windower struct {
	sampleRate     int
	chunkSamples   int
	overlapSamples int
	silenceSamples int
	threshold      float64

	buf       []float32
	processed int64 // samples consumed from the stream timeline

	windowsEmitted uint64
	silenceCuts    uint64

	mu sync.Mutex
}

// NewWindower creates a windower with the given configuration, applying
// package defaults for zero-valued fields.
func NewWindower(config WindowerConfig) *Windower {
	if config.SampleRate <= 0 {
		config.SampleRate = TargetSampleRate
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = DefaultChunkDuration
	}
	if config.OverlapDuration <= 0 {
		config.OverlapDuration = DefaultOverlapDuration
	}
	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = DefaultSilenceThreshold
	}
	if config.SilenceDuration <= 0 {
		config.SilenceDuration = DefaultSilenceDuration
	}

	chunkSamples := int(config.ChunkDuration.Seconds() * float64(config.SampleRate))
	overlapSamples := int(config.OverlapDuration.Seconds() * float64(config.SampleRate))
	if overlapSamples >= chunkSamples {
		overlapSamples = chunkSamples / 2
	}

	return &Windower{
		sampleRate:     config.SampleRate,
		chunkSamples:   chunkSamples,
		overlapSamples: overlapSamples,
		silenceSamples: int(config.SilenceDuration.Seconds() * float64(config.SampleRate)),
		threshold:      config.SilenceThreshold,
		buf:            make([]float32, 0, chunkSamples+overlapSamples),
	}
}

// Feed appends samples to the rolling buffer and returns any windows that
// became ready: full chunk-duration windows while the buffer holds enough
// samples, otherwise the entire accumulated buffer when its tail has been
// silent for the configured silence duration.
func (w *Windower) Feed(samples []float32) []Window {
	if len(samples) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, samples...)

	var windows []Window
	for len(w.buf) >= w.chunkSamples {
		windows = append(windows, w.emitChunkLocked())
	}
	if len(windows) > 0 {
		return windows
	}

	// Early cut on trailing silence. Requires more than a silence-duration of
	// audio so a quiet stream start does not emit empty windows forever.
	if len(w.buf) > w.silenceSamples && RMS(w.buf[len(w.buf)-w.silenceSamples:]) < w.threshold {
		return []Window{w.emitAllLocked(true)}
	}

	return nil
}

// Flush emits whatever remains in the buffer as a final window regardless of
// size or silence. Returns nil if the buffer is empty.
func (w *Windower) Flush() *Window {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) == 0 {
		return nil
	}

	win := w.emitAllLocked(false)
	return &win
}

// Reset clears the buffer and cumulative counter for a new session.
func (w *Windower) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = w.buf[:0]
	w.processed = 0
	w.windowsEmitted = 0
	w.silenceCuts = 0
}

// emitChunkLocked cuts a full chunk off the front of the buffer, retaining
// the overlap tail so words at the boundary appear in both windows.
func (w *Windower) emitChunkLocked() Window {
	out := make([]float32, w.chunkSamples)
	copy(out, w.buf[:w.chunkSamples])

	advance := w.chunkSamples - w.overlapSamples
	win := Window{
		Samples:   out,
		StartTime: float64(w.processed) / float64(w.sampleRate),
		EndTime:   float64(w.processed+int64(w.chunkSamples)) / float64(w.sampleRate),
	}

	w.buf = w.buf[:copy(w.buf, w.buf[advance:])]
	w.processed += int64(advance)
	w.windowsEmitted++

	return win
}

// emitAllLocked emits the entire accumulated buffer and clears it. Used for
// silence early cuts and the final flush, where no overlap is retained.
func (w *Windower) emitAllLocked(silence bool) Window {
	out := make([]float32, len(w.buf))
	copy(out, w.buf)

	win := Window{
		Samples:   out,
		StartTime: float64(w.processed) / float64(w.sampleRate),
		EndTime:   float64(w.processed+int64(len(out))) / float64(w.sampleRate),
		EarlyCut:  true,
	}

	w.buf = w.buf[:0]
	w.processed += int64(len(out))
	w.windowsEmitted++
	if silence {
		w.silenceCuts++
	}

	return win
}

// Stats returns current windower statistics.
func (w *Windower) Stats() WindowerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WindowerStats{
		WindowsEmitted:   w.windowsEmitted,
		SilenceCuts:      w.silenceCuts,
		BufferedSamples:  len(w.buf),
		ProcessedSeconds: float64(w.processed) / float64(w.sampleRate),
	}
}

// BufferedSamples returns the number of samples awaiting emission.
func (w *Windower) BufferedSamples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
