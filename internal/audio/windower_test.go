package audio

import (
	"math"
	"testing"
	"time"
)

// tone generates the given duration of a 440 Hz sine at TargetSampleRate.
func tone(d time.Duration, amplitude float64) []float32 {
	n := int(d.Seconds() * TargetSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/TargetSampleRate))
	}
	return samples
}

func feedInBuffers(w *Windower, samples []float32, bufSize int) []Window {
	var windows []Window
	for start := 0; start < len(samples); start += bufSize {
		end := start + bufSize
		if end > len(samples) {
			end = len(samples)
		}
		windows = append(windows, w.Feed(samples[start:end])...)
	}
	return windows
}

func TestWindowerSevenSecondTone(t *testing.T) {
	// Seven seconds of steady tone with default 5s/1s windowing must produce
	// exactly two windows: 0-5 while streaming, then 4-7 at flush.
	w := NewWindower(WindowerConfig{})

	windows := feedInBuffers(w, tone(7*time.Second, 0.5), TargetSampleRate/10)
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window while streaming, got %d", len(windows))
	}

	first := windows[0]
	if !approxEqual(first.StartTime, 0.0, 1e-9) || !approxEqual(first.EndTime, 5.0, 1e-9) {
		t.Errorf("First window: expected [0.0, 5.0], got [%f, %f]", first.StartTime, first.EndTime)
	}
	if first.EarlyCut {
		t.Errorf("Full chunk should not be marked as an early cut")
	}
	if len(first.Samples) != 5*TargetSampleRate {
		t.Errorf("Expected %d samples, got %d", 5*TargetSampleRate, len(first.Samples))
	}

	final := w.Flush()
	if final == nil {
		t.Fatal("Expected a final window from flush")
	}
	if !approxEqual(final.StartTime, 4.0, 1e-9) || !approxEqual(final.EndTime, 7.0, 1e-9) {
		t.Errorf("Final window: expected [4.0, 7.0], got [%f, %f]", final.StartTime, final.EndTime)
	}
	if len(final.Samples) != 3*TargetSampleRate {
		t.Errorf("Expected %d samples, got %d", 3*TargetSampleRate, len(final.Samples))
	}

	if again := w.Flush(); again != nil {
		t.Errorf("Second flush should return nil, got window [%f, %f]", again.StartTime, again.EndTime)
	}
}

func TestWindowerOverlapContinuity(t *testing.T) {
	// Consecutive full windows share OverlapDuration of audio: the second
	// starts one overlap before the first ends.
	w := NewWindower(WindowerConfig{})

	windows := feedInBuffers(w, tone(12*time.Second, 0.5), TargetSampleRate/10)
	if len(windows) != 2 {
		t.Fatalf("Expected 2 windows, got %d", len(windows))
	}

	if !approxEqual(windows[1].StartTime, windows[0].EndTime-1.0, 1e-9) {
		t.Errorf("Expected second window to start at %f, got %f",
			windows[0].EndTime-1.0, windows[1].StartTime)
	}
}

func TestWindowerSilenceEarlyCut(t *testing.T) {
	w := NewWindower(WindowerConfig{})

	speech := tone(time.Second, 0.5)
	silence := make([]float32, int(2.2*TargetSampleRate))

	var windows []Window
	windows = append(windows, feedInBuffers(w, speech, TargetSampleRate/10)...)
	windows = append(windows, feedInBuffers(w, silence, TargetSampleRate/10)...)

	if len(windows) != 1 {
		t.Fatalf("Expected 1 early-cut window, got %d", len(windows))
	}
	if !windows[0].EarlyCut {
		t.Errorf("Expected the window to be marked as an early cut")
	}
	if !approxEqual(windows[0].StartTime, 0.0, 1e-9) {
		t.Errorf("Expected window to start at 0, got %f", windows[0].StartTime)
	}

	stats := w.Stats()
	if stats.SilenceCuts != 1 {
		t.Errorf("Expected 1 silence cut in stats, got %d", stats.SilenceCuts)
	}
}

func TestWindowerQuietStartNoCut(t *testing.T) {
	// Less than a silence-duration of accumulated audio never triggers a cut,
	// even when it is entirely silent.
	w := NewWindower(WindowerConfig{})

	silence := make([]float32, int(1.9*TargetSampleRate))
	windows := feedInBuffers(w, silence, TargetSampleRate/10)

	if len(windows) != 0 {
		t.Errorf("Expected no windows for a quiet start, got %d", len(windows))
	}
}

func TestWindowerTimelineAfterEarlyCut(t *testing.T) {
	// An early cut consumes the whole buffer, so the next window starts where
	// the cut ended with no overlap.
	w := NewWindower(WindowerConfig{})

	speech := tone(time.Second, 0.5)
	silence := make([]float32, int(2.2*TargetSampleRate))

	feedInBuffers(w, speech, TargetSampleRate/10)
	cuts := feedInBuffers(w, silence, TargetSampleRate/10)
	if len(cuts) != 1 {
		t.Fatalf("Expected 1 early cut, got %d", len(cuts))
	}

	more := feedInBuffers(w, tone(5*time.Second, 0.5), TargetSampleRate/10)
	if len(more) != 1 {
		t.Fatalf("Expected 1 full window after the cut, got %d", len(more))
	}
	if !approxEqual(more[0].StartTime, cuts[0].EndTime, 1e-9) {
		t.Errorf("Expected next window to start at %f, got %f", cuts[0].EndTime, more[0].StartTime)
	}
}

func TestWindowerReset(t *testing.T) {
	w := NewWindower(WindowerConfig{})

	feedInBuffers(w, tone(3*time.Second, 0.5), TargetSampleRate/10)
	if w.BufferedSamples() == 0 {
		t.Fatal("Expected buffered samples before reset")
	}

	w.Reset()

	if w.BufferedSamples() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d samples", w.BufferedSamples())
	}

	stats := w.Stats()
	if stats.WindowsEmitted != 0 || stats.ProcessedSeconds != 0 {
		t.Errorf("Expected zeroed stats after reset, got %+v", stats)
	}
}

func TestWindowerCustomConfig(t *testing.T) {
	w := NewWindower(WindowerConfig{
		ChunkDuration:   2 * time.Second,
		OverlapDuration: 500 * time.Millisecond,
	})

	windows := feedInBuffers(w, tone(2*time.Second, 0.5), TargetSampleRate/10)
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window, got %d", len(windows))
	}
	if !approxEqual(windows[0].EndTime, 2.0, 1e-9) {
		t.Errorf("Expected window to end at 2.0, got %f", windows[0].EndTime)
	}
	if w.BufferedSamples() != TargetSampleRate/2 {
		t.Errorf("Expected %d overlap samples retained, got %d", TargetSampleRate/2, w.BufferedSamples())
	}
}
