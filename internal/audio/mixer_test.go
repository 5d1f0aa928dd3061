package audio

import (
	"math"
	"testing"
	"time"
)

func constant(value float32, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func sine(amplitude, freq float64, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/TargetSampleRate))
	}
	return samples
}

// expectMixedCurve asserts out matches the weighted tanh curve of the inputs,
// scaled so the curve's peak lands on NormalizedPeak. A nil secondary means
// that stream was silent.
func expectMixedCurve(t *testing.T, out, primary, secondary []float32) {
	t.Helper()

	expected := make([]float64, len(primary))
	peak := 0.0
	for i, p := range primary {
		sum := DefaultPrimaryWeight * float64(p)
		if secondary != nil {
			sum += DefaultSecondaryWeight * float64(secondary[i])
		}
		expected[i] = math.Tanh(sum)
		if a := math.Abs(expected[i]); a > peak {
			peak = a
		}
	}

	scale := NormalizedPeak / peak
	for i := range expected {
		if !approxEqual(float64(out[i]), expected[i]*scale, 1e-5) {
			t.Fatalf("Sample %d: expected %f, got %f", i, expected[i]*scale, out[i])
		}
	}
}

func TestMixerZeroFillsMissingSecondary(t *testing.T) {
	m := NewMixer(MixerConfig{})

	out := m.MixPrimary(constant(0.5, 160))
	if len(out) != 160 {
		t.Fatalf("Expected 160 samples, got %d", len(out))
	}

	// With no secondary audio every sample is pure primary; the constant
	// signal peak-normalizes to NormalizedPeak.
	for i, s := range out {
		if !approxEqual(float64(s), NormalizedPeak, 1e-6) {
			t.Fatalf("Sample %d: expected %f, got %f", i, NormalizedPeak, s)
		}
	}

	stats := m.Stats()
	if stats.ZeroFilled != 160 {
		t.Errorf("Expected 160 zero-filled samples, got %d", stats.ZeroFilled)
	}
	if stats.PrimarySamples != 160 {
		t.Errorf("Expected 160 primary samples, got %d", stats.PrimarySamples)
	}
}

func TestMixerBlendsBothStreams(t *testing.T) {
	m := NewMixer(MixerConfig{})

	m.PushSecondary(constant(0.5, 160))
	out := m.MixPrimary(constant(0.5, 160))

	// Both streams constant means the mixed signal is constant, so it
	// normalizes flat to NormalizedPeak with nothing zero-filled.
	for i, s := range out {
		if !approxEqual(float64(s), NormalizedPeak, 1e-6) {
			t.Fatalf("Sample %d: expected %f, got %f", i, NormalizedPeak, s)
		}
	}

	stats := m.Stats()
	if stats.ZeroFilled != 0 {
		t.Errorf("Expected no zero-filled samples, got %d", stats.ZeroFilled)
	}
	if stats.Backlog != 0 {
		t.Errorf("Expected empty backlog, got %d", stats.Backlog)
	}
}

func TestMixerPartialSecondary(t *testing.T) {
	m := NewMixer(MixerConfig{})

	m.PushSecondary(constant(0.5, 100))
	out := m.MixPrimary(constant(0.5, 160))

	if len(out) != 160 {
		t.Fatalf("Expected 160 samples, got %d", len(out))
	}

	stats := m.Stats()
	if stats.ZeroFilled != 60 {
		t.Errorf("Expected 60 zero-filled samples, got %d", stats.ZeroFilled)
	}

	// The mixed region is louder than the primary-only tail.
	if out[0] <= out[159] {
		t.Errorf("Expected mixed region louder than zero-filled tail: %f vs %f", out[0], out[159])
	}
}

func TestMixerDropsLateSecondary(t *testing.T) {
	m := NewMixer(MixerConfig{})

	// The primary clock has already consumed 160 samples, zero-filling them.
	m.MixPrimary(constant(0.5, 160))

	// Secondary audio for that span arrives late and must be dropped, not
	// spliced in out of position.
	m.PushSecondary(constant(0.5, 100))

	stats := m.Stats()
	if stats.Dropped != 100 {
		t.Errorf("Expected 100 dropped samples, got %d", stats.Dropped)
	}
	if stats.Backlog != 0 {
		t.Errorf("Expected empty backlog, got %d", stats.Backlog)
	}
}

func TestMixerPartiallyLateSecondary(t *testing.T) {
	m := NewMixer(MixerConfig{})

	m.MixPrimary(constant(0.5, 100))

	// 150 samples spanning the already-consumed region and beyond: the first
	// 100 are late, the remaining 50 queue for the next mix.
	m.PushSecondary(constant(0.5, 150))

	stats := m.Stats()
	if stats.Dropped != 100 {
		t.Errorf("Expected 100 dropped samples, got %d", stats.Dropped)
	}
	if stats.Backlog != 50 {
		t.Errorf("Expected 50 backlog samples, got %d", stats.Backlog)
	}
}

func TestMixerBacklogTrim(t *testing.T) {
	// MaxLag of 10ms at 16 kHz keeps at most 160 secondary samples queued.
	m := NewMixer(MixerConfig{
		SampleRate: TargetSampleRate,
		MaxLag:     10 * time.Millisecond,
	})

	m.PushSecondary(constant(0.5, 500))

	stats := m.Stats()
	if stats.Backlog != 160 {
		t.Errorf("Expected backlog trimmed to 160, got %d", stats.Backlog)
	}
	if stats.Dropped != 340 {
		t.Errorf("Expected 340 dropped samples, got %d", stats.Dropped)
	}
}

func TestMixerDrainBacklog(t *testing.T) {
	m := NewMixer(MixerConfig{})

	m.PushSecondary(constant(0.5, 100))

	out := m.DrainBacklog()
	if len(out) != 100 {
		t.Fatalf("Expected 100 drained samples, got %d", len(out))
	}
	for i, s := range out {
		if !approxEqual(float64(s), NormalizedPeak, 1e-6) {
			t.Fatalf("Sample %d: expected %f, got %f", i, NormalizedPeak, s)
		}
	}

	if again := m.DrainBacklog(); again != nil {
		t.Errorf("Expected nil on second drain, got %d samples", len(again))
	}

	if stats := m.Stats(); stats.Backlog != 0 {
		t.Errorf("Expected empty backlog after drain, got %d", stats.Backlog)
	}
}

func TestMixerSineAgainstSilenceFollowsSoftClipCurve(t *testing.T) {
	m := NewMixer(MixerConfig{})

	// A sine, unlike a constant, exposes both the primary weight and the
	// tanh compression: each sample must equal tanh(0.8*x) rescaled so the
	// curve peaks at NormalizedPeak.
	input := sine(0.5, 440, 1600)
	out := m.MixPrimary(input)
	if len(out) != len(input) {
		t.Fatalf("Expected %d samples, got %d", len(input), len(out))
	}

	expectMixedCurve(t, out, input, nil)
}

func TestMixerSineBlendWeights(t *testing.T) {
	m := NewMixer(MixerConfig{})

	primary := sine(0.5, 440, 1600)
	secondary := sine(0.4, 330, 1600)

	m.PushSecondary(append([]float32(nil), secondary...))
	out := m.MixPrimary(primary)

	expectMixedCurve(t, out, primary, secondary)
}

func TestMixerOutputBounded(t *testing.T) {
	// Even with both streams at full scale the tanh soft clip plus
	// normalization keeps output within NormalizedPeak.
	m := NewMixer(MixerConfig{})

	m.PushSecondary(constant(1.0, 160))
	out := m.MixPrimary(constant(1.0, 160))

	for i, s := range out {
		if s > NormalizedPeak+1e-6 || s < -NormalizedPeak-1e-6 {
			t.Fatalf("Sample %d out of range: %f", i, s)
		}
	}
}
