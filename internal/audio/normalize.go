package audio

import "math"

// TargetSampleRate is the sample rate every downstream component operates at.
// No component past Normalize may observe any other rate.
const TargetSampleRate = 16000

// NormalizedPeak is the amplitude every normalized buffer is scaled to.
const NormalizedPeak = 0.9

// Normalize converts arbitrary-rate multi-channel PCM into mono float samples
// at TargetSampleRate, peak-normalized to NormalizedPeak. Channels are
// averaged per frame with equal weight, then resampled by linear
// interpolation between neighboring source samples. The resampler is not
// band-limited and does not anti-alias across buffer boundaries; this is a
// deliberate latency/accuracy tradeoff. Stateless over each buffer.
func Normalize(samples []float32, sourceRate, channels int) []float32 {
	if len(samples) == 0 || sourceRate <= 0 || channels <= 0 {
		return nil
	}

	mono := downmix(samples, channels)
	resampled := resample(mono, sourceRate)
	peakNormalize(resampled)

	return resampled
}

// downmix averages interleaved channels into a mono signal. Trailing partial
// frames are discarded.
func downmix(samples []float32, channels int) []float32 {
	if channels == 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}

	return mono
}

// resample converts mono samples from sourceRate to TargetSampleRate using
// linear interpolation. Output length is floor(len * target/source).
func resample(mono []float32, sourceRate int) []float32 {
	if sourceRate == TargetSampleRate {
		return mono
	}

	ratio := float64(TargetSampleRate) / float64(sourceRate)
	outLen := int(float64(len(mono)) * ratio)
	if outLen == 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx+1 < len(mono) {
			out[i] = float32(float64(mono[idx])*(1-frac) + float64(mono[idx+1])*frac)
		} else {
			out[i] = mono[len(mono)-1]
		}
	}

	return out
}

// peakNormalize scales samples in place so the peak magnitude equals
// NormalizedPeak. A silent buffer (zero peak) is left untouched.
func peakNormalize(samples []float32) {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return
	}

	scale := NormalizedPeak / peak
	for i := range samples {
		samples[i] *= scale
	}
}

// RMS returns the root-mean-square energy of the samples, the measure used
// for silence detection.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
