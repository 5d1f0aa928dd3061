package audio

import (
	"math"
	"sync"
	"time"
)

// Default mixing parameters. The microphone weight favors the local speaker
// over system playback.
const (
	DefaultPrimaryWeight   = 0.8
	DefaultSecondaryWeight = 0.7
	DefaultMaxLag          = 10 * time.Second
)

// MixerConfig contains sample-domain mixing parameters. Zero values fall
// back to the package defaults.
type MixerConfig struct {
	SampleRate      int
	PrimaryWeight   float64 // microphone
	SecondaryWeight float64 // system audio
	MaxLag          time.Duration
}

// MixerStats represents mixer statistics for monitoring.
type MixerStats struct {
	PrimarySamples   int64 `json:"primary_samples"`
	SecondarySamples int64 `json:"secondary_samples"`
	ZeroFilled       int64 `json:"zero_filled_samples"`
	Dropped          int64 `json:"dropped_samples"`
	Backlog          int   `json:"secondary_backlog_samples"`
}

// Mixer blends two normalized streams in the sample domain. The primary
// stream (microphone) drives the output clock: each primary buffer pulls the
// temporally corresponding slice out of the secondary stream's accumulating
// buffer using a running consumed-sample offset. A secondary source that has
// not yet produced enough samples is zero-filled, so a stalled source reads
// as silence and never blocks the pipeline. Samples are mixed by weighted
// sum, soft-clipped with tanh, then peak-normalized.
//
// Secondary samples that arrive after their slot was already zero-filled, or
// that back up past MaxLag behind the primary clock, are dropped and counted
// rather than silently misaligning the streams.
type Mixer struct {
	primaryWeight   float64
	secondaryWeight float64
	maxLagSamples   int

	pending  []float32 // secondary samples from the consumed offset onward
	consumed int64     // secondary timeline position the primary clock has reached
	received int64     // total secondary samples pushed

	primaryTotal int64
	zeroFilled   int64
	dropped      int64

	mu sync.Mutex
}

// NewMixer creates a sample-domain mixer, applying package defaults for
// zero-valued fields.
func NewMixer(config MixerConfig) *Mixer {
	if config.SampleRate <= 0 {
		config.SampleRate = TargetSampleRate
	}
	if config.PrimaryWeight <= 0 {
		config.PrimaryWeight = DefaultPrimaryWeight
	}
	if config.SecondaryWeight <= 0 {
		config.SecondaryWeight = DefaultSecondaryWeight
	}
	if config.MaxLag <= 0 {
		config.MaxLag = DefaultMaxLag
	}

	return &Mixer{
		primaryWeight:   config.PrimaryWeight,
		secondaryWeight: config.SecondaryWeight,
		maxLagSamples:   int(config.MaxLag.Seconds() * float64(config.SampleRate)),
	}
}

// PushSecondary appends secondary-stream samples. Samples whose slot in the
// primary timeline was already consumed (zero-filled) are dropped, as is any
// backlog beyond the configured lag tolerance.
func (m *Mixer) PushSecondary(samples []float32) {
	if len(samples) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Late arrivals for an already zero-filled region.
	if late := m.consumed - m.received; late > 0 {
		if late >= int64(len(samples)) {
			m.dropped += int64(len(samples))
			m.received += int64(len(samples))
			return
		}
		m.dropped += late
		m.received += late
		samples = samples[late:]
	}

	m.pending = append(m.pending, samples...)
	m.received += int64(len(samples))

	// The primary source stalled: keep only the most recent maxLag of
	// secondary audio so a restart resumes roughly aligned.
	if excess := len(m.pending) - m.maxLagSamples; excess > 0 {
		m.pending = m.pending[:copy(m.pending, m.pending[excess:])]
		m.consumed += int64(excess)
		m.dropped += int64(excess)
	}
}

// MixPrimary blends a primary-stream buffer with the temporally
// corresponding secondary slice and returns the mixed signal, peak-normalized
// to NormalizedPeak. The secondary offset always advances by the full primary
// length, zero-filling whatever the secondary has not produced yet.
func (m *Mixer) MixPrimary(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}

	m.mu.Lock()

	n := len(samples)
	avail := len(m.pending)
	if avail > n {
		avail = n
	}

	out := make([]float32, n)
	for i := 0; i < n; i++ {
		p := float64(samples[i]) * m.primaryWeight
		var s float64
		if i < avail {
			s = float64(m.pending[i]) * m.secondaryWeight
		}
		// Soft clip: tanh compresses summed peaks instead of hard-clipping.
		out[i] = float32(math.Tanh(p + s))
	}

	m.pending = m.pending[:copy(m.pending, m.pending[avail:])]
	m.consumed += int64(n)
	m.zeroFilled += int64(n - avail)
	m.primaryTotal += int64(n)

	m.mu.Unlock()

	peakNormalize(out)
	return out
}

// DrainBacklog consumes whatever secondary audio is still pending as if the
// primary stream were silent, so trailing system audio after the microphone
// stops is not lost at finalization. Returns nil when nothing is pending.
func (m *Mixer) DrainBacklog() []float32 {
	m.mu.Lock()

	if len(m.pending) == 0 {
		m.mu.Unlock()
		return nil
	}

	out := make([]float32, len(m.pending))
	for i, s := range m.pending {
		out[i] = float32(math.Tanh(float64(s) * m.secondaryWeight))
	}

	m.consumed += int64(len(m.pending))
	m.pending = m.pending[:0]

	m.mu.Unlock()

	peakNormalize(out)
	return out
}

// Stats returns current mixer statistics.
func (m *Mixer) Stats() MixerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MixerStats{
		PrimarySamples:   m.primaryTotal,
		SecondarySamples: m.received,
		ZeroFilled:       m.zeroFilled,
		Dropped:          m.dropped,
		Backlog:          len(m.pending),
	}
}
