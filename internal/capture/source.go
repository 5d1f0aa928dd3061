package capture

import "fmt"

// Capture source tags, matching the wire protocol's source field.
const (
	SourceMicrophone  = 0x01
	SourceSystemAudio = 0x02

	// SourceMixed tags segments produced from the blended dual-source signal,
	// where per-device attribution no longer exists.
	SourceMixed = 0x03
)

// SourceTag identifies which capture device produced a buffer or segment.
type SourceTag uint8

// String returns a human-readable name for the source.
func (t SourceTag) String() string {
	switch t {
	case SourceMicrophone:
		return "microphone"
	case SourceSystemAudio:
		return "system"
	case SourceMixed:
		return "mixed"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Valid reports whether the tag names a known capture source.
func (t SourceTag) Valid() bool {
	return t == SourceMicrophone || t == SourceSystemAudio
}

// SampleSink receives raw capture buffers as they arrive. Implementations
// must not block: capture callbacks run on real-time audio threads and a
// delayed return corrupts capture. The sample rate and channel count are
// announced once per session and repeated on every push for convenience.
type SampleSink interface {
	OnSamples(samples []float32, sourceRate, channels int, source SourceTag)
}

// Source is a thin adapter around one capture device. Both concrete devices
// (microphone, system loopback) satisfy the same contract; the pipeline never
// distinguishes them beyond the tag.
type Source interface {
	// Start begins pushing buffers into the sink until Stop is called.
	Start(sink SampleSink) error
	// Stop halts capture. A stalled or disconnected source is treated as
	// silence by the pipeline, never as a fatal error.
	Stop() error
	// Tag identifies which device this source wraps.
	Tag() SourceTag
}
