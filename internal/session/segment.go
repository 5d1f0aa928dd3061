package session

import (
	"fmt"
	"time"

	"github.com/qaid/whispertalk/internal/capture"
)

// Segment is one unit of transcribed text with its time span. Start and end
// times are seconds relative to session start, derived from cumulative
// processed-sample counts rather than wall-clock deltas, so they stay correct
// under processing jitter. Immutable once appended.
type Segment struct {
	Text         string            `json:"text"`
	StartTime    float64           `json:"start_time"`
	EndTime      float64           `json:"end_time"`
	CapturedAt   time.Time         `json:"captured_at"`
	Source       capture.SourceTag `json:"source"`
	SpeakerLabel string            `json:"speaker_label,omitempty"`
}

// timestampLine formats the segment the way the timestamped transcript view
// renders it.
func (s Segment) timestampLine() string {
	return fmt.Sprintf("[%.1fs - %.1fs] %s", s.StartTime, s.EndTime, s.Text)
}

// State represents the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Subscriber receives live pipeline output for progressive display. Segments
// are delivered in append order; status messages are advisory text, never
// control flow.
type Subscriber interface {
	OnSegment(segment Segment)
	OnStatus(message string)
}
