package session

import (
	"strings"
	"sync"
)

// Store is the insertion-ordered, append-only log of segments produced by one
// session. Derived views never expose the underlying slice.
type Store struct {
	segments []Segment
	mu       sync.RWMutex
}

// NewStore creates an empty segment store.
func NewStore() *Store {
	return &Store{segments: make([]Segment, 0, 32)}
}

// Append adds a segment to the end of the log.
func (s *Store) Append(segment Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, segment)
}

// Segments returns a copy of the segment log in append order.
func (s *Store) Segments() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len returns the number of stored segments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Transcript returns the concatenated plain-text transcript.
func (s *Store) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// TimestampedTranscript returns the newline-joined transcript with each
// segment's time span.
func (s *Store) TimestampedTranscript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		lines = append(lines, seg.timestampLine())
	}

	return strings.Join(lines, "\n")
}

// Clear removes all segments; used on session reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = s.segments[:0]
}
