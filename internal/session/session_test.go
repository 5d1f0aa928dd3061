package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/qaid/whispertalk/internal/audio"
	"github.com/qaid/whispertalk/internal/capture"
	"github.com/qaid/whispertalk/internal/metrics"
	"github.com/qaid/whispertalk/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTranscriber counts calls and tracks concurrency; fn overrides the
// returned text per call.
type fakeTranscriber struct {
	fn func(call int, samples []float32) (string, error)

	calls         atomic.Int64
	inFlight      atomic.Int64
	maxConcurrent atomic.Int64
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	call := f.calls.Add(1)

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxConcurrent.Load()
		if cur <= seen || f.maxConcurrent.CompareAndSwap(seen, cur) {
			break
		}
	}

	time.Sleep(time.Millisecond)

	if f.fn != nil {
		return f.fn(int(call), samples)
	}
	return fmt.Sprintf("segment %d", call), nil
}

// recordingSubscriber captures published segments and statuses.
type recordingSubscriber struct {
	mu       sync.Mutex
	segments []Segment
	statuses []string
}

func (r *recordingSubscriber) OnSegment(segment Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, segment)
}

func (r *recordingSubscriber) OnStatus(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, message)
}

func (r *recordingSubscriber) snapshot() ([]Segment, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	segments := make([]Segment, len(r.segments))
	copy(segments, r.segments)
	statuses := make([]string, len(r.statuses))
	copy(statuses, r.statuses)
	return segments, statuses
}

func testTone(d time.Duration) []float32 {
	n := int(d.Seconds() * audio.TargetSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/audio.TargetSampleRate))
	}
	return samples
}

func feedTone(s *Session, d time.Duration, source capture.SourceTag) {
	samples := testTone(d)
	bufSize := audio.TargetSampleRate / 10
	for start := 0; start < len(samples); start += bufSize {
		end := start + bufSize
		if end > len(samples) {
			end = len(samples)
		}
		s.Feed(samples[start:end], audio.TargetSampleRate, 1, source)
	}
}

func TestSessionSevenSecondTone(t *testing.T) {
	transcriber := &fakeTranscriber{}
	s := New(testLogger(), transcriber, nil, Config{FeedQueueSize: 256})

	s.Start()
	feedTone(s, 7*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	segments := store.Segments()
	if len(segments) != 2 {
		t.Fatalf("Expected exactly 2 segments for a 7s tone, got %d", len(segments))
	}

	if segments[0].StartTime != 0 || segments[0].EndTime != 5 {
		t.Errorf("First segment: expected [0, 5], got [%f, %f]",
			segments[0].StartTime, segments[0].EndTime)
	}
	if segments[1].StartTime != 4 || segments[1].EndTime != 7 {
		t.Errorf("Second segment: expected [4, 7], got [%f, %f]",
			segments[1].StartTime, segments[1].EndTime)
	}

	if s.State() != StateIdle {
		t.Errorf("Expected idle state after stop, got %s", s.State())
	}
}

func TestSessionEmptyStop(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{})

	s.Start()
	store := s.Stop()

	if store.Len() != 0 {
		t.Errorf("Expected no segments without audio, got %d", store.Len())
	}
}

func TestSessionStartIdempotent(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{FeedQueueSize: 256})

	s.Start()
	s.Start() // must not reset the running pipeline

	feedTone(s, 2*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	if store.Len() != 1 {
		t.Errorf("Expected 1 flush segment, got %d", store.Len())
	}
}

func TestSessionStopIdempotent(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{FeedQueueSize: 256})

	s.Start()
	feedTone(s, 2*time.Second, capture.SourceMicrophone)
	first := s.Stop()
	second := s.Stop()

	if first != second {
		t.Errorf("Second stop should return the same store")
	}
}

func TestSessionConcurrentStop(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{FeedQueueSize: 256})

	s.Start()
	feedTone(s, 7*time.Second, capture.SourceMicrophone)

	// Both stops must block until finalization completes, so neither can
	// observe segments appended after its returned snapshot.
	var wg sync.WaitGroup
	stores := make([]*Store, 2)
	lengths := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = s.Stop()
			lengths[i] = stores[i].Len()
		}(i)
	}
	wg.Wait()

	if stores[0] != stores[1] {
		t.Fatalf("Concurrent stops returned different stores")
	}
	final := stores[0].Len()
	for i, n := range lengths {
		if n != final {
			t.Errorf("Stop %d observed %d segments at return, store has %d", i, n, final)
		}
	}
	if s.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", s.State())
	}
}

func TestSessionStartedAtTracksRecording(t *testing.T) {
	echo := transcription.Func(func(ctx context.Context, samples []float32) (string, error) {
		return "ok", nil
	})
	s := New(testLogger(), echo, nil, Config{})

	if !s.StartedAt().IsZero() {
		t.Errorf("Expected zero start time before recording, got %v", s.StartedAt())
	}

	before := time.Now()
	s.Start()
	started := s.StartedAt()
	if started.Before(before) {
		t.Errorf("Expected start time at or after %v, got %v", before, started)
	}
	s.Stop()

	if got := s.StartedAt(); !got.Equal(started) {
		t.Errorf("Expected start time unchanged after stop, got %v", got)
	}
}

func TestSessionFeedWhileIdleDropped(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{})

	s.Feed(testTone(time.Second), audio.TargetSampleRate, 1, capture.SourceMicrophone)

	stats := s.GetStats()
	if stats.BuffersFed != 0 {
		t.Errorf("Expected no buffers accepted while idle, got %d", stats.BuffersFed)
	}
	if s.Store().Len() != 0 {
		t.Errorf("Expected no segments, got %d", s.Store().Len())
	}
}

func TestSessionSerializedTranscription(t *testing.T) {
	transcriber := &fakeTranscriber{}
	s := New(testLogger(), transcriber, nil, Config{FeedQueueSize: 512})

	s.Start()
	feedTone(s, 22*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	if transcriber.maxConcurrent.Load() > 1 {
		t.Errorf("Expected serialized transcription, saw %d concurrent calls",
			transcriber.maxConcurrent.Load())
	}

	// FIFO dispatch means segment start times are strictly increasing.
	segments := store.Segments()
	if len(segments) < 4 {
		t.Fatalf("Expected several segments for a 22s tone, got %d", len(segments))
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTime <= segments[i-1].StartTime {
			t.Errorf("Segment %d out of order: %f after %f",
				i, segments[i].StartTime, segments[i-1].StartTime)
		}
	}
}

func TestSessionTranscriptionErrorDiscardsWindow(t *testing.T) {
	transcriber := &fakeTranscriber{
		fn: func(call int, samples []float32) (string, error) {
			if call == 1 {
				return "", fmt.Errorf("service unavailable")
			}
			return "recovered", nil
		},
	}

	sub := &recordingSubscriber{}
	s := New(testLogger(), transcriber, nil, Config{FeedQueueSize: 256})
	s.Subscribe(sub)

	s.Start()
	feedTone(s, 7*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	// The first window fails and is discarded; the flush window survives.
	segments := store.Segments()
	if len(segments) != 1 {
		t.Fatalf("Expected 1 surviving segment, got %d", len(segments))
	}
	if segments[0].Text != "recovered" {
		t.Errorf("Expected recovered text, got %q", segments[0].Text)
	}

	stats := s.GetStats()
	if stats.WindowsFailed != 1 {
		t.Errorf("Expected 1 failed window, got %d", stats.WindowsFailed)
	}

	_, statuses := sub.snapshot()
	var sawError bool
	for _, status := range statuses {
		if strings.HasPrefix(status, "Transcription error") {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("Expected an error status to be published, got %v", statuses)
	}
}

func TestSessionEmptyTextSkipped(t *testing.T) {
	transcriber := &fakeTranscriber{
		fn: func(call int, samples []float32) (string, error) {
			return "   ", nil
		},
	}

	s := New(testLogger(), transcriber, nil, Config{FeedQueueSize: 256})

	s.Start()
	feedTone(s, 2*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	if store.Len() != 0 {
		t.Errorf("Expected whitespace-only text to be skipped, got %d segments", store.Len())
	}
	if transcriber.calls.Load() == 0 {
		t.Errorf("Expected the transcriber to have been called")
	}
}

func TestSessionSubscriberReceivesSegments(t *testing.T) {
	sub := &recordingSubscriber{}
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{FeedQueueSize: 256})
	s.Subscribe(sub)

	s.Start()
	feedTone(s, 7*time.Second, capture.SourceMicrophone)
	store := s.Stop()

	segments, statuses := sub.snapshot()
	if len(segments) != store.Len() {
		t.Errorf("Subscriber saw %d segments, store has %d", len(segments), store.Len())
	}

	var sawRecording, sawFinalizing bool
	for _, status := range statuses {
		switch status {
		case "Recording":
			sawRecording = true
		case "Finalizing":
			sawFinalizing = true
		}
	}
	if !sawRecording || !sawFinalizing {
		t.Errorf("Expected Recording and Finalizing statuses, got %v", statuses)
	}
}

func TestSessionDualSourceProducesMixedSegments(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{
		DualSource:    true,
		FeedQueueSize: 512,
	})

	s.Start()

	// Interleave microphone and system buffers as a capture layer would.
	mic := testTone(7 * time.Second)
	system := testTone(7 * time.Second)
	bufSize := audio.TargetSampleRate / 10
	for start := 0; start < len(mic); start += bufSize {
		end := start + bufSize
		if end > len(mic) {
			end = len(mic)
		}
		s.Feed(system[start:end], audio.TargetSampleRate, 1, capture.SourceSystemAudio)
		s.Feed(mic[start:end], audio.TargetSampleRate, 1, capture.SourceMicrophone)
	}

	store := s.Stop()

	segments := store.Segments()
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	for i, seg := range segments {
		if seg.Source != capture.SourceMixed {
			t.Errorf("Segment %d: expected mixed source, got %s", i, seg.Source)
		}
	}
}

func TestSessionLateSecondaryRecordedInMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	s := New(testLogger(), &fakeTranscriber{}, m, Config{
		DualSource:    true,
		FeedQueueSize: 256,
	})

	s.Start()

	// Primary first: its span is zero-filled, so the same span of system
	// audio arriving afterwards is late and gets dropped.
	s.Feed(testTone(time.Second), audio.TargetSampleRate, 1, capture.SourceMicrophone)
	s.Feed(testTone(time.Second), audio.TargetSampleRate, 1, capture.SourceSystemAudio)
	s.Stop()

	stats := s.GetStats()
	if stats.Mixer == nil || stats.Mixer.Dropped == 0 {
		t.Fatalf("Expected dropped secondary samples, got %+v", stats.Mixer)
	}
	if got := testutil.ToFloat64(m.MixerDropped); got != float64(stats.Mixer.Dropped) {
		t.Errorf("Expected mixer drop counter %d, got %f", stats.Mixer.Dropped, got)
	}
}

func TestSessionRestartClearsStore(t *testing.T) {
	s := New(testLogger(), &fakeTranscriber{}, nil, Config{FeedQueueSize: 256})

	s.Start()
	feedTone(s, 2*time.Second, capture.SourceMicrophone)
	first := s.Stop()
	if first.Len() == 0 {
		t.Fatal("Expected segments from the first recording")
	}

	s.Start()
	second := s.Stop()

	if second.Len() != 0 {
		t.Errorf("Expected a fresh store on restart, got %d segments", second.Len())
	}
	if first.Len() == 0 {
		t.Errorf("Earlier snapshot must be unaffected by restart")
	}
}
