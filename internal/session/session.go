package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qaid/whispertalk/internal/audio"
	"github.com/qaid/whispertalk/internal/capture"
	"github.com/qaid/whispertalk/internal/metrics"
	"github.com/qaid/whispertalk/internal/transcription"
)

// Config contains per-session pipeline configuration.
type Config struct {
	// DualSource enables sample-domain mixing of microphone and system audio
	// into one transcribed stream. This implementation deliberately uses the
	// mixing strategy rather than independent per-source streams: one
	// windower, one serialized transcription queue, no cross-stream merge.
	DualSource bool

	Windower audio.WindowerConfig
	Mixer    audio.MixerConfig

	// FeedQueueSize bounds the buffers queued between the capture callback
	// and the processing worker. Defaults to 64.
	FeedQueueSize int
}

// Stats represents session statistics for monitoring.
type Stats struct {
	ID             string              `json:"id"`
	State          string              `json:"state"`
	DualSource     bool                `json:"dual_source"`
	StartedAt      time.Time           `json:"started_at,omitempty"`
	LastActivity   time.Time           `json:"last_activity,omitempty"`
	Segments       int                 `json:"segments"`
	BuffersFed     uint64              `json:"buffers_fed"`
	BuffersDropped uint64              `json:"buffers_dropped"`
	WindowsFailed  uint64              `json:"windows_failed"`
	QueueDepth     int                 `json:"queue_depth"`
	Windower       audio.WindowerStats `json:"windower"`
	Mixer          *audio.MixerStats   `json:"mixer,omitempty"`
}

// Session is the state machine orchestrating one recording at a time. It owns
// all mutable pipeline state (rolling buffers, counters, segment store);
// callers observe it only through subscribers and the Stop snapshot.
//
// Feed is an O(1) enqueue so capture callbacks never block; normalization,
// mixing, windowing, and transcription dispatch run on worker goroutines.
type Session struct {
	ID          string
	logger      *slog.Logger
	transcriber transcription.Transcriber
	metrics     *metrics.Metrics
	config      Config

	state   State
	stateMu sync.Mutex

	store    *Store
	windower *audio.Windower
	mixer    *audio.Mixer

	feedChan chan feedBuffer
	queue    *windowQueue
	wg       sync.WaitGroup
	done     chan struct{}

	subscribers []Subscriber
	subMu       sync.RWMutex

	startedAt    time.Time
	lastActivity time.Time

	buffersFed     uint64
	buffersDropped uint64
	windowsFailed  uint64
}

// feedBuffer is one raw capture buffer handed off to the processing worker.
type feedBuffer struct {
	samples  []float32
	rate     int
	channels int
	source   capture.SourceTag
}

// New creates an idle session. The transcriber is required; metrics may be
// nil.
func New(logger *slog.Logger, transcriber transcription.Transcriber, m *metrics.Metrics, config Config) *Session {
	if config.FeedQueueSize <= 0 {
		config.FeedQueueSize = 64
	}

	return &Session{
		ID:          uuid.NewString(),
		logger:      logger,
		transcriber: transcriber,
		metrics:     m,
		config:      config,
		state:       StateIdle,
		store:       NewStore(),
	}
}

// Subscribe registers a subscriber for live segments and status messages.
func (s *Session) Subscribe(sub Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Start transitions Idle -> Recording: resets counters, clears any stale
// buffers, allocates a fresh segment store, and spawns the processing and
// transcription workers. Starting while already recording is a no-op.
func (s *Session) Start() {
	s.stateMu.Lock()
	if s.state != StateIdle {
		s.stateMu.Unlock()
		return
	}

	s.store = NewStore()
	s.windower = audio.NewWindower(s.config.Windower)
	if s.config.DualSource {
		s.mixer = audio.NewMixer(s.config.Mixer)
	} else {
		s.mixer = nil
	}

	s.feedChan = make(chan feedBuffer, s.config.FeedQueueSize)
	s.queue = newWindowQueue()
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	s.lastActivity = s.startedAt
	s.buffersFed = 0
	s.buffersDropped = 0
	s.windowsFailed = 0
	s.state = StateRecording
	s.stateMu.Unlock()

	s.wg.Add(2)
	go s.pump()
	go s.transcribeLoop()

	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}

	s.logger.Info("Session recording started",
		slog.String("session_id", s.ID),
		slog.Bool("dual_source", s.config.DualSource),
	)
	s.publishStatus("Recording")
}

// Feed hands one raw capture buffer to the session. It only enqueues; all
// processing happens on the worker. Buffers arriving while not recording are
// dropped silently, and a full queue drops the buffer rather than blocking
// the capture callback.
func (s *Session) Feed(samples []float32, sourceRate, channels int, source capture.SourceTag) {
	if len(samples) == 0 {
		return
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != StateRecording {
		return
	}

	s.lastActivity = time.Now()

	select {
	case s.feedChan <- feedBuffer{samples: samples, rate: sourceRate, channels: channels, source: source}:
		s.buffersFed++
		if s.metrics != nil {
			s.metrics.BuffersFed.Inc()
		}
	default:
		s.buffersDropped++
		if s.metrics != nil {
			s.metrics.BuffersDropped.Inc()
		}
	}
}

// OnSamples implements capture.SampleSink.
func (s *Session) OnSamples(samples []float32, sourceRate, channels int, source capture.SourceTag) {
	s.Feed(samples, sourceRate, channels, source)
}

// Stop transitions Recording -> Finalizing -> Idle: flushes the windower,
// waits for every queued and in-flight transcription (including the final
// flush window) to complete or fail, then returns the finalized store. No
// segment is appended after the returned snapshot; a concurrent Stop that
// arrives during finalization waits for it to complete before returning.
// Stopping while idle is a no-op returning the previous store.
func (s *Session) Stop() *Store {
	s.stateMu.Lock()
	if s.state == StateIdle {
		store := s.store
		s.stateMu.Unlock()
		return store
	}
	if s.state == StateFinalizing {
		done := s.done
		s.stateMu.Unlock()
		<-done

		s.stateMu.Lock()
		store := s.store
		s.stateMu.Unlock()
		return store
	}

	s.state = StateFinalizing
	close(s.feedChan)
	started := s.startedAt
	done := s.done
	s.stateMu.Unlock()

	s.publishStatus("Finalizing")
	s.wg.Wait()

	s.stateMu.Lock()
	s.state = StateIdle
	store := s.store
	s.stateMu.Unlock()
	close(done)

	s.logger.Info("Session finalized",
		slog.String("session_id", s.ID),
		slog.Int("segments", store.Len()),
		slog.Duration("duration", time.Since(started)),
	)

	return store
}

// pump drains the feed queue: normalizes each buffer to 16 kHz mono, routes
// it through the mixer in dual-source mode, and feeds the windower. After the
// feed channel closes it drains the mixer backlog, flushes the windower, and
// closes the transcription queue.
func (s *Session) pump() {
	defer s.wg.Done()

	lastSource := capture.SourceTag(capture.SourceMicrophone)
	var mixerDropsSeen int64

	for buf := range s.feedChan {
		normalized := audio.Normalize(buf.samples, buf.rate, buf.channels)
		if len(normalized) == 0 {
			continue
		}

		source := buf.source
		if s.config.DualSource {
			if buf.source == capture.SourceSystemAudio {
				s.mixer.PushSecondary(normalized)
				s.recordMixerDrops(&mixerDropsSeen)
				continue
			}
			normalized = s.mixer.MixPrimary(normalized)
			s.recordMixerDrops(&mixerDropsSeen)
			source = capture.SourceMixed
		}

		lastSource = source
		for _, win := range s.windower.Feed(normalized) {
			s.enqueueWindow(win, source)
		}
	}

	if s.config.DualSource {
		if tail := s.mixer.DrainBacklog(); len(tail) > 0 {
			lastSource = capture.SourceMixed
			for _, win := range s.windower.Feed(tail) {
				s.enqueueWindow(win, capture.SourceMixed)
			}
		}
	}

	if win := s.windower.Flush(); win != nil {
		s.enqueueWindow(*win, lastSource)
	}

	s.queue.close()
}

// recordMixerDrops forwards newly dropped secondary samples to the metric,
// tracking the last observed total in seen.
func (s *Session) recordMixerDrops(seen *int64) {
	if s.metrics == nil {
		return
	}
	if dropped := s.mixer.Stats().Dropped; dropped > *seen {
		s.metrics.MixerDropped.Add(float64(dropped - *seen))
		*seen = dropped
	}
}

func (s *Session) enqueueWindow(win audio.Window, source capture.SourceTag) {
	if s.metrics != nil {
		s.metrics.WindowsEmitted.Inc()
		if win.EarlyCut {
			s.metrics.SilenceCuts.Inc()
		}
	}
	s.queue.push(queuedWindow{window: win, source: source})
}

// transcribeLoop serializes transcription: one in-flight call at a time, in
// FIFO order. A failed window's audio is discarded and the loop continues;
// a single bad chunk never halts the stream.
func (s *Session) transcribeLoop() {
	defer s.wg.Done()

	for {
		item, ok := s.queue.pop()
		if !ok {
			return
		}

		s.publishStatus("Transcribing…")

		start := time.Now()
		text, err := s.transcriber.Transcribe(context.Background(), item.window.Samples)
		if s.metrics != nil {
			s.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
		}

		if err != nil {
			s.stateMu.Lock()
			s.windowsFailed++
			s.stateMu.Unlock()
			if s.metrics != nil {
				s.metrics.TranscriptionFailures.Inc()
			}

			s.logger.Warn("Transcription failed, window discarded",
				slog.String("session_id", s.ID),
				slog.Float64("window_start", item.window.StartTime),
				slog.String("error", err.Error()),
			)
			s.publishStatus("Transcription error: " + err.Error())
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		segment := Segment{
			Text:       text,
			StartTime:  item.window.StartTime,
			EndTime:    item.window.EndTime,
			CapturedAt: time.Now(),
			Source:     item.source,
		}

		s.store.Append(segment)
		if s.metrics != nil {
			s.metrics.SegmentsProduced.Inc()
		}

		s.logger.Debug("Segment appended",
			slog.String("session_id", s.ID),
			slog.Float64("start", segment.StartTime),
			slog.Float64("end", segment.EndTime),
			slog.String("source", segment.Source.String()),
		)

		s.publishSegment(segment)
	}
}

func (s *Session) publishSegment(segment Segment) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers {
		sub.OnSegment(segment)
	}
}

func (s *Session) publishStatus(message string) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscribers {
		sub.OnStatus(message)
	}
}

// Store returns the session's segment store. Live readers should prefer the
// subscriber callbacks; the store is authoritative only after Stop.
func (s *Session) Store() *Store {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.store
}

// StartedAt returns when the current recording began; zero while the session
// has never recorded.
func (s *Session) StartedAt() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.startedAt
}

// LastActivity returns the time of the most recent fed buffer.
func (s *Session) LastActivity() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastActivity
}

// GetStats returns current session statistics.
func (s *Session) GetStats() Stats {
	s.stateMu.Lock()
	state := s.state
	startedAt := s.startedAt
	lastActivity := s.lastActivity
	fed := s.buffersFed
	dropped := s.buffersDropped
	failed := s.windowsFailed
	windower := s.windower
	mixer := s.mixer
	queue := s.queue
	store := s.store
	s.stateMu.Unlock()

	stats := Stats{
		ID:             s.ID,
		State:          state.String(),
		DualSource:     s.config.DualSource,
		StartedAt:      startedAt,
		LastActivity:   lastActivity,
		Segments:       store.Len(),
		BuffersFed:     fed,
		BuffersDropped: dropped,
		WindowsFailed:  failed,
	}

	if windower != nil {
		stats.Windower = windower.Stats()
	}
	if mixer != nil {
		ms := mixer.Stats()
		stats.Mixer = &ms
	}
	if queue != nil {
		stats.QueueDepth = queue.depth()
	}

	return stats
}
