package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/qaid/whispertalk/internal/metrics"
	"github.com/qaid/whispertalk/internal/transcription"
)

// Publisher receives finalized transcripts for downstream consumers (e.g.
// the note-taking post-processor). Failures are logged, never fatal.
type Publisher interface {
	PublishTranscript(ctx context.Context, sessionID string, store *Store) error
}

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	// Session is the pipeline configuration applied to every new session.
	Session Config

	// SubscriberFactory, when set, builds a subscriber attached to each new
	// session (live websocket feeds, progress displays).
	SubscriberFactory func(s *Session) Subscriber

	// Publisher, when set, receives each finalized transcript.
	Publisher Publisher
}

// Manager owns all active sessions keyed by the capture shim's session ID,
// and reaps sessions whose sources went quiet past the inactivity timeout.
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex

	logger      *slog.Logger
	timeout     time.Duration
	transcriber transcription.Transcriber
	metrics     *metrics.Metrics
	config      ManagerConfig

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager. The transcriber is shared across
// sessions; its own concurrency cap bounds simultaneous uploads while each
// session still serializes its own stream.
func NewManager(logger *slog.Logger, timeout time.Duration, transcriber transcription.Transcriber,
	m *metrics.Metrics, config ManagerConfig) *Manager {

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:    make(map[uint32]*Session),
		logger:      logger,
		timeout:     timeout,
		transcriber: transcriber,
		metrics:     m,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// CreateSession creates and starts a session for the given ID. If the
// session already exists it is returned unchanged; a capture shim resending
// its hello must not restart a live recording.
func (m *Manager) CreateSession(sessionID uint32, dualSource bool) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[sessionID]; exists {
		return existing
	}

	config := m.config.Session
	config.DualSource = dualSource

	s := New(m.logger, m.transcriber, m.metrics, config)
	if m.config.SubscriberFactory != nil {
		s.Subscribe(m.config.SubscriberFactory(s))
	}
	s.Start()

	m.sessions[sessionID] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}

	m.logger.Info("Created session",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.String("id", s.ID),
		slog.Bool("dual_source", dualSource),
	)

	return s
}

// GetSession retrieves an existing session.
func (m *Manager) GetSession(sessionID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	return s, exists
}

// GetSessionByID retrieves a session by its UUID (monitoring API).
func (m *Manager) GetSessionByID(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// ActiveSessionCount returns the number of currently active sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AllStats returns a snapshot of every active session's statistics.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.sessions))
	for _, s := range m.sessions {
		stats = append(stats, s.GetStats())
	}
	return stats
}

// FinalizeSession stops the session, publishes its transcript, and removes
// it. Returns the finalized store, or nil if no such session exists.
func (m *Manager) FinalizeSession(sessionID uint32) *Store {
	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, sessionID)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	started := s.StartedAt()
	store := s.Stop()

	if m.metrics != nil {
		m.metrics.SessionsFinalized.Inc()
		m.metrics.SessionDuration.Observe(time.Since(started).Seconds())
	}

	m.logger.Info("Session removed",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.String("id", s.ID),
		slog.Int("segments", store.Len()),
		slog.Duration("duration", time.Since(started)),
	)

	if m.config.Publisher != nil && store.Len() > 0 {
		ctx, cancelPublish := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelPublish()
		if err := m.config.Publisher.PublishTranscript(ctx, s.ID, store); err != nil {
			m.logger.Warn("Failed to publish transcript",
				slog.String("id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return store
}

// Stop gracefully stops the manager, finalizing every active session.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.RLock()
	ids := make([]uint32, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.FinalizeSession(id)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped")
}

// startCleanupRoutine reaps sessions whose sources went quiet.
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.finalizeExpiredSessions()
		}
	}
}

func (m *Manager) finalizeExpiredSessions() {
	now := time.Now()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.logger.Info("Finalizing expired session", slog.Uint64("session_id", uint64(id)))
		m.FinalizeSession(id)
	}
}
