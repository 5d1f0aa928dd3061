package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qaid/whispertalk/internal/capture"
)

// fakePublisher records published transcripts.
type fakePublisher struct {
	mu        sync.Mutex
	published map[string]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string]int)}
}

func (p *fakePublisher) PublishTranscript(ctx context.Context, sessionID string, store *Store) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[sessionID] = store.Len()
	return nil
}

func newTestManager(t *testing.T, publisher Publisher) *Manager {
	t.Helper()

	mgr := NewManager(testLogger(), time.Hour, &fakeTranscriber{}, nil, ManagerConfig{
		Session:   Config{FeedQueueSize: 256},
		Publisher: publisher,
	})
	t.Cleanup(mgr.Stop)

	return mgr
}

func TestManagerCreateSessionIdempotent(t *testing.T) {
	mgr := newTestManager(t, nil)

	first := mgr.CreateSession(1, false)
	second := mgr.CreateSession(1, true)

	if first != second {
		t.Errorf("Resent hello must not replace the live session")
	}
	if mgr.ActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.ActiveSessionCount())
	}
}

func TestManagerGetSession(t *testing.T) {
	mgr := newTestManager(t, nil)

	created := mgr.CreateSession(7, false)

	got, exists := mgr.GetSession(7)
	if !exists || got != created {
		t.Errorf("Expected to retrieve the created session")
	}

	byID, exists := mgr.GetSessionByID(created.ID)
	if !exists || byID != created {
		t.Errorf("Expected to retrieve the session by UUID")
	}

	if _, exists := mgr.GetSession(99); exists {
		t.Errorf("Expected no session for unknown ID")
	}
}

func TestManagerFinalizeSession(t *testing.T) {
	publisher := newFakePublisher()
	mgr := newTestManager(t, publisher)

	s := mgr.CreateSession(3, false)
	feedTone(s, 7*time.Second, capture.SourceMicrophone)

	store := mgr.FinalizeSession(3)
	if store == nil {
		t.Fatal("Expected a store from finalization")
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 segments, got %d", store.Len())
	}

	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("Expected session removed, got %d active", mgr.ActiveSessionCount())
	}

	publisher.mu.Lock()
	segments, published := publisher.published[s.ID]
	publisher.mu.Unlock()
	if !published {
		t.Fatalf("Expected transcript to be published for %s", s.ID)
	}
	if segments != 2 {
		t.Errorf("Expected 2 published segments, got %d", segments)
	}
}

func TestManagerFinalizeUnknownSession(t *testing.T) {
	mgr := newTestManager(t, nil)

	if store := mgr.FinalizeSession(42); store != nil {
		t.Errorf("Expected nil store for unknown session")
	}
}

func TestManagerEmptySessionNotPublished(t *testing.T) {
	publisher := newFakePublisher()
	mgr := newTestManager(t, publisher)

	s := mgr.CreateSession(5, false)
	mgr.FinalizeSession(5)

	publisher.mu.Lock()
	_, published := publisher.published[s.ID]
	publisher.mu.Unlock()
	if published {
		t.Errorf("Empty transcript should not be published")
	}
}

func TestManagerAllStats(t *testing.T) {
	mgr := newTestManager(t, nil)

	mgr.CreateSession(1, false)
	mgr.CreateSession(2, true)

	stats := mgr.AllStats()
	if len(stats) != 2 {
		t.Fatalf("Expected stats for 2 sessions, got %d", len(stats))
	}
}

func TestManagerStopFinalizesAll(t *testing.T) {
	mgr := NewManager(testLogger(), time.Hour, &fakeTranscriber{}, nil, ManagerConfig{
		Session: Config{FeedQueueSize: 256},
	})

	mgr.CreateSession(1, false)
	mgr.CreateSession(2, false)

	mgr.Stop()

	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("Expected all sessions finalized, got %d active", mgr.ActiveSessionCount())
	}
}
