package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qaid/whispertalk/internal/session"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// liveEvent is one message on the websocket feed.
type liveEvent struct {
	Type      string           `json:"type"` // "segment" or "status"
	SessionID string           `json:"session_id"`
	Segment   *session.Segment `json:"segment,omitempty"`
	Status    string           `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Hub broadcasts live segments and status changes to websocket clients.
// Every connected client sees every session's events; filtering is the
// client's job.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients map[*wsClient]struct{}
	mu      sync.Mutex
}

type wsClient struct {
	conn *websocket.Conn
	send chan liveEvent
}

// NewHub creates a websocket hub for live transcript feeds.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Monitoring endpoint, same trust domain as the rest of the API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleWebSocket upgrades the connection and streams live events until the
// client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan liveEvent, 64),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("clients", clientCount),
	)

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast sends an event to every connected client. Slow clients are
// disconnected rather than allowed to back up the pipeline.
func (h *Hub) Broadcast(event liveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// SubscriberFor returns a session subscriber that forwards the session's
// segments and status changes to the hub.
func (h *Hub) SubscriberFor(s *session.Session) session.Subscriber {
	return &hubSubscriber{hub: h, sessionID: s.ID}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteJSON(event); err != nil {
				h.remove(client)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

// readLoop discards client messages; it exists to notice disconnects.
func (h *Hub) readLoop(client *wsClient) {
	defer h.remove(client)

	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)
	}
}

// hubSubscriber adapts one session's callbacks onto the shared hub.
type hubSubscriber struct {
	hub       *Hub
	sessionID string
}

func (hs *hubSubscriber) OnSegment(segment session.Segment) {
	hs.hub.Broadcast(liveEvent{
		Type:      "segment",
		SessionID: hs.sessionID,
		Segment:   &segment,
		Timestamp: time.Now().UTC(),
	})
}

func (hs *hubSubscriber) OnStatus(message string) {
	hs.hub.Broadcast(liveEvent{
		Type:      "status",
		SessionID: hs.sessionID,
		Status:    message,
		Timestamp: time.Now().UTC(),
	})
}
