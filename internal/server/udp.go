package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/qaid/whispertalk/internal/capture"
	"github.com/qaid/whispertalk/internal/config"
	"github.com/qaid/whispertalk/internal/metrics"
	"github.com/qaid/whispertalk/internal/protocol"
	"github.com/qaid/whispertalk/internal/session"
)

// UDPServer receives framed audio packets from remote capture shims and
// routes them into transcription sessions.
type UDPServer struct {
	conn       *net.UDPConn
	config     *config.ServerConfig
	logger     *slog.Logger
	sessionMgr *session.Manager
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// packetChans has one queue per worker; packets are sharded by session
	// ID so each session's stream is handled by exactly one worker.
	packetChans []chan *incomingPacket
	recvDone    chan struct{}

	// helloFormats remembers each session's announced capture format so
	// audio packets can be normalized without re-announcing it.
	helloFormats map[uint32]*protocol.HelloPayload
	helloMu      sync.RWMutex

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// numPacketWorkers is the size of the packet worker pool; each worker owns
// the sessions that hash onto it.
const numPacketWorkers = 4

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sessionMgr *session.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	packetChans := make([]chan *incomingPacket, numPacketWorkers)
	for i := range packetChans {
		packetChans[i] = make(chan *incomingPacket, 256)
	}

	return &UDPServer{
		config:       cfg,
		logger:       logger,
		sessionMgr:   sessionMgr,
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		packetChans:  packetChans,
		recvDone:     make(chan struct{}),
		helloFormats: make(map[uint32]*protocol.HelloPayload),
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// Sharding by session ID keeps packet handling off the receive loop
	// while preserving same-session arrival order: concurrent workers never
	// race to feed the same session.
	for i := range s.packetChans {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
		// The receive loop must finish before its output channels close.
		<-s.recvDone
	}

	for _, ch := range s.packetChans {
		close(ch)
	}
	s.wg.Wait()

	s.mu.RLock()
	packetsReceived := s.packetsReceived
	packetsProcessed := s.packetsProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer close(s.recvDone)

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Read deadline lets the loop notice context cancellation.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.PacketsReceived.Inc()
		}

		// The read buffer is reused, so copy before queueing.
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		shard := shardFor(packetData, len(s.packetChans))
		select {
		case s.packetChans[shard] <- packet:
		default:
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// shardFor routes a raw packet to a worker by session ID. Unparseable
// headers land on shard zero, whose worker reports the parse error.
func shardFor(data []byte, shards int) int {
	header, err := protocol.ParseHeader(data)
	if err != nil {
		return 0
	}
	return int(header.SessionID % uint32(shards))
}

// packetProcessor processes packets from its own shard of the packet queues
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChans[workerID] {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ParseErrors.Inc()
		}

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.PacketsProcessed.Inc()
	}

	switch parsedPacket.Header.PacketType {
	case protocol.PacketTypeHello:
		s.processHelloPacket(parsedPacket.Header, parsedPacket.Hello, workerID)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsedPacket.Header, parsedPacket.Audio, workerID)
	case protocol.PacketTypeBye:
		s.processByePacket(parsedPacket.Header, workerID)
	}
}

// processHelloPacket creates the session and records the announced format.
func (s *UDPServer) processHelloPacket(header *protocol.Header, payload *protocol.HelloPayload, workerID int) {
	if s.sessionMgr.ActiveSessionCount() >= s.config.MaxConcurrentSessions {
		if _, exists := s.sessionMgr.GetSession(header.SessionID); !exists {
			s.logger.Warn("Session limit reached, rejecting hello",
				slog.Uint64("session_id", uint64(header.SessionID)),
				slog.Int("limit", s.config.MaxConcurrentSessions),
				slog.Int("worker_id", workerID),
			)
			return
		}
	}

	s.helloMu.Lock()
	s.helloFormats[header.SessionID] = payload
	s.helloMu.Unlock()

	s.sessionMgr.CreateSession(header.SessionID, payload.DualSource != 0)

	s.logger.Info("Hello packet processed",
		slog.Uint64("session_id", uint64(header.SessionID)),
		slog.Uint64("sample_rate", uint64(payload.SampleRate)),
		slog.Int("channels", int(payload.Channels)),
		slog.Bool("dual_source", payload.DualSource != 0),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket converts PCM-16 data and feeds the session.
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, workerID int) {
	sess, exists := s.sessionMgr.GetSession(header.SessionID)
	if !exists {
		s.logger.Warn("Received audio packet for unknown session",
			slog.Uint64("session_id", uint64(header.SessionID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.AudioData)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.helloMu.RLock()
	format := s.helloFormats[header.SessionID]
	s.helloMu.RUnlock()
	if format == nil {
		return
	}

	samples := protocol.PCM16ToFloat32(payload.AudioData)
	sess.Feed(samples, int(format.SampleRate), int(format.Channels), capture.SourceTag(header.Source))

	s.logger.Debug("Audio packet processed",
		slog.Uint64("session_id", uint64(header.SessionID)),
		slog.Uint64("sequence", uint64(payload.Sequence)),
		slog.Int("samples", len(samples)),
		slog.Int("worker_id", workerID),
	)
}

// processByePacket finalizes the session.
func (s *UDPServer) processByePacket(header *protocol.Header, workerID int) {
	s.helloMu.Lock()
	delete(s.helloFormats, header.SessionID)
	s.helloMu.Unlock()

	store := s.sessionMgr.FinalizeSession(header.SessionID)
	if store == nil {
		s.logger.Warn("Received bye for unknown session",
			slog.Uint64("session_id", uint64(header.SessionID)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Info("Bye packet processed",
		slog.Uint64("session_id", uint64(header.SessionID)),
		slog.Int("segments", store.Len()),
		slog.Int("worker_id", workerID),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	var queued, capacity uint64
	for _, ch := range s.packetChans {
		queued += uint64(len(ch))
		capacity += uint64(cap(ch))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		ActiveSessions:   uint64(s.sessionMgr.ActiveSessionCount()),
		QueueSize:        queued,
		QueueCapacity:    capacity,
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveSessions   uint64 `json:"active_sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
