package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/protocol"
	"github.com/Cabrel10/AetherionOS/internal/stream"
)

// UDPServer receives capture packets from audio producers
type UDPServer struct {
	conn      *net.UDPConn
	config    *config.ServerConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	metrics   *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing, one queue per worker so a stream is always handled in order
	queues []chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	packetsDropped   uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance. m may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan *incomingPacket, workers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, 256)
	}

	return &UDPServer{
		config:    cfg,
		logger:    logger.With("component", "udp"),
		streamMgr: streamMgr,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		queues:    queues,
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
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", len(s.queues)),
	)

	for i := range s.queues {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, useful when listening on port 0
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Close UDP connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// the receive loop is the only sender; wait for it before closing the queues
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	defer func() {
		for _, q := range s.queues {
			close(q)
		}
	}()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
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
		s.metrics.RecordPacketReceived()

		// Copy out of the reused read buffer
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		queue := s.queueFor(packetData)
		select {
		case queue <- packet:
			s.metrics.SetQueueSize(len(queue))
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// queueFor picks the worker queue by stream ID so packets of one stream stay ordered
func (s *UDPServer) queueFor(data []byte) chan *incomingPacket {
	header, err := protocol.ParseHeader(data)
	if err != nil {
		return s.queues[0]
	}
	return s.queues[int(header.StreamID%uint32(len(s.queues)))]
}

// packetProcessor processes packets from one worker queue
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	for packet := range s.queues[workerID] {
		s.handlePacket(packet, workerID)
	}
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Warn("Failed to parse packet",
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
	s.metrics.RecordPacketProcessed()

	header := parsedPacket.Header
	switch header.PacketType {
	case protocol.PacketTypeStart:
		s.processStartPacket(header, parsedPacket.Start, workerID)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(header, parsedPacket.Audio, workerID)
	case protocol.PacketTypeEnd:
		if s.streamMgr.RemoveSession(header.StreamID) {
			s.logger.Debug("Stream ended",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Int("worker_id", workerID))
		}
	}
}

// processStartPacket opens or refreshes a stream session
func (s *UDPServer) processStartPacket(header *protocol.Header, payload *protocol.StartPayload, workerID int) {
	session, err := s.streamMgr.CreateSession(header.StreamID, payload.GetSource(), int(payload.SampleRate))
	if err != nil {
		s.logger.Error("Failed to create stream session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Info("Start packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("source", session.Source),
		slog.Int("sample_rate", session.SampleRate),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket routes audio to its stream session
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, workerID int) {
	session, exists := s.streamMgr.GetSession(header.StreamID)
	if !exists {
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.AudioData)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	samples, err := audio.DecodePCM16LE(payload.AudioData)
	if err == nil {
		err = session.AddAudio(payload.Sequence, samples, header.Final())
	}
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, audio.ErrLatePacket) {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "Failed to add audio to session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queued := 0
	capacity := 0
	for _, q := range s.queues {
		queued += len(q)
		capacity += cap(q)
	}

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		PacketsDropped:   s.packetsDropped,
		ParseErrors:      s.parseErrors,
		ActiveStreams:    uint64(s.streamMgr.GetActiveSessionCount()),
		QueueSize:        uint64(queued),
		QueueCapacity:    uint64(capacity),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveStreams    uint64 `json:"active_streams"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
