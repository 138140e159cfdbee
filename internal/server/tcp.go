package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/streamview/video-listener/internal/config"
	"github.com/streamview/video-listener/internal/metrics"
	"github.com/streamview/video-listener/internal/protocol"
	"github.com/streamview/video-listener/internal/stream"
)

// Server accepts a single video producer over TCP, runs the frame receive
// loop, and carries the reverse control channel on the same connection.
//
// One producer is serviced at a time: the accept loop handles a connection
// synchronously and only returns to accepting once that connection ends.
type Server struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	queue   *stream.Queue
	tracker *stream.Tracker
	metrics *metrics.Metrics // nil when metrics are disabled

	// Lifecycle state. The accept loop never takes this mutex, so Start
	// and Stop may hold it across the whole operation.
	lifecycleMu sync.Mutex
	running     bool
	listener    *net.TCPListener
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// Active producer handle. Nil when no producer is connected. The same
	// mutex serializes control-channel writes against connect/disconnect.
	clientMu sync.Mutex
	client   net.Conn

	// Counters
	statsMu          sync.RWMutex
	framesReceived   uint64
	bytesReceived    uint64
	malformedHeaders uint64
	connections      uint64
	disconnects      uint64
	commandsSent     uint64
	commandErrors    uint64
}

// Statistics represents server performance counters
type Statistics struct {
	FramesReceived   uint64 `json:"frames_received"`
	BytesReceived    uint64 `json:"bytes_received"`
	FramesDropped    uint64 `json:"frames_dropped"`
	MalformedHeaders uint64 `json:"malformed_headers"`
	Connections      uint64 `json:"connections"`
	Disconnects      uint64 `json:"disconnects"`
	CommandsSent     uint64 `json:"commands_sent"`
	CommandErrors    uint64 `json:"command_errors"`
}

// New creates a new frame server. The metrics argument may be nil.
func New(cfg *config.ServerConfig, logger *slog.Logger, queue *stream.Queue,
	tracker *stream.Tracker, m *metrics.Metrics) *Server {

	return &Server{
		cfg:     cfg,
		logger:  logger,
		queue:   queue,
		tracker: tracker,
		metrics: m,
	}
}

// Start binds the listening socket and launches the accept loop. It is
// idempotent: calling Start on a running server is a no-op. A bind failure
// is returned to the caller.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln.(*net.TCPListener)
	s.cancel = cancel
	s.running = true

	s.logger.Info("Frame server started",
		slog.String("address", ln.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx, s.listener)

	return nil
}

// Stop shuts the server down: it signals the accept loop, closes the
// listener, force-closes any active producer socket to unblock a pending
// read, and waits for the loop to exit. Idempotent and safe to call from
// any goroutine; the server can be started again afterwards.
func (s *Server) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("Stopping frame server...")

	s.cancel()
	if err := s.listener.Close(); err != nil {
		s.logger.Warn("Error closing listener", slog.String("error", err.Error()))
	}

	// A graceful close of the listener does not interrupt a receive loop
	// blocked in a read; closing the client socket does.
	s.clientMu.Lock()
	if s.client != nil {
		s.client.Close()
	}
	s.clientMu.Unlock()

	s.wg.Wait()

	s.running = false
	s.listener = nil

	stats := s.Statistics()
	s.logger.Info("Frame server stopped",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("bytes_received", stats.BytesReceived),
		slog.Uint64("disconnects", stats.Disconnects),
	)

	return nil
}

// Addr returns the bound listener address, or "" when the server is stopped.
// Useful when the configured port is 0.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// acceptLoop waits for producer connections with a bounded accept timeout so
// the stop signal is observed promptly, and services one connection at a
// time.
func (s *Server) acceptLoop(ctx context.Context, ln *net.TCPListener) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := ln.SetDeadline(time.Now().Add(s.cfg.GetAcceptTimeout())); err != nil {
			s.logger.Error("Failed to set accept deadline", slog.String("error", err.Error()))
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
			default:
				s.logger.Error("Accept failed", slog.String("error", err.Error()))
			}
			return
		}

		s.statsMu.Lock()
		s.connections++
		s.statsMu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordConnection()
		}

		s.logger.Info("Producer connected",
			slog.String("remote_addr", conn.RemoteAddr().String()),
		)

		s.setClient(conn)
		s.handleProducer(ctx, conn)
		s.clearClient(conn)

		s.statsMu.Lock()
		s.disconnects++
		s.statsMu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordDisconnect()
		}
		s.tracker.Reset()

		s.logger.Info("Producer disconnected",
			slog.String("remote_addr", conn.RemoteAddr().String()),
		)
	}
}

// handleProducer runs the per-connection receive loop: read the 4-byte
// header fully, validate the declared length, read the payload fully, then
// hand the frame off and update the tracker. Any read failure or malformed
// header ends the connection and returns the server to the listening state.
func (s *Server) handleProducer(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			s.logger.Warn("Failed to set TCP_NODELAY", slog.String("error", err.Error()))
		}
		if err := tcpConn.SetReadBuffer(s.cfg.ReadBufferSize); err != nil {
			s.logger.Warn("Failed to set read buffer size",
				slog.Int("read_buffer_size", s.cfg.ReadBufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	header := make([]byte, protocol.HeaderSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The deadline covers both reads: a silent or broken peer is
		// detected instead of blocking forever.
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.GetReadTimeout())); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			return
		}

		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				s.logger.Debug("Header read ended", slog.String("error", err.Error()))
			}
			return
		}

		length, err := protocol.DecodeHeader(header)
		if err != nil {
			return
		}

		if err := protocol.ValidateFrameLength(length); err != nil {
			// The stream has no resynchronization marker, so an
			// out-of-range length means framing is lost. Close the
			// connection rather than guess at the stream offset.
			s.statsMu.Lock()
			s.malformedHeaders++
			s.statsMu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordMalformedHeader()
			}
			s.logger.Warn("Malformed frame header, closing connection",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.String("error", err.Error()),
			)
			return
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			s.logger.Debug("Payload read ended", slog.String("error", err.Error()))
			return
		}

		now := time.Now()
		evicted := s.queue.Push(stream.Frame{Data: payload, Timestamp: now})
		s.tracker.RecordFrame(now)

		s.statsMu.Lock()
		s.framesReceived++
		s.bytesReceived += uint64(length)
		s.statsMu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordFrameReceived(int(length))
			if evicted {
				s.metrics.RecordFrameDropped()
			}
		}
	}
}

// SendCommand transmits a control command to the connected producer,
// appending the wire delimiter. With no producer connected it is a silent
// no-op. Write failures are logged and counted but never returned: the
// receive loop's read side is the sole detector of a dead connection. An
// error is returned only for invalid command text.
func (s *Server) SendCommand(command string) error {
	encoded, err := protocol.EncodeCommand(command)
	if err != nil {
		return fmt.Errorf("invalid control command: %w", err)
	}

	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.client == nil {
		return nil
	}

	// Bounded write so a wedged producer cannot stall the caller.
	writeErr := s.client.SetWriteDeadline(time.Now().Add(s.cfg.GetReadTimeout()))
	if writeErr == nil {
		_, writeErr = s.client.Write(encoded)
	}
	if writeErr != nil {
		s.statsMu.Lock()
		s.commandErrors++
		s.statsMu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordCommandError()
		}
		s.logger.Warn("Control command write failed",
			slog.String("command", command),
			slog.String("error", writeErr.Error()),
		)
		return nil
	}

	s.statsMu.Lock()
	s.commandsSent++
	s.statsMu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordCommandSent()
	}

	return nil
}

// TryPopFrame returns the newest received frame, if any, without blocking.
func (s *Server) TryPopFrame() (stream.Frame, bool) {
	return s.queue.TryPop()
}

// Stats returns a snapshot of the live stream health.
func (s *Server) Stats() stream.Stats {
	return s.tracker.Snapshot()
}

// ReportLatency records the display side's capture-to-render latency
// measurement for the current frame.
func (s *Server) ReportLatency(latency time.Duration) {
	s.tracker.ReportLatency(latency)
}

// Connected reports whether a producer is currently connected.
func (s *Server) Connected() bool {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return s.client != nil
}

// Statistics returns current server counters
func (s *Server) Statistics() Statistics {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	return Statistics{
		FramesReceived:   s.framesReceived,
		BytesReceived:    s.bytesReceived,
		FramesDropped:    s.queue.Dropped(),
		MalformedHeaders: s.malformedHeaders,
		Connections:      s.connections,
		Disconnects:      s.disconnects,
		CommandsSent:     s.commandsSent,
		CommandErrors:    s.commandErrors,
	}
}

func (s *Server) setClient(conn net.Conn) {
	s.clientMu.Lock()
	s.client = conn
	s.clientMu.Unlock()
}

// clearClient drops the handle only if it still refers to this connection,
// in case a Stop-time close raced with the loop.
func (s *Server) clearClient(conn net.Conn) {
	s.clientMu.Lock()
	if s.client == conn {
		s.client = nil
	}
	s.clientMu.Unlock()
}
