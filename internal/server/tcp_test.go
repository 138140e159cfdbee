package server

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/streamview/video-listener/internal/config"
	"github.com/streamview/video-listener/internal/protocol"
	"github.com/streamview/video-listener/internal/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.ServerConfig{
		BindAddress:    "127.0.0.1",
		Port:           0, // let the kernel pick a free port
		AcceptTimeout:  1,
		ReadTimeout:    2,
		ReadBufferSize: 64 * 1024,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	queue := stream.NewQueue()
	tracker := stream.NewTracker(stream.DefaultFPSWindow, stream.DefaultStaleTimeout)

	srv := New(cfg, logger, queue, tracker, nil)

	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
	})

	return srv
}

func dialProducer(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	// Dial returns once the TCP handshake completes, which can be before
	// the accept loop has registered the connection.
	waitFor(t, "producer registration", func() bool { return srv.Connected() })

	return conn
}

func sendFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()

	header := protocol.EncodeHeader(uint32(len(payload)))
	if _, err := conn.Write(header[:]); err != nil {
		t.Fatalf("Failed to write frame header: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Failed to write frame payload: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitForFrame(t *testing.T, srv *Server) stream.Frame {
	t.Helper()

	var frame stream.Frame
	waitFor(t, "frame delivery", func() bool {
		f, ok := srv.TryPopFrame()
		if ok {
			frame = f
		}
		return ok
	})
	return frame
}

func TestFrameDelivery(t *testing.T) {
	srv := newTestServer(t)
	conn := dialProducer(t, srv)

	payload := bytes.Repeat([]byte{0xAB}, 32*1024)
	payload[0] = 0xFF // make the ends distinguishable
	payload[len(payload)-1] = 0xEE

	sendFrame(t, conn, payload)

	frame := waitForFrame(t, srv)
	if !bytes.Equal(frame.Data, payload) {
		t.Errorf("Frame payload corrupted in transit: got %d bytes, want %d", len(frame.Data), len(payload))
	}
	if frame.Timestamp.IsZero() {
		t.Error("Expected frame to carry a capture timestamp")
	}

	stats := srv.Statistics()
	if stats.FramesReceived != 1 {
		t.Errorf("Expected 1 frame received, got %d", stats.FramesReceived)
	}
	if stats.BytesReceived != uint64(len(payload)) {
		t.Errorf("Expected %d bytes received, got %d", len(payload), stats.BytesReceived)
	}
}

func TestFrameDeliverySmallAndSequential(t *testing.T) {
	srv := newTestServer(t)
	conn := dialProducer(t, srv)

	// Consecutive frames on the same connection; drain each before the
	// next so none are evicted.
	for i := 1; i <= 3; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, i)
		sendFrame(t, conn, payload)

		frame := waitForFrame(t, srv)
		if !bytes.Equal(frame.Data, payload) {
			t.Errorf("Frame %d corrupted: got %x, want %x", i, frame.Data, payload)
		}
	}

	if stats := srv.Statistics(); stats.FramesReceived != 3 {
		t.Errorf("Expected 3 frames received, got %d", stats.FramesReceived)
	}
}

func TestMalformedHeaderClosesConnection(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{name: "zero length", length: 0},
		{name: "over maximum", length: protocol.MaxFrameSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			conn := dialProducer(t, srv)

			header := protocol.EncodeHeader(tt.length)
			if _, err := conn.Write(header[:]); err != nil {
				t.Fatalf("Failed to write malformed header: %v", err)
			}

			// The server must close the connection rather than try to
			// resynchronize a stream with no recovery marker.
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Read(make([]byte, 1)); err == nil {
				t.Fatal("Expected server to close the connection on malformed header")
			}

			waitFor(t, "disconnect accounting", func() bool {
				return srv.Statistics().Disconnects == 1
			})
			if got := srv.Statistics().MalformedHeaders; got != 1 {
				t.Errorf("Expected 1 malformed header counted, got %d", got)
			}

			// The server is back in the listening state: a new
			// producer connects and streams normally.
			conn2 := dialProducer(t, srv)
			payload := []byte("recovered")
			sendFrame(t, conn2, payload)

			frame := waitForFrame(t, srv)
			if !bytes.Equal(frame.Data, payload) {
				t.Errorf("Expected frame after recovery, got %q", frame.Data)
			}
		})
	}
}

func TestControlCommandWithProducer(t *testing.T) {
	srv := newTestServer(t)
	conn := dialProducer(t, srv)

	if err := srv.SendCommand("ZOOM:2.50"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	expected := []byte("ZOOM:2.50\n")
	received := make([]byte, len(expected))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, received); err != nil {
		t.Fatalf("Failed to read control command: %v", err)
	}
	if !bytes.Equal(received, expected) {
		t.Errorf("Expected exact bytes %q on the wire, got %q", expected, received)
	}

	if stats := srv.Statistics(); stats.CommandsSent != 1 {
		t.Errorf("Expected 1 command sent, got %d", stats.CommandsSent)
	}
}

func TestControlCommandNoProducer(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.SendCommand("ZOOM:2.50"); err != nil {
		t.Fatalf("Expected silent no-op with no producer, got: %v", err)
	}

	if stats := srv.Statistics(); stats.CommandsSent != 0 {
		t.Errorf("Expected no commands counted without a producer, got %d", stats.CommandsSent)
	}
}

func TestControlCommandInvalidText(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.SendCommand("ZOOM:1.0\nEXPOSURE:0"); err == nil {
		t.Error("Expected error for command with embedded newline")
	}
	if err := srv.SendCommand(""); err == nil {
		t.Error("Expected error for empty command")
	}
}

func TestIncompleteFrameEndsConnection(t *testing.T) {
	srv := newTestServer(t)
	conn := dialProducer(t, srv)

	// Declare 1000 bytes but send only 10, then hang. The read timeout
	// must end the connection instead of blocking forever.
	header := protocol.EncodeHeader(1000)
	conn.Write(header[:])
	conn.Write(bytes.Repeat([]byte{0x01}, 10))

	waitFor(t, "timeout disconnect", func() bool {
		return srv.Statistics().Disconnects == 1
	})

	if _, ok := srv.TryPopFrame(); ok {
		t.Error("Expected no partial frame to be delivered")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.Start(); err != nil {
		t.Errorf("Expected second Start to be a no-op, got: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.Stop(); err != nil {
		t.Errorf("First Stop failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got: %v", err)
	}
}

func TestStopUnblocksReceiveAndAllowsRestart(t *testing.T) {
	srv := newTestServer(t)

	// A connected but silent producer leaves the receive loop blocked in
	// a read.
	dialProducer(t, srv)

	start := time.Now()
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Bounded by the accept timeout, not the 2s read timeout: the client
	// socket is force-closed to interrupt the pending read.
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("Stop took %v, expected it to unblock the receive loop promptly", elapsed)
	}

	// The service restarts cleanly after Stop.
	if err := srv.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	conn := dialProducer(t, srv)
	payload := []byte("after restart")
	sendFrame(t, conn, payload)

	frame := waitForFrame(t, srv)
	if !bytes.Equal(frame.Data, payload) {
		t.Errorf("Expected frame after restart, got %q", frame.Data)
	}
}

func TestBindFailureSurfaces(t *testing.T) {
	srv := newTestServer(t)

	// A second server on the same port must fail to bind and report it.
	_, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("Failed to parse server address: %v", err)
	}

	cfg := &config.ServerConfig{
		BindAddress:    "127.0.0.1",
		Port:           mustAtoi(t, portStr),
		AcceptTimeout:  1,
		ReadTimeout:    2,
		ReadBufferSize: 64 * 1024,
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	other := New(cfg, logger, stream.NewQueue(), stream.NewTracker(0, 0), nil)

	if err := other.Start(); err == nil {
		other.Stop()
		t.Error("Expected bind failure on an occupied port")
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()

	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("Invalid port %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
