package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the video listener service
type Metrics struct {
	// Frame stream metrics
	FramesReceived   prometheus.Counter
	FrameBytes       prometheus.Counter
	FramesDropped    prometheus.Counter
	MalformedHeaders prometheus.Counter
	FrameSize        prometheus.Histogram

	// Connection metrics
	ConnectionsAccepted prometheus.Counter
	Disconnects         prometheus.Counter
	ProducerConnected   prometheus.Gauge

	// Stream health gauges (published from the tracker)
	StreamFPS     prometheus.Gauge
	StreamLatency prometheus.Gauge
	StreamActive  prometheus.Gauge

	// Control channel metrics
	CommandsSent  prometheus.Counter
	CommandErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		// Frame stream metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_frames_received_total",
			Help: "Total number of video frames received from the producer",
		}),
		FrameBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_frame_bytes_total",
			Help: "Total number of frame payload bytes received",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_frames_dropped_total",
			Help: "Total number of frames evicted from the hand-off queue unconsumed",
		}),
		MalformedHeaders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_malformed_headers_total",
			Help: "Total number of frame headers with an out-of-range length",
		}),
		FrameSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "video_frame_size_bytes",
			Help:    "Size of received video frames in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 13), // 1KB to ~4MB
		}),

		// Connection metrics
		ConnectionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_connections_accepted_total",
			Help: "Total number of producer connections accepted",
		}),
		Disconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_disconnects_total",
			Help: "Total number of producer disconnects",
		}),
		ProducerConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "video_producer_connected",
			Help: "Whether a producer is currently connected (0 or 1)",
		}),

		// Stream health gauges
		StreamFPS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "video_stream_fps",
			Help: "Current frame rate over the last completed window",
		}),
		StreamLatency: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "video_stream_latency_seconds",
			Help: "Display-reported latency between capture and render",
		}),
		StreamActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "video_stream_active",
			Help: "Whether the stream is active, i.e. not stale (0 or 1)",
		}),

		// Control channel metrics
		CommandsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_control_commands_sent_total",
			Help: "Total number of control commands written to the producer",
		}),
		CommandErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_control_command_errors_total",
			Help: "Total number of control command write failures",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "video_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "video_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "video_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived records one delivered frame and its payload size
func (m *Metrics) RecordFrameReceived(sizeBytes int) {
	m.FramesReceived.Inc()
	m.FrameBytes.Add(float64(sizeBytes))
	m.FrameSize.Observe(float64(sizeBytes))
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordMalformedHeader increments the malformed headers counter
func (m *Metrics) RecordMalformedHeader() {
	m.MalformedHeaders.Inc()
}

// RecordConnection records an accepted producer connection
func (m *Metrics) RecordConnection() {
	m.ConnectionsAccepted.Inc()
	m.ProducerConnected.Set(1)
}

// RecordDisconnect records a producer disconnect
func (m *Metrics) RecordDisconnect() {
	m.Disconnects.Inc()
	m.ProducerConnected.Set(0)
}

// PublishStreamHealth updates the stream health gauges
func (m *Metrics) PublishStreamHealth(fps, latencySeconds float64, active bool) {
	m.StreamFPS.Set(fps)
	m.StreamLatency.Set(latencySeconds)
	if active {
		m.StreamActive.Set(1)
	} else {
		m.StreamActive.Set(0)
	}
}

// RecordCommandSent increments the commands sent counter
func (m *Metrics) RecordCommandSent() {
	m.CommandsSent.Inc()
}

// RecordCommandError increments the command errors counter
func (m *Metrics) RecordCommandError() {
	m.CommandErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
