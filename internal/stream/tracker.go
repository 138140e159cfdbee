package stream

import (
	"sync"
	"time"
)

// Default tracker parameters. The staleness threshold mirrors the display
// side's 2-second "waiting for stream" cutoff.
const (
	DefaultFPSWindow    = 1 * time.Second
	DefaultStaleTimeout = 2 * time.Second
)

// Stats is a point-in-time snapshot of stream health.
type Stats struct {
	FPS         float64   `json:"fps"`
	LatencyMS   float64   `json:"latency_ms"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
}

// Tracker derives frame rate and staleness from the receive loop's frame
// arrivals. FPS is computed over discrete rolling windows: once the elapsed
// time since the window start reaches the window size, fps = count/elapsed
// and the window resets. This intentionally yields a 1-second-granularity
// rate rather than a smoothed moving average.
//
// RecordFrame is called only by the receive loop; ReportLatency is called by
// the display consumer; Snapshot may be called from any goroutine.
type Tracker struct {
	mu sync.RWMutex

	fps         float64
	latencyMS   float64
	lastUpdated time.Time

	windowStart time.Time
	windowCount int

	fpsWindow    time.Duration
	staleTimeout time.Duration

	now func() time.Time // injectable for tests
}

// NewTracker creates a tracker with the given fps window and staleness
// threshold. Non-positive durations fall back to the defaults.
func NewTracker(fpsWindow, staleTimeout time.Duration) *Tracker {
	if fpsWindow <= 0 {
		fpsWindow = DefaultFPSWindow
	}
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Tracker{
		fpsWindow:    fpsWindow,
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
}

// RecordFrame registers one received frame at the given capture timestamp.
func (t *Tracker) RecordFrame(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdated = ts

	if t.windowStart.IsZero() {
		t.windowStart = ts
	}
	t.windowCount++

	elapsed := ts.Sub(t.windowStart)
	if elapsed >= t.fpsWindow {
		t.fps = float64(t.windowCount) / elapsed.Seconds()
		t.windowCount = 0
		t.windowStart = ts
	}
}

// ReportLatency records the display-side latency measurement: the time
// between a frame's capture timestamp and the moment it was rendered.
func (t *Tracker) ReportLatency(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencyMS = float64(latency) / float64(time.Millisecond)
}

// Reset clears all accumulated state, typically on producer disconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fps = 0
	t.latencyMS = 0
	t.windowCount = 0
	t.windowStart = time.Time{}
}

// Snapshot returns the current stream health. When no frame has arrived for
// the staleness threshold, the stream is reported inactive and the fps and
// latency fields read as zero regardless of the last computed values.
func (t *Tracker) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		FPS:         t.fps,
		LatencyMS:   t.latencyMS,
		LastUpdated: t.lastUpdated,
	}

	stale := t.lastUpdated.IsZero() || t.now().Sub(t.lastUpdated) >= t.staleTimeout
	if stale || t.fps <= 0 {
		stats.FPS = 0
		stats.LatencyMS = 0
		stats.Active = false
	} else {
		stats.Active = true
	}

	return stats
}
