package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Connected          prometheus.Gauge
	ConnectionEvents   *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	FramesSent         prometheus.Counter
	FramesDropped      *prometheus.CounterVec
	Recording          prometheus.Gauge
	PlaybackQueueDepth prometheus.Gauge
	PlaybackItems      *prometheus.CounterVec
	PlaybackDuration   prometheus.Histogram
	Notifications      prometheus.Counter
	HistoryErrors      *prometheus.CounterVec
	ResponseLatency    prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Connected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the logging session socket is open.",
		}),
		ConnectionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Socket lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Captured audio frames written to the socket.",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Captured audio frames not sent, by reason.",
		}, []string{"reason"}),
		Recording: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while the capture device is held.",
		}),
		PlaybackQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Audio items waiting for playback.",
		}),
		PlaybackItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_total",
			Help:      "Playback queue items by outcome.",
		}, []string{"result"}),
		PlaybackDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_duration_ms",
			Help:      "Time spent playing one queued audio item in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		Notifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Transcript notifications shown.",
		}),
		HistoryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_errors_total",
			Help:      "History store failures by operation.",
		}, []string{"op"}),
		ResponseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_ms",
			Help:      "Time from stop_recording to the first audio reply in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 3000, 4000, 6000, 9000, 15000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

func (m *Metrics) ObserveConnectionEvent(event string) {
	if m == nil {
		return
	}
	m.ConnectionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) ObserveFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
	m.window.ObserveIndicator("frame_dropped_" + reason)
}

func (m *Metrics) SetRecording(recording bool) {
	if m == nil {
		return
	}
	if recording {
		m.Recording.Set(1)
		return
	}
	m.Recording.Set(0)
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueueDepth.Set(float64(n))
}

func (m *Metrics) ObservePlayback(result string, waited, played time.Duration) {
	if m == nil {
		return
	}
	m.PlaybackItems.WithLabelValues(result).Inc()
	if result != "played" {
		return
	}
	m.PlaybackDuration.Observe(float64(played.Milliseconds()))
	m.window.Observe(StageQueueWait, float64(waited.Milliseconds()))
	m.window.Observe(StagePlayback, float64(played.Milliseconds()))
}

func (m *Metrics) ObservePlaybackDrop(reason string) {
	if m == nil {
		return
	}
	m.PlaybackItems.WithLabelValues(reason).Inc()
	m.window.ObserveIndicator("playback_" + reason)
}

func (m *Metrics) ObserveNotification() {
	if m == nil {
		return
	}
	m.Notifications.Inc()
}

func (m *Metrics) ObserveHistoryError(op string) {
	if m == nil {
		return
	}
	m.HistoryErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveInboundDropped(reason string) {
	if m == nil {
		return
	}
	m.window.ObserveIndicator("inbound_dropped_" + reason)
}

func (m *Metrics) ObserveResponseLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ResponseLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageStopToFirstAudio, float64(d.Milliseconds()))
}

// SnapshotLatency returns rolling per-stage latency statistics.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
