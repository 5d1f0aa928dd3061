package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription pipeline
type Metrics struct {
	// Ingest metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsFinalized prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Pipeline metrics
	BuffersFed     prometheus.Counter
	BuffersDropped prometheus.Counter
	WindowsEmitted prometheus.Counter
	SilenceCuts    prometheus.Counter
	MixerDropped   prometheus.Counter

	// Transcription metrics
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	SegmentsProduced      prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_packets_received_total",
			Help: "Total number of ingest packets received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_packets_processed_total",
			Help: "Total number of ingest packets successfully processed",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "whispertalk_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_sessions_finalized_total",
			Help: "Total number of recording sessions finalized",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whispertalk_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		BuffersFed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_buffers_fed_total",
			Help: "Total number of capture buffers accepted by sessions",
		}),
		BuffersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_buffers_dropped_total",
			Help: "Total number of capture buffers dropped due to a full feed queue",
		}),
		WindowsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_windows_emitted_total",
			Help: "Total number of audio windows emitted for transcription",
		}),
		SilenceCuts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_silence_cuts_total",
			Help: "Total number of windows emitted early by trailing-silence detection",
		}),
		MixerDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_mixer_dropped_samples_total",
			Help: "Total number of secondary-stream samples dropped by lag tolerance",
		}),

		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_transcription_failures_total",
			Help: "Total number of windows whose transcription call failed",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whispertalk_transcription_duration_seconds",
			Help:    "Duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		SegmentsProduced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispertalk_segments_produced_total",
			Help: "Total number of transcript segments appended",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispertalk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whispertalk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispertalk_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
