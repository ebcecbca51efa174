package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	LostPackets      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram

	// VAD metrics
	VADWindowsProcessed prometheus.Counter
	VADVoiceDetected    prometheus.Counter
	VADProcessingTime   prometheus.Histogram

	// Audio buffer and segmentation metrics
	SamplesAdmitted   prometheus.Counter
	SamplesDropped    prometheus.Counter
	UtterancesEmitted prometheus.Counter
	UtteranceDuration prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionTimeouts  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptConfidence   prometheus.Histogram
	TranscriptTokens       prometheus.Histogram

	// Sink metrics
	SinkDeliveries *prometheus.CounterVec
	SinkRetries    prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	WebSocketClients    prometheus.Gauge
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		LostPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_packets_lost_total",
			Help: "Total number of audio packets skipped by sequence gaps",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aetherion_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Stream metrics
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aetherion_active_streams",
			Help: "Current number of active capture streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_streams_created_total",
			Help: "Total number of streams created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_streams_destroyed_total",
			Help: "Total number of streams destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_stream_duration_seconds",
			Help:    "Duration of capture streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// VAD metrics
		VADWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_vad_windows_processed_total",
			Help: "Total number of VAD windows processed",
		}),
		VADVoiceDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_vad_voice_detected_total",
			Help: "Total number of VAD windows with voice detected",
		}),
		VADProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_vad_processing_duration_seconds",
			Help:    "Time spent processing VAD windows",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}),

		// Audio buffer and segmentation metrics
		SamplesAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_buffer_samples_admitted_total",
			Help: "Total number of samples admitted into capture buffers",
		}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_buffer_samples_dropped_total",
			Help: "Total number of samples rejected by full capture buffers",
		}),
		UtterancesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_utterances_emitted_total",
			Help: "Total number of utterances handed to the pipeline",
		}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_utterance_duration_seconds",
			Help:    "Duration of utterances handed to the pipeline",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_transcription_requests_total",
			Help: "Total number of transcription requests",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherion_transcription_failures_total",
			Help: "Total number of failed transcriptions",
		}, []string{"reason"}),
		TranscriptionTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_transcription_timeouts_total",
			Help: "Total number of transcriptions whose result arrived after the deadline",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_transcription_duration_seconds",
			Help:    "Duration of model inference",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		TranscriptConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_transcript_confidence",
			Help:    "Confidence score of produced transcripts",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		TranscriptTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetherion_transcript_tokens",
			Help:    "Number of tokens generated per transcript",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 to 256
		}),

		// Sink metrics
		SinkDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherion_sink_deliveries_total",
			Help: "Total number of transcript deliveries per sink",
		}, []string{"sink", "result"}),
		SinkRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "aetherion_sink_retries_total",
			Help: "Total number of webhook delivery retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherion_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aetherion_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aetherion_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aetherion_websocket_clients",
			Help: "Current number of live transcript subscribers",
		}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordLostPackets adds packets skipped by a sequence gap
func (m *Metrics) RecordLostPackets(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.LostPackets.Add(float64(n))
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordVADWindow increments VAD windows processed and optionally voice detected
func (m *Metrics) RecordVADWindow(hasVoice bool, processingTimeSeconds float64) {
	if m == nil {
		return
	}
	m.VADWindowsProcessed.Inc()
	if hasVoice {
		m.VADVoiceDetected.Inc()
	}
	m.VADProcessingTime.Observe(processingTimeSeconds)
}

// RecordBufferPush records the outcome of one buffer push
func (m *Metrics) RecordBufferPush(admitted, dropped int) {
	if m == nil {
		return
	}
	m.SamplesAdmitted.Add(float64(admitted))
	if dropped > 0 {
		m.SamplesDropped.Add(float64(dropped))
	}
}

// RecordUtterance records an utterance handed to the pipeline
func (m *Metrics) RecordUtterance(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesEmitted.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds, confidence float64, tokens int) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TranscriptConfidence.Observe(confidence)
	m.TranscriptTokens.Observe(float64(tokens))
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(reason).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionTimeout increments the late result counter
func (m *Metrics) RecordTranscriptionTimeout() {
	if m == nil {
		return
	}
	m.TranscriptionTimeouts.Inc()
}

// RecordSinkDelivery records one delivery attempt outcome for a sink
func (m *Metrics) RecordSinkDelivery(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SinkDeliveries.WithLabelValues(sink, result).Inc()
}

// RecordSinkRetry increments the webhook retry counter
func (m *Metrics) RecordSinkRetry() {
	if m == nil {
		return
	}
	m.SinkRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetWebSocketClients sets the number of live transcript subscribers
func (m *Metrics) SetWebSocketClients(count int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(count))
}
