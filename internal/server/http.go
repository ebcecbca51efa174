package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/history"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/stream"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/vad"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

const serviceName = "aetherion"

// Version is reported by /health and the root document
var Version = "0.1.0"

// Dependencies are the components the HTTP API reads from. UDPServer, History,
// Metrics and Gatherer may be nil.
type Dependencies struct {
	StreamManager *stream.Manager
	Pipeline      *transcription.Pipeline
	UDPServer     *UDPServer
	History       *history.Store
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring, management and file transcription
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	pipeline  *transcription.Pipeline
	udpServer *UDPServer
	history   *history.Store
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader

	// Server state
	startTime time.Time
	wsClients int
	mu        sync.Mutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps Dependencies) (*HTTPServer, error) {
	if deps.StreamManager == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("stream manager and pipeline are required")
	}

	h := &HTTPServer{
		logger:    logger.With("component", "http"),
		config:    appConfig,
		streamMgr: deps.StreamManager,
		pipeline:  deps.Pipeline,
		udpServer: deps.UDPServer,
		history:   deps.History,
		metrics:   deps.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux, deps.Gatherer)
	h.handler = mux

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// long enough for a file transcription to finish
		WriteTimeout: appConfig.Pipeline.GetTimeoutDuration() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Streams monitoring endpoints
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/stats/transcription", h.withMetrics("/stats/transcription", h.handleTranscriptionStats))

	// Transcript history and file transcription
	mux.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleTranscripts))
	mux.HandleFunc("/transcripts/", h.withMetrics("/transcripts/{id}", h.handleTranscriptDetail))
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Live capture over websocket; the connection is hijacked so no status is recorded
	mux.HandleFunc("/ws/stream", h.handleWebSocket)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transcriptionStats := h.streamMgr.GetTranscriptionStats()

	components := map[string]interface{}{
		"stream_manager": map[string]interface{}{
			"status":         "running",
			"active_streams": h.streamMgr.GetActiveSessionCount(),
		},
		"transcription": map[string]interface{}{
			"status":          "running",
			"total_requests":  transcriptionStats.TotalRequests,
			"success_rate":    transcriptionStats.SuccessRate,
			"active_requests": transcriptionStats.ActiveRequests,
		},
	}
	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}
	if h.history != nil {
		components["history"] = map[string]interface{}{"status": "running"}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": Version,
			"model":   h.config.Model.Preset,
		},
		"components": components,
	})
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	infos := make([]stream.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_streams": len(infos),
		"timestamp":     time.Now().UTC(),
		"streams":       infos,
	})
}

// handleStreamDetail implements the /streams/{stream_id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamIDStr := strings.TrimPrefix(r.URL.Path, "/streams/")
	if streamIDStr == "" {
		writeError(w, http.StatusBadRequest, "stream ID required")
		return
	}

	streamID, err := strconv.ParseUint(streamIDStr, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stream ID")
		return
	}

	session, exists := h.streamMgr.GetSession(uint32(streamID))
	if !exists {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// handleConfig implements the /config endpoint. Secrets carry json:"-" tags.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.config)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"transcription": h.streamMgr.GetTranscriptionStats(),
		"streams": map[string]interface{}{
			"active_count": h.streamMgr.GetActiveSessionCount(),
		},
	}
	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}
	if h.history != nil {
		if count, err := h.history.Count(); err == nil {
			stats["history"] = map[string]interface{}{"transcripts": count}
		}
	}

	h.mu.Lock()
	stats["websocket_clients"] = h.wsClients
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.streamMgr.GetTranscriptionStats())
}

// handleTranscripts implements GET /transcripts?limit=N&stream_id=ID
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	filter := history.Filter{Source: r.URL.Query().Get("source")}
	if v := r.URL.Query().Get("stream_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stream ID")
			return
		}
		streamID := uint32(id)
		filter.StreamID = &streamID
	}

	transcripts, err := h.history.Recent(limit, filter)
	if err != nil {
		h.logger.Error("Failed to list transcripts", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if transcripts == nil {
		transcripts = []*transcription.Transcript{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

// handleTranscriptDetail implements GET /transcripts/{id}
func (h *HTTPServer) handleTranscriptDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/transcripts/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "transcript ID required")
		return
	}

	t, err := h.history.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to read transcript", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// TranscribeResponse is the body returned by POST /transcribe
type TranscribeResponse struct {
	Duration    time.Duration               `json:"duration"`
	SampleRate  int                         `json:"sample_rate"`
	Segments    []vad.Segment               `json:"segments"`
	Text        string                      `json:"text"`
	Transcripts []*transcription.Transcript `json:"transcripts"`
}

// handleTranscribe implements POST /transcribe. The body is a WAV file, or raw
// PCM16LE when the content type is audio/pcm (rate from ?sample_rate, default 16000).
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxUploadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	samples, sampleRate, err := decodeUpload(body, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	segments, err := h.splitUtterances(samples)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.Pipeline.GetTimeoutDuration())
	defer cancel()

	resp := TranscribeResponse{
		Duration:    time.Duration(len(samples)) * time.Second / time.Duration(whisper.SampleRate),
		SampleRate:  sampleRate,
		Segments:    segments,
		Transcripts: []*transcription.Transcript{},
	}
	var texts []string
	for _, seg := range segments {
		t, err := h.pipeline.Transcribe(ctx, transcription.Request{
			Source:  "http",
			Samples: samples[seg.Start:seg.End],
			Offset:  time.Duration(seg.Start) * time.Second / whisper.SampleRate,
		})
		if errors.Is(err, whisper.ErrAudioTooShort) {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusGatewayTimeout, "transcription timed out")
			return
		}
		if err != nil {
			h.logger.Error("File transcription failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "transcription failed")
			return
		}
		resp.Transcripts = append(resp.Transcripts, t)
		if t.Text != "" {
			texts = append(texts, t.Text)
		}
	}
	resp.Text = strings.Join(texts, " ")

	if len(resp.Transcripts) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no speech long enough to transcribe")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeUpload returns 16 kHz samples and the rate they were uploaded at
func decodeUpload(body []byte, r *http.Request) ([]int16, int, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "audio/pcm") || strings.HasPrefix(contentType, "audio/l16") {
		rate := whisper.SampleRate
		if v := r.URL.Query().Get("sample_rate"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, 0, fmt.Errorf("invalid sample_rate %q", v)
			}
			rate = n
		}
		pcm, err := audio.DecodePCM16LE(body)
		if err != nil {
			return nil, 0, err
		}
		samples, err := audio.Resample(pcm, rate, whisper.SampleRate)
		if err != nil {
			return nil, 0, err
		}
		return samples, rate, nil
	}

	if !bytes.HasPrefix(body, []byte("RIFF")) {
		return nil, 0, fmt.Errorf("body is not a WAV file; send audio/pcm for raw samples")
	}
	samples, info, err := audio.LoadPCM16(body, whisper.SampleRate)
	if err != nil {
		return nil, 0, err
	}
	return samples, info.SampleRate, nil
}

// splitUtterances cuts long recordings at pauses so each piece fits the model window
func (h *HTTPServer) splitUtterances(samples []int16) ([]vad.Segment, error) {
	maxLength := int(h.config.Audio.GetChunkMaxDuration().Seconds() * float64(whisper.SampleRate))

	var processor *vad.Processor
	if h.config.VAD.Enabled {
		var err error
		processor, err = vad.NewProcessor(h.config.VAD.Threshold, h.config.VAD.WindowSize, whisper.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to create VAD processor: %w", err)
		}
	}
	return vad.Split(processor, samples, h.config.VAD.GetMinSilenceDuration(), maxLength)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Aetherion speech-to-text service",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /streams":             "List all active streams",
			"GET /streams/{stream_id}": "Get detailed stream information",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /stats/transcription": "Get transcription statistics",
			"GET /transcripts":         "List recent transcripts",
			"GET /transcripts/{id}":    "Get one transcript",
			"POST /transcribe":         "Transcribe a WAV file or raw PCM16LE body",
			"GET /ws/stream":           "Live transcription over websocket",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
