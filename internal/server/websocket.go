package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsEvent is a JSON frame sent to websocket clients
type wsEvent struct {
	Type       string                    `json:"type"` // ready or transcript
	StreamID   uint32                    `json:"stream_id"`
	SampleRate int                       `json:"sample_rate,omitempty"`
	Transcript *transcription.Transcript `json:"transcript,omitempty"`
}

// handleWebSocket implements /ws/stream?sample_rate=N&source=name. Binary frames
// carry PCM16LE audio, the text frame "flush" ends the current utterance, and
// transcripts come back as JSON text frames.
func (h *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sampleRate := whisper.SampleRate
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid sample_rate")
			return
		}
		sampleRate = n
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "websocket"
	}

	session, err := h.streamMgr.CreateLocalSession(source, sampleRate)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer h.streamMgr.RemoveSession(session.ID)

	transcripts, unsubscribe := h.streamMgr.Subscribe(session.ID)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.trackClient(1)
	defer h.trackClient(-1)

	logger := h.logger.With(slog.Uint64("stream_id", uint64(session.ID)), slog.String("remote_addr", r.RemoteAddr))
	logger.Info("Websocket client connected", slog.Int("sample_rate", sampleRate))

	if err := writeWSEvent(conn, wsEvent{Type: "ready", StreamID: session.ID, SampleRate: sampleRate}); err != nil {
		logger.Warn("Websocket write failed", slog.String("error", err.Error()))
		return
	}

	// from here on the writer goroutine owns every write to conn
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wsWriter(conn, transcripts, done, logger)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Websocket read failed", slog.String("error", err.Error()))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			pcm, err := audio.DecodePCM16LE(data)
			if err == nil {
				err = session.AddPCM(pcm)
			}
			if err != nil {
				logger.Debug("Rejected websocket audio", slog.String("error", err.Error()))
			}
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) == "flush" {
				session.Flush()
			}
		}
	}

	close(done)
	<-writerDone

	logger.Info("Websocket client disconnected")
}

func writeWSEvent(conn *websocket.Conn, ev wsEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}

// wsWriter forwards transcripts and keeps the connection alive with pings
func wsWriter(conn *websocket.Conn, transcripts <-chan *transcription.Transcript, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case t := <-transcripts:
			if err := writeWSEvent(conn, wsEvent{Type: "transcript", StreamID: t.StreamID, Transcript: t}); err != nil {
				logger.Debug("Websocket write failed", slog.String("error", err.Error()))
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				logger.Debug("Websocket ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (h *HTTPServer) trackClient(delta int) {
	h.mu.Lock()
	h.wsClients += delta
	count := h.wsClients
	h.mu.Unlock()
	h.metrics.SetWebSocketClients(count)
}
