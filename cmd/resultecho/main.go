// Command resultecho is a development receiver for the webhook sink. It logs every
// transcript it receives and can inject failures to exercise delivery retries.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/Cabrel10/AetherionOS/internal/sink"
)

type echoHandler struct {
	logger    *slog.Logger
	apiKey    string
	failEvery uint64
	received  atomic.Uint64
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+h.apiKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	n := h.received.Add(1)
	if h.failEvery > 0 && n%h.failEvery == 0 {
		h.logger.Warn("Injecting failure", slog.Uint64("request", n))
		http.Error(w, "Injected failure", http.StatusServiceUnavailable)
		return
	}

	var payload sink.WebhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Transcript == nil {
		http.Error(w, "Missing transcript", http.StatusBadRequest)
		return
	}

	t := payload.Transcript
	h.logger.Info("Transcript received",
		slog.String("id", t.ID),
		slog.Uint64("stream_id", uint64(t.StreamID)),
		slog.String("source", t.Source),
		slog.String("text", t.Text),
		slog.Float64("confidence", float64(t.Confidence)),
		slog.Duration("audio", t.AudioDuration),
		slog.Duration("processing", t.ProcessingTime),
		slog.String("service", payload.Service),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"received": t.ID, "count": n})
}

func main() {
	var (
		addr      string
		apiKey    string
		failEvery uint64
	)

	cmd := &cobra.Command{
		Use:   "resultecho",
		Short: "Log transcripts posted by the webhook sink",
		Long: `Log transcripts posted by the webhook sink.

Point sinks.webhook.endpoint at http://localhost:9000/transcripts.

Examples:
  resultecho --addr :9000
  resultecho --api-key secret --fail-every 3`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			mux := http.NewServeMux()
			mux.Handle("/transcripts", &echoHandler{logger: logger, apiKey: apiKey, failEvery: failEvery})

			logger.Info("Result echo server starting",
				slog.String("address", addr),
				slog.String("endpoint", "http://"+strings.TrimPrefix(addr, "0.0.0.0")+"/transcripts"))
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "require this bearer token")
	cmd.Flags().Uint64Var(&failEvery, "fail-every", 0, "answer every Nth request with 503")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
