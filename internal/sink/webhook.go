package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

// WebhookConfig contains webhook sink configuration
type WebhookConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration // first retry delay, doubled per attempt
}

// Webhook posts transcripts as JSON to a downstream command parser
type Webhook struct {
	config     WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// WebhookStats represents webhook delivery statistics
type WebhookStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// WebhookPayload is the JSON body sent per transcript
type WebhookPayload struct {
	Transcript *transcription.Transcript `json:"transcript"`
	SentAt     time.Time                 `json:"sent_at"`
	Service    string                    `json:"service"`
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewWebhook creates a webhook sink. logger and m may be nil.
func NewWebhook(config WebhookConfig, logger *slog.Logger, m *metrics.Metrics) (*Webhook, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Webhook{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With("component", "webhook"),
		metrics:    m,
	}, nil
}

// Name returns the sink name
func (w *Webhook) Name() string {
	return "webhook"
}

// Deliver posts t, retrying transient failures with exponential backoff
func (w *Webhook) Deliver(ctx context.Context, t *transcription.Transcript) error {
	body, err := json.Marshal(WebhookPayload{
		Transcript: t,
		SentAt:     time.Now().UTC(),
		Service:    "aetherion",
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	startTime := time.Now()
	w.incrementTotalRequests()

	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			w.incrementTotalRetries()
			w.metrics.RecordSinkRetry()

			backoffTime := w.config.Backoff * time.Duration(math.Pow(2, float64(attempt-1)))
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				w.incrementFailedRequests()
				return ctx.Err()
			}
		}

		err := w.doRequest(ctx, body)
		if err == nil {
			w.incrementSuccessRequests()
			w.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err
		w.logger.Debug("Webhook attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("transcript_id", t.ID),
			slog.String("error", err.Error()))

		if !isRetryableError(err) {
			break
		}
	}

	w.incrementFailedRequests()
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

// doRequest performs a single POST
func (w *Webhook) doRequest(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "Aetherion/1.0")
	if w.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return nil
}

// isRetryableError reports whether a failed attempt may succeed later
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		// 5xx server errors and rate limiting
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

func (w *Webhook) incrementTotalRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRequests++
}

func (w *Webhook) incrementSuccessRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successRequests++
}

func (w *Webhook) incrementFailedRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failedRequests++
}

func (w *Webhook) incrementTotalRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRetries++
}

func (w *Webhook) updateAvgResponseTime(responseTime time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Simple moving average
	if w.avgResponseTime == 0 {
		w.avgResponseTime = responseTime
	} else {
		w.avgResponseTime = (w.avgResponseTime + responseTime) / 2
	}
}

// Stats returns current webhook statistics
func (w *Webhook) Stats() WebhookStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	successRate := float64(0)
	if w.totalRequests > 0 {
		successRate = float64(w.successRequests) / float64(w.totalRequests) * 100
	}

	return WebhookStats{
		TotalRequests:   w.totalRequests,
		SuccessRequests: w.successRequests,
		FailedRequests:  w.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    w.totalRetries,
		AvgResponseTime: w.avgResponseTime,
	}
}
