package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Audio    AudioConfig    `yaml:"audio" json:"audio"`
	VAD      VADConfig      `yaml:"vad" json:"vad"`
	Model    ModelConfig    `yaml:"model" json:"model"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Sinks    SinksConfig    `yaml:"sinks" json:"sinks"`
	History  HistoryConfig  `yaml:"history" json:"history"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig contains UDP capture ingest configuration
type ServerConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled"`
	UDPPort              int    `yaml:"udp_port" json:"udp_port"`
	BindAddress          string `yaml:"bind_address" json:"bind_address"`
	BufferSize           int    `yaml:"buffer_size" json:"buffer_size"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`
	Workers              int    `yaml:"workers" json:"workers"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port" json:"port"`
	Address        string `yaml:"address" json:"address"`
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// AudioConfig contains audio admission and segmentation parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate" json:"sample_rate"`
	BufferDurationMs int     `yaml:"buffer_duration_ms" json:"buffer_duration_ms"`
	ChunkMinDuration float64 `yaml:"chunk_min_duration" json:"chunk_min_duration"` // seconds
	ChunkMaxDuration float64 `yaml:"chunk_max_duration" json:"chunk_max_duration"` // seconds
	StreamTimeout    int     `yaml:"stream_timeout" json:"stream_timeout"`         // seconds
	MaxSequenceGap   int     `yaml:"max_sequence_gap" json:"max_sequence_gap"`     // packets
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	Threshold          float32 `yaml:"threshold" json:"threshold"`
	WindowSize         int     `yaml:"window_size" json:"window_size"`                   // samples
	MinSpeechDuration  float64 `yaml:"min_speech_duration" json:"min_speech_duration"`   // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration" json:"min_silence_duration"` // seconds
}

// ModelConfig selects the speech model architecture and weights
type ModelConfig struct {
	Preset      string             `yaml:"preset" json:"preset"` // tiny, base or custom
	WeightsPath string             `yaml:"weights_path" json:"weights_path"`
	MaxTokens   int                `yaml:"max_tokens" json:"max_tokens"`
	Language    string             `yaml:"language,omitempty" json:"language,omitempty"` // empty detects it
	Timestamps  bool               `yaml:"timestamps" json:"timestamps"`
	Custom      *CustomModelConfig `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// CustomModelConfig describes a non-preset architecture
type CustomModelConfig struct {
	VocabSize    int `yaml:"vocab_size" json:"vocab_size"`
	AudioLayers  int `yaml:"audio_layers" json:"audio_layers"`
	TextLayers   int `yaml:"text_layers" json:"text_layers"`
	HiddenSize   int `yaml:"hidden_size" json:"hidden_size"`
	Heads        int `yaml:"heads" json:"heads"`
	MelBins      int `yaml:"mel_bins" json:"mel_bins"`
	AudioContext int `yaml:"audio_context" json:"audio_context"`
	TextContext  int `yaml:"text_context" json:"text_context"`
}

// PipelineConfig contains transcription pipeline limits
type PipelineConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent" json:"max_concurrent"`
	Timeout         int `yaml:"timeout" json:"timeout"`                   // seconds
	DeliveryTimeout int `yaml:"delivery_timeout" json:"delivery_timeout"` // seconds
}

// SinksConfig selects where transcripts are delivered
type SinksConfig struct {
	Log     LogSinkConfig     `yaml:"log" json:"log"`
	Serial  SerialSinkConfig  `yaml:"serial" json:"serial"`
	Webhook WebhookSinkConfig `yaml:"webhook" json:"webhook"`
}

// LogSinkConfig enables structured logging of every transcript
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// SerialSinkConfig writes display-safe transcript lines to a console or device
type SerialSinkConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Output  string `yaml:"output" json:"output"` // stdout, stderr or a device/file path
}

// WebhookSinkConfig posts transcripts to a command-parsing service
type WebhookSinkConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKey     string `yaml:"api_key" json:"-"`
	Timeout    int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// HistoryConfig controls the local transcript store
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Dir       string `yaml:"dir" json:"dir"`
	InMemory  bool   `yaml:"in_memory" json:"in_memory"`
	Retention int    `yaml:"retention" json:"retention"` // hours, 0 keeps forever
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration suitable for local use without a config file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:              true,
			UDPPort:              4444,
			BindAddress:          "0.0.0.0",
			BufferSize:           65536,
			MaxConcurrentStreams: 16,
			Workers:              4,
		},
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "0.0.0.0",
			Enabled:        true,
			MaxUploadBytes: 32 << 20,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			BufferDurationMs: 30000,
			ChunkMinDuration: 0.5,
			ChunkMaxDuration: 25,
			StreamTimeout:    60,
			MaxSequenceGap:   20,
		},
		VAD: VADConfig{
			Enabled:            true,
			Threshold:          0.5,
			WindowSize:         512,
			MinSpeechDuration:  0.3,
			MinSilenceDuration: 0.6,
		},
		Model: ModelConfig{
			Preset:    "tiny",
			MaxTokens: 224,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:   2,
			Timeout:         30,
			DeliveryTimeout: 30,
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true},
		},
		History: HistoryConfig{
			InMemory: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.MaxUploadBytes < 1024 {
			return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", h.MaxUploadBytes)
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz to match the model input, got %d", a.SampleRate)
	}

	if a.BufferDurationMs < 100 {
		return fmt.Errorf("buffer_duration_ms must be at least 100, got %d", a.BufferDurationMs)
	}

	if a.ChunkMinDuration <= 0 {
		return fmt.Errorf("chunk_min_duration must be positive, got %f", a.ChunkMinDuration)
	}

	if a.ChunkMaxDuration <= a.ChunkMinDuration {
		return fmt.Errorf("chunk_max_duration (%f) must be greater than chunk_min_duration (%f)",
			a.ChunkMaxDuration, a.ChunkMinDuration)
	}

	if a.ChunkMaxDuration*1000 > float64(a.BufferDurationMs) {
		return fmt.Errorf("chunk_max_duration (%fs) cannot exceed the buffer (%dms)",
			a.ChunkMaxDuration, a.BufferDurationMs)
	}

	if a.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", a.StreamTimeout)
	}

	if a.MaxSequenceGap < 0 {
		return fmt.Errorf("max_sequence_gap cannot be negative, got %d", a.MaxSequenceGap)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	return nil
}

// Validate validates model configuration
func (m *ModelConfig) Validate() error {
	switch m.Preset {
	case "tiny", "base":
	case "custom":
		if m.Custom == nil {
			return fmt.Errorf("preset 'custom' requires a custom section")
		}
		c := m.Custom
		if c.VocabSize < 4 || c.AudioLayers < 1 || c.TextLayers < 1 || c.HiddenSize < 4 ||
			c.Heads < 1 || c.MelBins < 1 || c.AudioContext < 1 || c.TextContext < 2 {
			return fmt.Errorf("custom model dimensions must be positive: %+v", *c)
		}
	default:
		return fmt.Errorf("preset must be one of [tiny, base, custom], got '%s'", m.Preset)
	}

	if m.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", m.MaxTokens)
	}

	if m.Language != "" && !whisper.KnownLanguage(m.Language) {
		return fmt.Errorf("unknown language code '%s'", m.Language)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	if p.DeliveryTimeout < 1 {
		return fmt.Errorf("delivery_timeout must be at least 1 second, got %d", p.DeliveryTimeout)
	}

	return nil
}

// Validate validates sink configuration
func (s *SinksConfig) Validate() error {
	if s.Serial.Enabled && s.Serial.Output == "" {
		return fmt.Errorf("serial output cannot be empty when the serial sink is enabled")
	}

	if s.Webhook.Enabled {
		if s.Webhook.Endpoint == "" {
			return fmt.Errorf("webhook endpoint cannot be empty")
		}

		if s.Webhook.Timeout < 1 {
			return fmt.Errorf("webhook timeout must be at least 1 second, got %d", s.Webhook.Timeout)
		}

		if s.Webhook.MaxRetries < 0 {
			return fmt.Errorf("webhook max_retries cannot be negative, got %d", s.Webhook.MaxRetries)
		}
	}

	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	if h.Enabled && !h.InMemory && h.Dir == "" {
		return fmt.Errorf("dir cannot be empty for an on-disk history")
	}

	if h.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", h.Retention)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetStreamTimeoutDuration returns the stream timeout as a time.Duration
func (a *AudioConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(a.StreamTimeout) * time.Second
}

// GetChunkMinDuration returns the minimum chunk duration as a time.Duration
func (a *AudioConfig) GetChunkMinDuration() time.Duration {
	return time.Duration(a.ChunkMinDuration * float64(time.Second))
}

// GetChunkMaxDuration returns the maximum chunk duration as a time.Duration
func (a *AudioConfig) GetChunkMaxDuration() time.Duration {
	return time.Duration(a.ChunkMaxDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}

// GetTimeoutDuration returns the pipeline timeout as a time.Duration
func (p *PipelineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetDeliveryTimeoutDuration returns the sink delivery timeout as a time.Duration
func (p *PipelineConfig) GetDeliveryTimeoutDuration() time.Duration {
	return time.Duration(p.DeliveryTimeout) * time.Second
}

// GetTimeoutDuration returns the webhook timeout as a time.Duration
func (w *WebhookSinkConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// GetRetentionDuration returns the history retention as a time.Duration
func (h *HistoryConfig) GetRetentionDuration() time.Duration {
	return time.Duration(h.Retention) * time.Hour
}
