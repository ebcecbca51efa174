package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			modify:      func(c *Config) { c.Server.UDPPort = 70000 },
			expectError: true,
			errorMsg:    "udp_port must be between 1 and 65535",
		},
		{
			name: "disabled ingest skips server checks",
			modify: func(c *Config) {
				c.Server.Enabled = false
				c.Server.UDPPort = 0
			},
			expectError: false,
		},
		{
			name:        "sample rate other than model rate",
			modify:      func(c *Config) { c.Audio.SampleRate = 8000 },
			expectError: true,
			errorMsg:    "sample_rate must be 16000",
		},
		{
			name: "chunk max not above min",
			modify: func(c *Config) {
				c.Audio.ChunkMinDuration = 5
				c.Audio.ChunkMaxDuration = 5
			},
			expectError: true,
			errorMsg:    "chunk_max_duration",
		},
		{
			name:        "chunk longer than buffer",
			modify:      func(c *Config) { c.Audio.BufferDurationMs = 10000 },
			expectError: true,
			errorMsg:    "cannot exceed the buffer",
		},
		{
			name:        "vad window too small",
			modify:      func(c *Config) { c.VAD.WindowSize = 128 },
			expectError: true,
			errorMsg:    "window_size must be between 256 and 2048",
		},
		{
			name:        "vad threshold above one",
			modify:      func(c *Config) { c.VAD.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between 0 and 1",
		},
		{
			name:        "unknown model preset",
			modify:      func(c *Config) { c.Model.Preset = "large" },
			expectError: true,
			errorMsg:    "preset must be one of",
		},
		{
			name:        "custom preset without dimensions",
			modify:      func(c *Config) { c.Model.Preset = "custom" },
			expectError: true,
			errorMsg:    "requires a custom section",
		},
		{
			name: "custom preset with dimensions",
			modify: func(c *Config) {
				c.Model.Preset = "custom"
				c.Model.Custom = &CustomModelConfig{
					VocabSize: 300, AudioLayers: 1, TextLayers: 1, HiddenSize: 8,
					Heads: 2, MelBins: 8, AudioContext: 16, TextContext: 8,
				}
			},
			expectError: false,
		},
		{
			name:        "zero max tokens",
			modify:      func(c *Config) { c.Model.MaxTokens = 0 },
			expectError: true,
			errorMsg:    "max_tokens must be at least 1",
		},
		{
			name:        "zero pipeline concurrency",
			modify:      func(c *Config) { c.Pipeline.MaxConcurrent = 0 },
			expectError: true,
			errorMsg:    "max_concurrent must be at least 1",
		},
		{
			name:        "unknown language",
			modify:      func(c *Config) { c.Model.Language = "klingon" },
			expectError: true,
			errorMsg:    "unknown language code",
		},
		{
			name:        "known language",
			modify:      func(c *Config) { c.Model.Language = "fr" },
			expectError: false,
		},
		{
			name:        "zero delivery timeout",
			modify:      func(c *Config) { c.Pipeline.DeliveryTimeout = 0 },
			expectError: true,
			errorMsg:    "delivery_timeout must be at least 1 second",
		},
		{
			name: "webhook without endpoint",
			modify: func(c *Config) {
				c.Sinks.Webhook.Enabled = true
				c.Sinks.Webhook.Timeout = 5
			},
			expectError: true,
			errorMsg:    "webhook endpoint cannot be empty",
		},
		{
			name: "on-disk history without dir",
			modify: func(c *Config) {
				c.History.Enabled = true
				c.History.InMemory = false
			},
			expectError: true,
			errorMsg:    "dir cannot be empty",
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	// Create a temporary directory for test files
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  udp_port: 5555
  bind_address: "127.0.0.1"
audio:
  sample_rate: 16000
  buffer_duration_ms: 20000
  chunk_min_duration: 1.0
  chunk_max_duration: 15.0
model:
  preset: base
  weights_path: /var/lib/aetherion/base.aetw
  max_tokens: 100
sinks:
  serial:
    enabled: true
    output: stdout
logging:
  level: "debug"
  format: "json"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  udp_port: 4444
  buffer_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "empty bind address",
			configYAML: `
server:
  udp_port: 4444
  bind_address: ""
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary config file
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Server.UDPPort != 5555 || config.Server.BindAddress != "127.0.0.1" {
				t.Errorf("Server section not loaded: %+v", config.Server)
			}
			// unspecified fields keep their defaults
			if config.Server.BufferSize != 65536 {
				t.Errorf("Expected default buffer size, got %d", config.Server.BufferSize)
			}
			if config.Model.Preset != "base" || config.Model.MaxTokens != 100 {
				t.Errorf("Model section not loaded: %+v", config.Model)
			}
			if !config.Sinks.Serial.Enabled || config.Sinks.Serial.Output != "stdout" {
				t.Errorf("Serial sink not loaded: %+v", config.Sinks.Serial)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected file read error, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()
	config.Audio.StreamTimeout = 90
	config.Audio.ChunkMinDuration = 0.5
	config.Audio.ChunkMaxDuration = 2.5
	config.VAD.MinSpeechDuration = 0.25
	config.VAD.MinSilenceDuration = 0.75
	config.Pipeline.Timeout = 12
	config.Pipeline.DeliveryTimeout = 7
	config.Sinks.Webhook.Timeout = 4
	config.History.Retention = 48

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"stream timeout", config.Audio.GetStreamTimeoutDuration(), 90 * time.Second},
		{"chunk min", config.Audio.GetChunkMinDuration(), 500 * time.Millisecond},
		{"chunk max", config.Audio.GetChunkMaxDuration(), 2500 * time.Millisecond},
		{"min speech", config.VAD.GetMinSpeechDuration(), 250 * time.Millisecond},
		{"min silence", config.VAD.GetMinSilenceDuration(), 750 * time.Millisecond},
		{"pipeline timeout", config.Pipeline.GetTimeoutDuration(), 12 * time.Second},
		{"delivery timeout", config.Pipeline.GetDeliveryTimeoutDuration(), 7 * time.Second},
		{"webhook timeout", config.Sinks.Webhook.GetTimeoutDuration(), 4 * time.Second},
		{"retention", config.History.GetRetentionDuration(), 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}
