package whisper

import "fmt"

// Config holds the architectural hyperparameters of a model. It is a plain value:
// copies compare equal with == and nothing mutates it after construction.
type Config struct {
	VocabSize    int `json:"vocab_size" msgpack:"vocab_size"`
	AudioLayers  int `json:"audio_layers" msgpack:"audio_layers"`
	TextLayers   int `json:"text_layers" msgpack:"text_layers"`
	HiddenSize   int `json:"hidden_size" msgpack:"hidden_size"`
	Heads        int `json:"heads" msgpack:"heads"`
	MelBins      int `json:"mel_bins" msgpack:"mel_bins"`
	AudioContext int `json:"audio_context" msgpack:"audio_context"`
	TextContext  int `json:"text_context" msgpack:"text_context"`
}

const (
	defaultAudioContext = 1500
	defaultTextContext  = 448
	defaultVocabSize    = 51864
	defaultMelBins      = 80
)

// Tiny returns the tiny preset: 4+4 layers, 384 wide, 6 heads
func Tiny() Config {
	return Config{
		VocabSize:    defaultVocabSize,
		AudioLayers:  4,
		TextLayers:   4,
		HiddenSize:   384,
		Heads:        6,
		MelBins:      defaultMelBins,
		AudioContext: defaultAudioContext,
		TextContext:  defaultTextContext,
	}
}

// Base returns the base preset: 6+6 layers, 512 wide, 8 heads
func Base() Config {
	return Config{
		VocabSize:    defaultVocabSize,
		AudioLayers:  6,
		TextLayers:   6,
		HiddenSize:   512,
		Heads:        8,
		MelBins:      defaultMelBins,
		AudioContext: defaultAudioContext,
		TextContext:  defaultTextContext,
	}
}

// NewConfig builds a custom configuration with the default context lengths
func NewConfig(vocabSize, audioLayers, textLayers, hiddenSize, heads, melBins int) (Config, error) {
	cfg := Config{
		VocabSize:    vocabSize,
		AudioLayers:  audioLayers,
		TextLayers:   textLayers,
		HiddenSize:   hiddenSize,
		Heads:        heads,
		MelBins:      melBins,
		AudioContext: defaultAudioContext,
		TextContext:  defaultTextContext,
	}
	return cfg, cfg.Validate()
}

// WithContext returns a copy of c with different context lengths
func (c Config) WithContext(audioContext, textContext int) (Config, error) {
	c.AudioContext = audioContext
	c.TextContext = textContext
	return c, c.Validate()
}

// Preset resolves a preset name used by configuration files and the CLI
func Preset(name string) (Config, error) {
	switch name {
	case "tiny":
		return Tiny(), nil
	case "base":
		return Base(), nil
	default:
		return Config{}, fmt.Errorf("unknown model preset %q (want tiny or base)", name)
	}
}

// Validate checks that the hyperparameters describe a buildable model
func (c Config) Validate() error {
	if c.VocabSize < 4 {
		return fmt.Errorf("vocab size must be at least 4, got %d", c.VocabSize)
	}
	if c.AudioLayers <= 0 || c.TextLayers <= 0 {
		return fmt.Errorf("layer counts must be positive, got audio=%d text=%d", c.AudioLayers, c.TextLayers)
	}
	if c.HiddenSize < 4 || c.HiddenSize%2 != 0 {
		return fmt.Errorf("hidden size must be even and at least 4, got %d", c.HiddenSize)
	}
	if c.Heads <= 0 || c.HiddenSize%c.Heads != 0 {
		return fmt.Errorf("hidden size %d must be divisible by head count %d", c.HiddenSize, c.Heads)
	}
	if c.MelBins <= 0 {
		return fmt.Errorf("mel bins must be positive, got %d", c.MelBins)
	}
	if c.AudioContext <= 0 || c.TextContext < 2 {
		return fmt.Errorf("invalid context lengths audio=%d text=%d", c.AudioContext, c.TextContext)
	}
	return nil
}

// HeadDim returns the width of a single attention head
func (c Config) HeadDim() int {
	return c.HiddenSize / c.Heads
}

// MaxFrames returns the longest feature sequence the encoder accepts
func (c Config) MaxFrames() int {
	return 2 * c.AudioContext
}
