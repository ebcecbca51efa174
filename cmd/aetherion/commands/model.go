package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

// modelConfig resolves the configured preset or custom dimensions
func modelConfig(cfg config.ModelConfig) (whisper.Config, error) {
	if cfg.Preset != "custom" {
		return whisper.Preset(cfg.Preset)
	}
	if cfg.Custom == nil {
		return whisper.Config{}, fmt.Errorf("preset 'custom' requires a custom section")
	}

	c := cfg.Custom
	mc, err := whisper.NewConfig(c.VocabSize, c.AudioLayers, c.TextLayers, c.HiddenSize, c.Heads, c.MelBins)
	if err != nil {
		return whisper.Config{}, err
	}
	return mc.WithContext(c.AudioContext, c.TextContext)
}

// loadModel builds the model and loads weights_path. With randomSeed set and no
// weights path, untrained random weights are installed instead.
func loadModel(cfg config.ModelConfig, logger *slog.Logger, randomSeed *int64) (*whisper.Model, error) {
	mc, err := modelConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}

	model := whisper.New(mc,
		whisper.WithLogger(logger),
		whisper.WithMaxTokens(cfg.MaxTokens),
		whisper.WithLanguage(cfg.Language),
		whisper.WithTimestamps(cfg.Timestamps))

	switch {
	case cfg.WeightsPath != "":
		data, err := os.ReadFile(cfg.WeightsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read weights: %w", err)
		}
		file, err := whisper.DecodeWeights(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", cfg.WeightsPath, err)
		}
		if file.Config != mc {
			return nil, fmt.Errorf("%w: %s was built for %+v, configuration asks for %+v",
				whisper.ErrWeightShape, cfg.WeightsPath, file.Config, mc)
		}
		if err := model.LoadWeightFile(file); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", cfg.WeightsPath, err)
		}

	case randomSeed != nil:
		logger.Warn("Using untrained random weights", slog.Int64("seed", *randomSeed))
		file := &whisper.WeightFile{
			Version: whisper.WeightFormatVersion,
			Config:  mc,
			Tensors: whisper.RandomWeights(mc, *randomSeed),
		}
		if err := model.LoadWeightFile(file); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("model.weights_path is not set (use --random-weights for a smoke test)")
	}

	return model, nil
}
