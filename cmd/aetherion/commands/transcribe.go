package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cabrel10/AetherionOS/internal/audio"
	"github.com/Cabrel10/AetherionOS/internal/sink"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
	"github.com/Cabrel10/AetherionOS/internal/vad"
	"github.com/Cabrel10/AetherionOS/internal/whisper"
)

var (
	transcribeWeights       string
	transcribeRandomWeights bool
	transcribeSeed          int64
	transcribeJSON          bool
	transcribeLanguage      string
	transcribeTimestamps    bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file",
	Long: `Transcribe a PCM WAV file of any sample rate.

Recordings longer than audio.chunk_max_duration are split at pauses found by
voice activity detection. Each utterance is printed as
"[stream] text (confidence%, ms)" unless --json is given.

Examples:
  aetherion transcribe recording.wav --weights models/tiny.aetw
  aetherion transcribe recording.wav --json
  aetherion transcribe interview.wav --language fr --timestamps`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if transcribeWeights != "" {
			cfg.Model.WeightsPath = transcribeWeights
		}
		if transcribeLanguage != "" {
			if !whisper.KnownLanguage(transcribeLanguage) {
				return fmt.Errorf("unknown language code '%s'", transcribeLanguage)
			}
			cfg.Model.Language = transcribeLanguage
		}
		if cmd.Flags().Changed("timestamps") {
			cfg.Model.Timestamps = transcribeTimestamps
		}
		logger := initLogger(cfg.Logging)

		var seed *int64
		if transcribeRandomWeights {
			seed = &transcribeSeed
		}
		model, err := loadModel(cfg.Model, logger, seed)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		samples, info, err := audio.LoadPCM16(data, whisper.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", args[0], err)
		}
		logger.Debug("Audio loaded",
			slog.String("file", args[0]),
			slog.Int("sample_rate", info.SampleRate),
			slog.Float64("duration", info.Duration))

		var processor *vad.Processor
		if cfg.VAD.Enabled {
			processor, err = vad.NewProcessor(cfg.VAD.Threshold, cfg.VAD.WindowSize, whisper.SampleRate)
			if err != nil {
				return err
			}
		}
		maxLength := int(cfg.Audio.GetChunkMaxDuration().Seconds() * float64(whisper.SampleRate))
		segments, err := vad.Split(processor, samples, cfg.VAD.GetMinSilenceDuration(), maxLength)
		if err != nil {
			return err
		}

		var out transcription.Sink
		if !transcribeJSON {
			out = sink.NewSerial(cmd.OutOrStdout())
		}
		pipeline, err := transcription.NewPipeline(model, transcription.Config{MaxConcurrent: 1}, logger, nil, out)
		if err != nil {
			return err
		}
		defer pipeline.Close()

		source := filepath.Base(args[0])
		transcripts := []*transcription.Transcript{}
		for _, seg := range segments {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.GetTimeoutDuration())
			t, err := pipeline.Transcribe(ctx, transcription.Request{
				Source:  source,
				Samples: samples[seg.Start:seg.End],
				Offset:  time.Duration(seg.Start) * time.Second / whisper.SampleRate,
			})
			cancel()
			if errors.Is(err, whisper.ErrAudioTooShort) {
				continue
			}
			if err != nil {
				return err
			}
			transcripts = append(transcripts, t)
		}

		if transcribeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(transcripts)
		}
		if len(transcripts) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no speech long enough to transcribe")
		}
		return nil
	},
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeWeights, "weights", "w", "", "AETW weight file (overrides model.weights_path)")
	transcribeCmd.Flags().BoolVar(&transcribeRandomWeights, "random-weights", false, "use untrained random weights when no weight file is set")
	transcribeCmd.Flags().Int64Var(&transcribeSeed, "seed", 1, "seed for --random-weights")
	transcribeCmd.Flags().BoolVar(&transcribeJSON, "json", false, "print transcripts as JSON")
	transcribeCmd.Flags().StringVar(&transcribeLanguage, "language", "", "language code for multilingual weights (overrides model.language)")
	transcribeCmd.Flags().BoolVar(&transcribeTimestamps, "timestamps", false, "print timed segments (overrides model.timestamps)")
	rootCmd.AddCommand(transcribeCmd)
}
