package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Cabrel10/AetherionOS/internal/config"
	"github.com/Cabrel10/AetherionOS/internal/history"
	"github.com/Cabrel10/AetherionOS/internal/metrics"
	"github.com/Cabrel10/AetherionOS/internal/server"
	"github.com/Cabrel10/AetherionOS/internal/sink"
	"github.com/Cabrel10/AetherionOS/internal/stream"
	"github.com/Cabrel10/AetherionOS/internal/transcription"
)

var (
	serveRandomWeights bool
	serveSeed          int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the UDP capture server and HTTP API",
	Long: `Run the transcription service.

Capture processes stream Start/Audio/End packets to the UDP port. Each stream
is resampled to 16 kHz, split into utterances by voice activity and
transcribed. The HTTP API serves status, history, file transcription and a
live websocket endpoint.

Examples:
  aetherion serve -c configs/config.yaml
  aetherion serve --random-weights --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveRandomWeights, "random-weights", false, "run with untrained random weights when no weights_path is set")
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 1, "seed for --random-weights")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Bool("udp_enabled", cfg.Server.Enabled),
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.Int("max_concurrent_streams", cfg.Server.MaxConcurrentStreams),
		slog.Float64("chunk_min_duration", cfg.Audio.ChunkMinDuration),
		slog.Float64("chunk_max_duration", cfg.Audio.ChunkMaxDuration),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.String("model_preset", cfg.Model.Preset),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	var seed *int64
	if serveRandomWeights {
		seed = &serveSeed
	}
	model, err := loadModel(cfg.Model, logger, seed)
	if err != nil {
		return err
	}

	sinks, store, closers, err := buildSinks(cfg, logger, appMetrics)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("Error closing sink", slog.String("error", err.Error()))
			}
		}
	}()
	logger.Info("Sinks initialized", slog.Int("count", sinks.Len()))

	pipeline, err := transcription.NewPipeline(model, transcription.Config{
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
		DeliveryTimeout: cfg.Pipeline.GetDeliveryTimeoutDuration(),
	}, logger, appMetrics, sinks)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	streamMgr, err := stream.NewManager(logger, stream.ManagerConfigFrom(cfg), pipeline, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create stream manager: %w", err)
	}

	var udpServer *server.UDPServer
	if cfg.Server.Enabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, streamMgr, appMetrics)
		if err := udpServer.Start(); err != nil {
			streamMgr.Stop()
			return err
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer, err = server.NewHTTPServer(cfg, logger, server.Dependencies{
			StreamManager: streamMgr,
			Pipeline:      pipeline,
			UDPServer:     udpServer,
			History:       store,
			Metrics:       appMetrics,
			Gatherer:      prometheus.DefaultGatherer,
		})
		if err != nil {
			if udpServer != nil {
				_ = udpServer.Stop()
			}
			streamMgr.Stop()
			return err
		}
		if err := httpServer.Start(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		cancel()
	}

	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
	}

	// finalizes open utterances and waits for their transcripts
	streamMgr.Stop()
	_ = pipeline.Close()

	logger.Info("Service stopped")
	return nil
}

// buildSinks assembles the enabled transcript sinks. The history store, when
// enabled, is both a sink and the backing store for /transcripts.
func buildSinks(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*sink.Multi, *history.Store, []io.Closer, error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	multi := sink.NewMulti(m)

	if cfg.Sinks.Log.Enabled {
		multi.Add(sink.NewLog(logger))
	}

	if cfg.Sinks.Serial.Enabled {
		out, err := sink.OpenOutput(cfg.Sinks.Serial.Output)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, out)
		multi.Add(sink.NewSerial(out))
	}

	if cfg.Sinks.Webhook.Enabled {
		webhook, err := sink.NewWebhook(sink.WebhookConfig{
			Endpoint:   cfg.Sinks.Webhook.Endpoint,
			APIKey:     cfg.Sinks.Webhook.APIKey,
			Timeout:    cfg.Sinks.Webhook.GetTimeoutDuration(),
			MaxRetries: cfg.Sinks.Webhook.MaxRetries,
		}, logger, m)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to create webhook sink: %w", err)
		}
		multi.Add(webhook)
	}

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(history.Options{
			Dir:       cfg.History.Dir,
			InMemory:  cfg.History.InMemory,
			Retention: cfg.History.GetRetentionDuration(),
			Logger:    logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, store)
		multi.Add(store)
	}

	return multi, store, closers, nil
}
