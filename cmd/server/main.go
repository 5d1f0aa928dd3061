package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qaid/whispertalk/internal/audio"
	"github.com/qaid/whispertalk/internal/config"
	"github.com/qaid/whispertalk/internal/metrics"
	"github.com/qaid/whispertalk/internal/publish"
	"github.com/qaid/whispertalk/internal/server"
	"github.com/qaid/whispertalk/internal/session"
	"github.com/qaid/whispertalk/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "whispertalk"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_sessions", cfg.Server.MaxConcurrentSessions),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("overlap_duration", cfg.Audio.OverlapDuration),
		slog.Float64("silence_threshold", cfg.Audio.SilenceThreshold),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var publisher *publish.RedisPublisher
	if cfg.Redis.Enabled {
		publisher, err = publish.NewRedisPublisher(ctx, logger, publish.RedisConfig{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			Channel:       cfg.Redis.Channel,
			TranscriptTTL: cfg.Redis.GetTranscriptTTLDuration(),
		})
		if err != nil {
			logger.Error("Failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	hub := server.NewHub(logger)

	managerConfig := session.ManagerConfig{
		Session: session.Config{
			Windower: audio.WindowerConfig{
				ChunkDuration:    cfg.Audio.GetChunkDuration(),
				OverlapDuration:  cfg.Audio.GetOverlapDuration(),
				SilenceThreshold: cfg.Audio.SilenceThreshold,
				SilenceDuration:  cfg.Audio.GetSilenceDuration(),
			},
			Mixer: audio.MixerConfig{
				SampleRate:      audio.TargetSampleRate,
				PrimaryWeight:   cfg.Mixer.PrimaryWeight,
				SecondaryWeight: cfg.Mixer.SecondaryWeight,
				MaxLag:          cfg.Mixer.GetMaxLagDuration(),
			},
			FeedQueueSize: cfg.Audio.FeedQueueSize,
		},
		SubscriberFactory: hub.SubscriberFor,
	}
	if publisher != nil {
		managerConfig.Publisher = publisher
	}

	sessionMgr := session.NewManager(logger, cfg.Audio.GetSessionTimeoutDuration(),
		transcriber, appMetrics, managerConfig)
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Audio.GetSessionTimeoutDuration()),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
	)

	udpServer := server.NewUDPServer(&cfg.Server, logger, sessionMgr, appMetrics)
	logger.Info("UDP server initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, udpServer,
			transcriber, hub, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// HTTP first so no new requests arrive while the pipeline drains.
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Finalizes every live session, flushing pending windows through the
	// transcriber and publishing transcripts.
	sessionMgr.Stop()

	hub.Close()

	if err := transcriber.Close(); err != nil {
		logger.Error("Error closing transcription client", slog.String("error", err.Error()))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing redis publisher", slog.String("error", err.Error()))
		}
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("active_sessions", stats.ActiveSessions),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
