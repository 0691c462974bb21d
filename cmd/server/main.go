package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mezbaul-h/june/internal/api"
	"github.com/mezbaul-h/june/internal/assembler"
	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/config"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/pipeline"
	"github.com/mezbaul-h/june/internal/provider/registry"
	"github.com/mezbaul-h/june/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("generator", cfg.Providers.Generator).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("June API server starting")

	set, err := registry.Build(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create providers")
	}
	defer set.Close()

	sizeMode, err := audio.ParseSizeMode(cfg.HeaderSizeMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid header size mode")
	}
	responder := pipeline.NewResponder(set.Generator, set.Synthesizer, pipeline.Options{
		MinChunkSize: cfg.MinChunkSize,
		QueueSize:    cfg.QueueSize,
		SystemPrompt: cfg.SystemPrompt,
		Format:       audio.DefaultFormat(cfg.SampleRate),
		Assembler: []assembler.Option{
			assembler.WithBlockSize(cfg.BlockSize),
			assembler.WithSizeMode(sizeMode),
		},
	})

	mux := http.NewServeMux()
	api.NewHandler(responder, set.Transcriber).Register(mux)
	mux.Handle("/ws/voice", session.NewHandler(cfg, set.Generator, set.Transcriber, set.Synthesizer))

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(set.Checks()))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: chat responses and voice sessions stream for as
	// long as the conversation lasts
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return
	}

	logger.Info().Msg("Server exited gracefully")
}
