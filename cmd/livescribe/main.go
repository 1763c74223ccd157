// Command livescribe runs the streaming transcription server: it owns
// the session manager, the segment store, the live WebSocket feed, and
// the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audioloop/livescribe/internal/api"
	"github.com/audioloop/livescribe/internal/audio"
	"github.com/audioloop/livescribe/internal/config"
	"github.com/audioloop/livescribe/internal/engine"
	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/transcription"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting livescribe",
		logger.String("engine_url", cfg.Engine.URL),
		logger.Int("sample_rate", cfg.Audio.SampleRate))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	segmentStorage, err := sqlite.NewSegmentStorage(db, log)
	if err != nil {
		return err
	}

	wsServer := websocket.NewServer(log)
	defer wsServer.Close()

	engineClient := engine.NewClient(
		cfg.Engine.URL,
		cfg.Audio.SampleRate,
		time.Duration(cfg.Engine.TimeoutSec)*time.Second,
		log,
	)

	manager := transcription.NewManager(
		decodingSettings(cfg),
		captureFactory(cfg, log),
		engineClient,
		segmentStorage,
		wsServer,
		log,
	)
	defer manager.StopAll()

	if cfg.PostProcessing.Enabled {
		openaiClient := transcription.NewOpenAIClient(cfg.PostProcessing.OpenAIAPIKey, log)
		postProcessor := transcription.NewPostProcessor(ctx, segmentStorage, openaiClient, wsServer,
			transcription.PostProcessingConfig{
				Enabled:         true,
				Model:           cfg.PostProcessing.Model,
				IntervalSeconds: cfg.PostProcessing.IntervalSeconds,
				BatchSize:       cfg.PostProcessing.BatchSize,
				SystemPrompt:    cfg.PostProcessing.SystemPrompt,
			}, log)
		if err := postProcessor.Start(); err != nil {
			return fmt.Errorf("failed to start post-processor: %w", err)
		}
		defer postProcessor.Stop()
	}

	router := api.NewRouter(manager, segmentStorage, wsServer, cfg, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Error(err))
	}

	log.Info("Shutdown complete")
	return nil
}

// decodingSettings maps file configuration onto per-session settings
func decodingSettings(cfg *config.Config) transcription.DecodingSettings {
	t := cfg.Transcription
	settings := transcription.DefaultDecodingSettings()
	settings.Language = t.Language
	settings.SilenceThreshold = t.SilenceThreshold
	settings.SilenceDuration = t.SilenceDurationSec
	settings.SampleReset = t.SampleResetSec
	settings.RemainingAudioAfterPurge = t.RemainingAudioAfterPurgeSec
	settings.RemainingAudioAfterReset = t.RemainingAudioAfterResetSec
	settings.RequiredSegmentsForConfirmation = t.RequiredSegmentsForConfirmation
	settings.Temperature = t.Temperature
	settings.TemperatureFallbackCount = t.TemperatureFallbackCount
	settings.CompressionCheckWindow = t.CompressionCheckWindow
	settings.CompressionRatioThreshold = t.CompressionRatioThreshold
	settings.LogProbThreshold = t.LogProbThreshold
	settings.MaxTokensPerLoop = t.MaxTokensPerLoop
	settings.SkipSpecialTokens = t.SkipSpecialTokens
	settings.PollInterval = time.Duration(t.PollIntervalMs) * time.Millisecond
	settings.SessionTimeout = time.Duration(t.SessionTimeoutSec) * time.Second
	return settings
}

// captureFactory builds a fresh capture pipeline per session. Sources:
// an HTTP PCM stream relay, or WAV file replay. Device capture lives
// with the relay, not in this process.
func captureFactory(cfg *config.Config, log *logger.Logger) transcription.CaptureFactory {
	return func() (audio.Capture, error) {
		var source audio.Source
		switch {
		case cfg.Audio.StreamURL != "":
			source = audio.NewStreamSource(cfg.Audio.StreamURL, cfg.Audio.SampleRate, cfg.Audio.ChunkMs, 0, log)
		case cfg.Audio.WAVPath != "":
			wavSource, err := audio.NewWAVSource(cfg.Audio.WAVPath, cfg.Audio.SampleRate, cfg.Audio.ChunkMs, cfg.Audio.Realtime, log)
			if err != nil {
				return nil, fmt.Errorf("failed to open audio source: %w", err)
			}
			source = wavSource
		default:
			return nil, fmt.Errorf("no audio source configured: set audio.stream_url or audio.wav_path")
		}
		return audio.NewRecorder(source, cfg.Audio.SampleRate, log), nil
	}
}
