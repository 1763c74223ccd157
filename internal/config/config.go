package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for the livescribe server
type Config struct {
	Server         ServerConfig         `toml:"server"`
	Logging        LoggingConfig        `toml:"logging"`
	Storage        StorageConfig        `toml:"storage"`
	Audio          AudioConfig          `toml:"audio"`
	Transcription  TranscriptionConfig  `toml:"transcription"`
	Engine         EngineConfig         `toml:"engine"`
	PostProcessing PostProcessingConfig `toml:"post_processing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ReadTimeoutSec     int      `toml:"read_timeout_sec"`
	WriteTimeoutSec    int      `toml:"write_timeout_sec"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StorageConfig represents SQLite storage configuration
type StorageConfig struct {
	Path string `toml:"path"`
}

// AudioConfig represents audio capture configuration
type AudioConfig struct {
	SampleRate int    `toml:"sample_rate"`
	ChunkMs    int    `toml:"chunk_ms"`
	StreamURL  string `toml:"stream_url"` // HTTP PCM16 stream source
	WAVPath    string `toml:"wav_path"`   // file replay source
	Realtime   bool   `toml:"realtime"`   // pace file replay at wall-clock speed
}

// TranscriptionConfig holds the decoding settings applied to every session
type TranscriptionConfig struct {
	Language                        string  `toml:"language"`
	SilenceThreshold                float64 `toml:"silence_threshold"`
	SilenceDurationSec              float64 `toml:"silence_duration_sec"`
	SampleResetSec                  float64 `toml:"sample_reset_sec"`
	RemainingAudioAfterPurgeSec     float64 `toml:"remaining_audio_after_purge_sec"`
	RemainingAudioAfterResetSec     float64 `toml:"remaining_audio_after_reset_sec"`
	RequiredSegmentsForConfirmation int     `toml:"required_segments_for_confirmation"`
	Temperature                     float64 `toml:"temperature"`
	TemperatureFallbackCount        int     `toml:"temperature_fallback_count"`
	CompressionCheckWindow          int     `toml:"compression_check_window"`
	CompressionRatioThreshold       float64 `toml:"compression_ratio_threshold"`
	LogProbThreshold                float64 `toml:"logprob_threshold"`
	MaxTokensPerLoop                int     `toml:"max_tokens_per_loop"`
	SkipSpecialTokens               bool    `toml:"skip_special_tokens"`
	PollIntervalMs                  int     `toml:"poll_interval_ms"`
	SessionTimeoutSec               int     `toml:"session_timeout_sec"` // 0 = no wall-clock budget
}

// EngineConfig represents the streaming inference engine connection
type EngineConfig struct {
	URL        string `toml:"url"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// PostProcessingConfig represents the optional LLM cleanup pass
type PostProcessingConfig struct {
	Enabled         bool   `toml:"enabled"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	Model           string `toml:"model"`
	IntervalSeconds int    `toml:"interval_seconds"`
	BatchSize       int    `toml:"batch_size"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	SystemPrompt    string `toml:"system_prompt"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Path: "livescribe.db",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			ChunkMs:    100,
			Realtime:   true,
		},
		Transcription: TranscriptionConfig{
			Language:                        "en",
			SilenceThreshold:                0.3,
			SilenceDurationSec:              2.0,
			SampleResetSec:                  30.0,
			RemainingAudioAfterPurgeSec:     10.0,
			RemainingAudioAfterResetSec:     2.0,
			RequiredSegmentsForConfirmation: 2,
			Temperature:                     0.0,
			TemperatureFallbackCount:        5,
			CompressionCheckWindow:          60,
			CompressionRatioThreshold:       2.4,
			LogProbThreshold:                -1.0,
			MaxTokensPerLoop:                128,
			SkipSpecialTokens:               true,
			PollIntervalMs:                  100,
			SessionTimeoutSec:               0,
		},
		Engine: EngineConfig{
			URL:        "ws://127.0.0.1:9090/transcribe",
			TimeoutSec: 60,
		},
		PostProcessing: PostProcessingConfig{
			Enabled:         false,
			Model:           "gpt-4o-mini",
			IntervalSeconds: 15,
			BatchSize:       10,
			TimeoutSeconds:  30,
		},
	}
}

// Load reads the configuration from a TOML file, applying defaults for
// any fields the file does not set
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.ChunkMs <= 0 {
		return fmt.Errorf("audio chunk size must be positive, got %dms", c.Audio.ChunkMs)
	}
	t := c.Transcription
	if t.SilenceThreshold < 0 || t.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be in [0,1], got %f", t.SilenceThreshold)
	}
	if t.RequiredSegmentsForConfirmation < 1 {
		return fmt.Errorf("required segments for confirmation must be at least 1, got %d", t.RequiredSegmentsForConfirmation)
	}
	if t.SilenceDurationSec <= 0 {
		return fmt.Errorf("silence duration must be positive, got %f", t.SilenceDurationSec)
	}
	if t.SampleResetSec < t.SilenceDurationSec {
		return fmt.Errorf("sample reset threshold (%f) must not be below silence duration (%f)", t.SampleResetSec, t.SilenceDurationSec)
	}
	if t.CompressionCheckWindow <= 0 {
		return fmt.Errorf("compression check window must be positive, got %d", t.CompressionCheckWindow)
	}
	if t.CompressionRatioThreshold <= 1 {
		return fmt.Errorf("compression ratio threshold must exceed 1, got %f", t.CompressionRatioThreshold)
	}
	if t.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive, got %dms", t.PollIntervalMs)
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("engine URL must be set")
	}
	if c.PostProcessing.Enabled && c.PostProcessing.OpenAIAPIKey == "" {
		return fmt.Errorf("post-processing is enabled but no OpenAI API key is configured")
	}
	return nil
}
