// Package transcription implements the streaming transcription
// controller: the loop that owns the growing audio buffer, gates
// inference on voice activity, reconciles the engine's revisable output
// into confirmed segments, and bounds buffer growth.
package transcription

import (
	"errors"
	"fmt"
	"time"

	"github.com/audioloop/livescribe/internal/engine"
)

var (
	// ErrSessionActive is returned when starting a controller twice
	ErrSessionActive = errors.New("transcription: session already active")
	// ErrSessionTimeout marks a session that hit its wall-clock budget
	ErrSessionTimeout = errors.New("transcription: session timed out")
	// ErrSessionNotFound is returned by the manager for unknown IDs
	ErrSessionNotFound = errors.New("transcription: session not found")
)

// State is the controller lifecycle state
type State int32

const (
	StateIdle State = iota
	StateActive
	StateStopping
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// DecodingSettings is the immutable per-session decode configuration.
// The controller never mutates it mid-session.
type DecodingSettings struct {
	Language string

	// Voice gate
	SilenceThreshold float64 // relative-energy margin in [0,1]
	SilenceDuration  float64 // seconds of unvoiced new audio before the silence policy runs
	SampleReset      float64 // seconds of unvoiced new audio before a full re-anchor

	// Buffer retention
	RemainingAudioAfterPurge float64 // seconds kept after a silence flush
	RemainingAudioAfterReset float64 // seconds kept after a long-silence reset

	// Confirmation
	RequiredSegmentsForConfirmation int

	// Decode
	Temperature               float64
	TemperatureFallbackCount  int
	CompressionCheckWindow    int
	CompressionRatioThreshold float64
	LogProbThreshold          float64
	MaxTokensPerLoop          int
	SkipSpecialTokens         bool

	// Loop
	PollInterval   time.Duration
	SessionTimeout time.Duration // 0 = unbounded
}

// DefaultDecodingSettings returns settings suitable for 16kHz speech
func DefaultDecodingSettings() DecodingSettings {
	return DecodingSettings{
		Language:                        "en",
		SilenceThreshold:                0.3,
		SilenceDuration:                 2.0,
		SampleReset:                     30.0,
		RemainingAudioAfterPurge:        10.0,
		RemainingAudioAfterReset:        2.0,
		RequiredSegmentsForConfirmation: 2,
		Temperature:                     0.0,
		TemperatureFallbackCount:        5,
		CompressionCheckWindow:          60,
		CompressionRatioThreshold:       2.4,
		LogProbThreshold:                -1.0,
		MaxTokensPerLoop:                128,
		SkipSpecialTokens:               true,
		PollInterval:                    100 * time.Millisecond,
	}
}

// Validate checks settings the controller cannot run with
func (s DecodingSettings) Validate() error {
	if s.RequiredSegmentsForConfirmation < 1 {
		return fmt.Errorf("required segments for confirmation must be at least 1, got %d", s.RequiredSegmentsForConfirmation)
	}
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be in [0,1], got %f", s.SilenceThreshold)
	}
	if s.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %f", s.SilenceDuration)
	}
	if s.SampleReset < s.SilenceDuration {
		return fmt.Errorf("sample reset threshold (%f) below silence duration (%f)", s.SampleReset, s.SilenceDuration)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.PollInterval)
	}
	return nil
}

// engineOptions translates the settings into per-call engine options,
// hinting the engine past already-confirmed audio
func (s DecodingSettings) engineOptions(watermark float64) engine.Options {
	return engine.Options{
		Language:                 s.Language,
		Temperature:              s.Temperature,
		TemperatureFallbackCount: s.TemperatureFallbackCount,
		SeekClip:                 watermark,
		UsePrefill:               true,
		WithTimestamps:           true,
		WordTimestamps:           true,
		MaxTokensPerLoop:         s.MaxTokensPerLoop,
		SkipSpecialTokens:        s.SkipSpecialTokens,
	}
}
