// Package engine defines the boundary to the speech-to-text inference
// engine. The engine itself (model loading, accelerator dispatch) is an
// external collaborator; this package carries the call contract and a
// streaming client for engines reachable over WebSocket.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrDecodeFailed wraps unrecoverable inference failures
var ErrDecodeFailed = errors.New("engine: decode failed")

// Word carries per-word timing and probability detail within a segment
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Segment is a timestamped span of recognized text. Segments are
// produced only by an engine for a given buffer snapshot; once the
// confirmation machinery accepts one it is immutable.
type Segment struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Start      float64   `json:"start"` // seconds from buffer origin
	End        float64   `json:"end"`
	AvgLogProb float64   `json:"avg_logprob"`
	Words      []Word    `json:"words,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Timings carries per-pass performance measurements
type Timings struct {
	TotalDecodeTime   time.Duration `json:"total_decode_time"`
	FirstTokenLatency time.Duration `json:"first_token_latency"`
	TokenCount        int           `json:"token_count"`
	EncodingLoops     int           `json:"encoding_loops"`
	AudioSeconds      float64       `json:"audio_seconds"`
}

// Options is the per-call decode configuration
type Options struct {
	Language                 string  `json:"language"`
	Temperature              float64 `json:"temperature"`
	TemperatureFallbackCount int     `json:"temperature_fallback_count"`
	SeekClip                 float64 `json:"seek_clip"` // confirmed watermark in seconds; the engine skips audio before it
	UsePrefill               bool    `json:"use_prefill"`
	WithTimestamps           bool    `json:"with_timestamps"`
	WordTimestamps           bool    `json:"word_timestamps"`
	MaxTokensPerLoop         int     `json:"max_tokens_per_loop"`
	SkipSpecialTokens        bool    `json:"skip_special_tokens"`
	ChunkingStrategy         string  `json:"chunking_strategy,omitempty"`
}

// Progress is a snapshot of an in-flight decode, delivered once per
// generated token batch
type Progress struct {
	Tokens     []int   `json:"tokens"`
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

// ProgressFunc is invoked synchronously from the engine's execution
// context during a decode; returning false requests an early stop.
// A nil ProgressFunc disables streaming progress.
type ProgressFunc func(Progress) bool

// Result is the output of one full-buffer inference pass
type Result struct {
	Segments []Segment `json:"segments"`
	Timings  Timings   `json:"timings"`
}

// Engine is a single blocking transcription call over a sample snapshot
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, opts Options, onProgress ProgressFunc) (*Result, error)
}
