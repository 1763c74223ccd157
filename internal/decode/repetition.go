package decode

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/flate"

	"github.com/audioloop/livescribe/pkg/logger"
)

// RepetitionChecker stops a decode that has collapsed into degenerate
// repetition. Repetitive token runs compress extremely well, so the
// DEFLATE ratio of the trailing token window is a cheap repetition
// signal: ratio above the threshold means the model is looping.
type RepetitionChecker struct {
	window    int
	threshold float64
	logger    *logger.Logger
}

// NewRepetitionChecker creates a checker over the trailing window of
// tokens with the given compression-ratio threshold
func NewRepetitionChecker(window int, threshold float64, log *logger.Logger) *RepetitionChecker {
	return &RepetitionChecker{
		window:    window,
		threshold: threshold,
		logger:    log.Named("repetition-check"),
	}
}

// Check compresses the most recent window of tokens once enough have
// been generated. Compression failures are logged and treated as no
// repetition detected; this checker must never abort a session.
func (c *RepetitionChecker) Check(tokens []int, avgLogProb float64) Verdict {
	if len(tokens) <= c.window {
		return VerdictNoOpinion
	}

	raw := encodeTokens(tokens[len(tokens)-c.window:])

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestSpeed)
	if err != nil {
		c.logger.Warn("Failed to create compressor", logger.Error(err))
		return VerdictNoOpinion
	}
	if _, err := w.Write(raw); err != nil {
		c.logger.Warn("Failed to compress token window", logger.Error(err))
		return VerdictNoOpinion
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("Failed to flush compressor", logger.Error(err))
		return VerdictNoOpinion
	}

	if compressed.Len() == 0 {
		return VerdictNoOpinion
	}

	ratio := float64(len(raw)) / float64(compressed.Len())
	if ratio > c.threshold {
		c.logger.Debug("Degenerate repetition detected",
			logger.Float64("compression_ratio", ratio),
			logger.Float64("threshold", c.threshold),
			logger.Int("tokens", len(tokens)))
		return VerdictStop
	}
	return VerdictNoOpinion
}

// encodeTokens packs token IDs into a stable little-endian byte form
// for compression
func encodeTokens(tokens []int) []byte {
	out := make([]byte, len(tokens)*4)
	for i, tok := range tokens {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], uint32(tok))
	}
	return out
}
