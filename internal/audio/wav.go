package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/audioloop/livescribe/pkg/logger"
)

// WAVSource replays a PCM16 WAV file as a capture source, optionally
// paced at wall-clock speed so the controller sees it as live audio.
type WAVSource struct {
	logger   *logger.Logger
	realtime bool
	chunkDur time.Duration

	mu     sync.Mutex
	chunks [][]float32
	next   int
}

// NewWAVSource loads a WAV file, converting it to mono float32 at the
// target sample rate and splitting it into chunkMs-sized chunks
func NewWAVSource(path string, targetRate, chunkMs int, realtime bool, log *logger.Logger) (*WAVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}

	samples, rate, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	if rate != targetRate {
		samples = resampleLinear(samples, rate, targetRate)
	}

	chunker := NewChunker(targetRate, chunkMs)
	chunks := chunker.Push(samples)
	if tail := chunker.Flush(); len(tail) > 0 {
		chunks = append(chunks, tail)
	}

	log.Named("wav-source").Info("Loaded WAV file",
		logger.String("path", path),
		logger.Int("source_rate", rate),
		logger.Float64("seconds", float64(len(samples))/float64(targetRate)),
		logger.Int("chunks", len(chunks)))

	return &WAVSource{
		logger:   log.Named("wav-source"),
		realtime: realtime,
		chunkDur: time.Duration(chunkMs) * time.Millisecond,
		chunks:   chunks,
	}, nil
}

// ReadChunk returns the next chunk, pacing at chunk duration when the
// source is in realtime mode. Returns io.EOF once the file is drained.
func (s *WAVSource) ReadChunk(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	if s.next >= len(s.chunks) {
		s.mu.Unlock()
		return nil, io.EOF
	}
	chunk := s.chunks[s.next]
	s.next++
	s.mu.Unlock()

	if s.realtime {
		select {
		case <-time.After(s.chunkDur):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return chunk, nil
}

// decodeWAV parses a RIFF/WAVE container and returns mono float32
// samples plus the source sample rate. Only uncompressed 16-bit PCM is
// supported; stereo input is downmixed.
func decodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bitDepth   int
		pcm        []byte
		haveFmt    bool
	)

	// Walk the chunk list; files in the wild carry LIST/fact chunks
	// between fmt and data.
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}

	if !haveFmt {
		return nil, 0, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("missing data chunk")
	}
	if bitDepth != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", bitDepth)
	}
	if channels != 1 && channels != 2 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}

	samples := DecodePCM16(pcm)
	if channels == 2 {
		mono := make([]float32, len(samples)/2)
		for i := range mono {
			mono[i] = (samples[i*2] + samples[i*2+1]) / 2
		}
		samples = mono
	}

	return samples, sampleRate, nil
}

// resampleLinear converts samples between rates with linear
// interpolation. Adequate for speech input; not a general resampler.
func resampleLinear(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(in) == 0 {
		return in
	}

	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}
