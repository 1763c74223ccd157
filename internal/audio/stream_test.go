package audio

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/audioloop/livescribe/pkg/logger"
)

func TestStreamSourceReadsChunks(t *testing.T) {
	// 250ms of PCM16 at 1kHz: 250 samples
	samples := make([]float32, 250)
	for i := range samples {
		samples[i] = 0.5
	}
	payload := EncodePCM16(samples)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write(payload)
	}))
	defer server.Close()

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	source := NewStreamSource(server.URL, 1000, 100, 0, log)
	defer source.Close()

	ctx := context.Background()

	// Two full 100ms chunks
	for i := 0; i < 2; i++ {
		chunk, err := source.ReadChunk(ctx)
		if err != nil {
			t.Fatalf("ReadChunk %d returned error: %v", i, err)
		}
		if len(chunk) != 100 {
			t.Fatalf("expected 100 samples, got %d", len(chunk))
		}
		if chunk[0] < 0.49 || chunk[0] > 0.51 {
			t.Errorf("unexpected sample value %f", chunk[0])
		}
	}

	// Trailing partial chunk
	chunk, err := source.ReadChunk(ctx)
	if err != nil {
		t.Fatalf("ReadChunk for tail returned error: %v", err)
	}
	if len(chunk) != 50 {
		t.Fatalf("expected 50 trailing samples, got %d", len(chunk))
	}

	// Stream exhausted
	if _, err := source.ReadChunk(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after stream end, got %v", err)
	}
}
