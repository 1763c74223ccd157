package audio

import (
	"math"
	"testing"
)

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999, -0.999}
	out := DecodePCM16(EncodePCM16(in))

	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Errorf("sample %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	out := DecodePCM16(EncodePCM16([]float32{2.0, -2.0}))
	if out[0] < 0.99 {
		t.Errorf("expected positive overdrive clamped near 1, got %f", out[0])
	}
	if out[1] > -0.99 {
		t.Errorf("expected negative overdrive clamped near -1, got %f", out[1])
	}
}

func TestChunkerSplitsFixedChunks(t *testing.T) {
	c := NewChunker(16000, 100) // 1600-sample chunks

	chunks := c.Push(make([]float32, 4000))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) != 1600 {
			t.Errorf("chunk %d: expected 1600 samples, got %d", i, len(chunk))
		}
	}

	// 800 pending + 800 pushed completes one more chunk
	chunks = c.Push(make([]float32, 800))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after second push, got %d", len(chunks))
	}
	if tail := c.Flush(); len(tail) != 0 {
		t.Errorf("expected empty tail, got %d samples", len(tail))
	}
}

func TestChunkerFlushReturnsPartial(t *testing.T) {
	c := NewChunker(16000, 100)
	c.Push(make([]float32, 500))

	tail := c.Flush()
	if len(tail) != 500 {
		t.Errorf("expected 500-sample tail, got %d", len(tail))
	}
	if again := c.Flush(); again != nil {
		t.Error("expected nil on second flush")
	}
}
