package transcription

import (
	"testing"
	"time"

	"github.com/audioloop/livescribe/internal/engine"
)

func TestTelemetryDerivedRates(t *testing.T) {
	tel := NewTelemetry()

	tel.RecordPass(engine.Timings{
		TotalDecodeTime:   2 * time.Second,
		FirstTokenLatency: 200 * time.Millisecond,
		TokenCount:        100,
		EncodingLoops:     1,
		AudioSeconds:      8,
	})
	tel.RecordPass(engine.Timings{
		TotalDecodeTime:   2 * time.Second,
		FirstTokenLatency: 400 * time.Millisecond,
		TokenCount:        100,
		EncodingLoops:     2,
		AudioSeconds:      16,
	})

	snap := tel.Snapshot()

	if snap.Passes != 2 {
		t.Errorf("expected 2 passes, got %d", snap.Passes)
	}
	if snap.TotalDecodeTime != 4*time.Second {
		t.Errorf("expected 4s total decode time, got %s", snap.TotalDecodeTime)
	}
	if snap.AvgDecodeTime != 2*time.Second {
		t.Errorf("expected 2s avg decode time, got %s", snap.AvgDecodeTime)
	}
	if snap.AvgFirstTokenLatency != 300*time.Millisecond {
		t.Errorf("expected 300ms avg first-token latency, got %s", snap.AvgFirstTokenLatency)
	}
	if snap.TokensPerSecond != 50 {
		t.Errorf("expected 50 tokens/s, got %f", snap.TokensPerSecond)
	}
	if snap.EncodingLoops != 3 {
		t.Errorf("expected 3 encoding loops, got %d", snap.EncodingLoops)
	}

	// 4s of decoding for 16s of audio
	if snap.RealTimeFactor != 0.25 {
		t.Errorf("expected real-time factor 0.25, got %f", snap.RealTimeFactor)
	}
	if snap.SpeedFactor != 4 {
		t.Errorf("expected speed factor 4, got %f", snap.SpeedFactor)
	}
}

func TestTelemetryEmptySnapshot(t *testing.T) {
	snap := NewTelemetry().Snapshot()

	if snap.Passes != 0 || snap.AvgDecodeTime != 0 || snap.TokensPerSecond != 0 {
		t.Errorf("expected zero-valued snapshot, got %+v", snap)
	}
	if snap.RealTimeFactor != 0 || snap.SpeedFactor != 0 {
		t.Errorf("expected zero factors with no passes, got %+v", snap)
	}
}

func TestTelemetryEventCounters(t *testing.T) {
	tel := NewTelemetry()

	tel.RecordConfirmed(3)
	tel.RecordFlushed(1)
	tel.RecordSilencePurge()
	tel.RecordSilenceReset()
	tel.RecordSkippedSilent()
	tel.RecordSkippedSilent()

	snap := tel.Snapshot()
	if snap.ConfirmedSegments != 3 {
		t.Errorf("expected 3 confirmed, got %d", snap.ConfirmedSegments)
	}
	if snap.FlushedSegments != 1 {
		t.Errorf("expected 1 flushed, got %d", snap.FlushedSegments)
	}
	if snap.SilencePurges != 1 || snap.SilenceResets != 1 {
		t.Errorf("expected one purge and one reset, got %+v", snap)
	}
	if snap.SkippedSilentPasses != 2 {
		t.Errorf("expected 2 skipped passes, got %d", snap.SkippedSilentPasses)
	}
}
