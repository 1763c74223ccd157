package transcription

import (
	"sync"
	"time"

	"github.com/audioloop/livescribe/internal/engine"
)

// Telemetry accumulates decode performance counters across a session
type Telemetry struct {
	mu sync.Mutex

	passes            int
	totalDecodeTime   time.Duration
	totalFirstToken   time.Duration
	firstTokenSamples int
	tokenCount        int
	encodingLoops     int
	audioSeconds      float64

	confirmedSegments int
	flushedSegments   int
	silencePurges     int
	silenceResets     int
	skippedSilent     int
}

// TelemetrySnapshot is a point-in-time copy of the session counters
type TelemetrySnapshot struct {
	Passes               int           `json:"passes"`
	TotalDecodeTime      time.Duration `json:"total_decode_time"`
	AvgDecodeTime        time.Duration `json:"avg_decode_time"`
	AvgFirstTokenLatency time.Duration `json:"avg_first_token_latency"`
	TokenCount           int           `json:"token_count"`
	TokensPerSecond      float64       `json:"tokens_per_second"`
	EncodingLoops        int           `json:"encoding_loops"`
	AudioSeconds         float64       `json:"audio_seconds"`
	RealTimeFactor       float64       `json:"real_time_factor"`
	SpeedFactor          float64       `json:"speed_factor"`
	ConfirmedSegments    int           `json:"confirmed_segments"`
	FlushedSegments      int           `json:"flushed_segments"`
	SilencePurges        int           `json:"silence_purges"`
	SilenceResets        int           `json:"silence_resets"`
	SkippedSilentPasses  int           `json:"skipped_silent_passes"`
}

// NewTelemetry creates an empty telemetry accumulator
func NewTelemetry() *Telemetry {
	return &Telemetry{}
}

// RecordPass folds one decode pass's timings into the session totals
func (t *Telemetry) RecordPass(timings engine.Timings) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.passes++
	t.totalDecodeTime += timings.TotalDecodeTime
	if timings.FirstTokenLatency > 0 {
		t.totalFirstToken += timings.FirstTokenLatency
		t.firstTokenSamples++
	}
	t.tokenCount += timings.TokenCount
	t.encodingLoops += timings.EncodingLoops
	if timings.AudioSeconds > t.audioSeconds {
		t.audioSeconds = timings.AudioSeconds
	}
}

// RecordConfirmed counts segments confirmed through the trailing window
func (t *Telemetry) RecordConfirmed(n int) {
	t.mu.Lock()
	t.confirmedSegments += n
	t.mu.Unlock()
}

// RecordFlushed counts segments confirmed by a silence flush
func (t *Telemetry) RecordFlushed(n int) {
	t.mu.Lock()
	t.flushedSegments += n
	t.mu.Unlock()
}

// RecordSilencePurge counts buffer purges triggered by short silence
func (t *Telemetry) RecordSilencePurge() {
	t.mu.Lock()
	t.silencePurges++
	t.mu.Unlock()
}

// RecordSilenceReset counts full re-anchors triggered by long silence
func (t *Telemetry) RecordSilenceReset() {
	t.mu.Lock()
	t.silenceResets++
	t.mu.Unlock()
}

// RecordSkippedSilent counts loop iterations skipped by the voice gate
func (t *Telemetry) RecordSkippedSilent() {
	t.mu.Lock()
	t.skippedSilent++
	t.mu.Unlock()
}

// Snapshot returns the current counters with derived rates filled in
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := TelemetrySnapshot{
		Passes:              t.passes,
		TotalDecodeTime:     t.totalDecodeTime,
		TokenCount:          t.tokenCount,
		EncodingLoops:       t.encodingLoops,
		AudioSeconds:        t.audioSeconds,
		ConfirmedSegments:   t.confirmedSegments,
		FlushedSegments:     t.flushedSegments,
		SilencePurges:       t.silencePurges,
		SilenceResets:       t.silenceResets,
		SkippedSilentPasses: t.skippedSilent,
	}

	if t.passes > 0 {
		snap.AvgDecodeTime = t.totalDecodeTime / time.Duration(t.passes)
	}
	if t.firstTokenSamples > 0 {
		snap.AvgFirstTokenLatency = t.totalFirstToken / time.Duration(t.firstTokenSamples)
	}
	if decodeSeconds := t.totalDecodeTime.Seconds(); decodeSeconds > 0 {
		snap.TokensPerSecond = float64(t.tokenCount) / decodeSeconds
		if t.audioSeconds > 0 {
			// real-time factor < 1 means decoding keeps up with capture
			snap.RealTimeFactor = decodeSeconds / t.audioSeconds
			snap.SpeedFactor = t.audioSeconds / decodeSeconds
		}
	}

	return snap
}
