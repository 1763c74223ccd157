package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audioloop/livescribe/internal/audio"
	"github.com/audioloop/livescribe/internal/decode"
	"github.com/audioloop/livescribe/internal/engine"
	"github.com/audioloop/livescribe/internal/storage/sqlite"
	"github.com/audioloop/livescribe/internal/vad"
	"github.com/audioloop/livescribe/internal/websocket"
	"github.com/audioloop/livescribe/pkg/logger"
)

// minNewAudioSeconds is the floor of new audio required before the
// controller issues an inference call. Bounds call frequency and
// guarantees each pass sees meaningful new content.
const minNewAudioSeconds = 1.0

// segmentQueueDepth bounds the confirmed-segment channel
const segmentQueueDepth = 256

// SegmentStore persists confirmed segments
type SegmentStore interface {
	StoreSegment(record *sqlite.SegmentRecord) (int64, error)
}

// Broadcaster pushes live events to connected clients
type Broadcaster interface {
	Broadcast(msg *websocket.Message)
}

// Controller runs the streaming transcription loop for one session: it
// polls the capture buffer, gates inference on voice activity, feeds
// engine output through the confirmation machinery, and emits confirmed
// segments exactly once.
type Controller struct {
	id       string
	settings DecodingSettings

	capture audio.Capture
	engine  engine.Engine
	gate    *vad.Gate
	policy  *decode.Policy

	confirmer *Confirmer
	telemetry *Telemetry

	store       SegmentStore // optional
	broadcaster Broadcaster  // optional
	logger      *logger.Logger

	state    atomic.Int32
	segments chan engine.Segment

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	// lastBufferSize is the buffer extent committed as consumed at the
	// last voiced iteration, in samples
	lastBufferSize int
}

// NewController assembles a controller for one session. store and
// broadcaster may be nil; segments are then only delivered through
// Segments().
func NewController(
	id string,
	settings DecodingSettings,
	capture audio.Capture,
	eng engine.Engine,
	store SegmentStore,
	broadcaster Broadcaster,
	log *logger.Logger,
) (*Controller, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decoding settings: %w", err)
	}

	sessionLog := log.Named("controller").With(logger.String("session_id", id))

	policy := decode.NewPolicy(sessionLog,
		decode.NewRepetitionChecker(settings.CompressionCheckWindow, settings.CompressionRatioThreshold, sessionLog),
		decode.NewConfidenceChecker(settings.LogProbThreshold),
	)

	return &Controller{
		id:          id,
		settings:    settings,
		capture:     capture,
		engine:      eng,
		gate:        vad.New(settings.SilenceThreshold, capture.EnergyRate()),
		policy:      policy,
		confirmer:   NewConfirmer(settings.RequiredSegmentsForConfirmation),
		telemetry:   NewTelemetry(),
		store:       store,
		broadcaster: broadcaster,
		logger:      sessionLog,
		segments:    make(chan engine.Segment, segmentQueueDepth),
	}, nil
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Segments is the ordered stream of confirmed segments. It is closed
// when the session ends; check Err() afterwards.
func (c *Controller) Segments() <-chan engine.Segment {
	return c.segments
}

// Telemetry returns a snapshot of the session's performance counters
func (c *Controller) Telemetry() TelemetrySnapshot {
	return c.telemetry.Snapshot()
}

// Watermark returns the confirmed watermark in buffer seconds
func (c *Controller) Watermark() float64 {
	return c.confirmer.Watermark()
}

// Err returns the error that terminated the session, if any. Valid
// after the Segments channel closes.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Start begins capture and the transcription loop. It returns once the
// loop is running; the loop ends when ctx is cancelled, Stop is called,
// the session timeout elapses, or the engine fails.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateActive)) {
		return ErrSessionActive
	}

	runCtx, cancel := context.WithCancel(ctx)

	if err := c.capture.Start(runCtx); err != nil {
		cancel()
		c.state.Store(int32(StateIdle))
		return fmt.Errorf("failed to start capture: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer close(c.segments)
		defer c.capture.Stop()
		c.run(runCtx)
	}()

	c.logger.Info("Session started",
		logger.Int("sample_rate", c.capture.SampleRate()),
		logger.String("language", c.settings.Language))
	return nil
}

// Stop ends the session and waits for the loop to drain. Safe to call
// more than once.
func (c *Controller) Stop() {
	if !c.state.CompareAndSwap(int32(StateActive), int32(StateStopping)) {
		return
	}

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.state.Store(int32(StateIdle))
	c.logger.Info("Session stopped")
}

// setErr records the first terminating error
func (c *Controller) setErr(err error) {
	c.mu.Lock()
	if c.runErr == nil {
		c.runErr = err
	}
	c.mu.Unlock()
}

// run is the cooperative transcription loop
func (c *Controller) run(ctx context.Context) {
	if c.settings.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.SessionTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finish(ctx)
			return
		case <-ticker.C:
		}

		if err := c.iterate(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.finish(ctx)
				return
			}
			c.setErr(err)
			c.logger.Error("Session terminated by engine failure", logger.Error(err))
			return
		}
	}
}

// iterate performs one loop pass: gate, decode, confirm, emit
func (c *Controller) iterate(ctx context.Context) error {
	bufferLength := c.capture.SampleCount()
	sampleRate := c.capture.SampleRate()
	newSeconds := float64(bufferLength-c.lastBufferSize) / float64(sampleRate)

	if newSeconds <= minNewAudioSeconds {
		return nil
	}

	voiced := c.gate.Detect(c.capture.RelativeEnergy(), newSeconds)
	if !voiced {
		// Silence. Do not commit the extent as consumed; the same
		// audio is re-examined next pass.
		c.telemetry.RecordSkippedSilent()
		if newSeconds > c.settings.SilenceDuration {
			c.applySilencePolicy(newSeconds)
		}
		return nil
	}

	c.lastBufferSize = bufferLength

	samples := c.capture.CurrentSamples()
	opts := c.settings.engineOptions(c.confirmer.Watermark())

	result, err := c.engine.Transcribe(ctx, samples, opts, func(p engine.Progress) bool {
		return c.policy.ShouldContinue(p.Tokens, p.AvgLogProb)
	})
	if err != nil {
		return err
	}

	c.telemetry.RecordPass(result.Timings)

	confirmed := c.confirmer.Confirm(result.Segments)
	if len(confirmed) > 0 {
		c.telemetry.RecordConfirmed(len(confirmed))
		c.emit(confirmed)
		c.logger.Debug("Confirmed segments",
			logger.Int("count", len(confirmed)),
			logger.Float64("watermark", c.confirmer.Watermark()))
	}

	return nil
}

// applySilencePolicy bounds buffer growth during sustained silence.
// With pending unconfirmed speech, the engine has had every chance to
// revise it and gone quiet, so the whole provisional window is flushed
// as confirmed before the purge. With nothing pending and very long
// silence, the session re-anchors completely.
func (c *Controller) applySilencePolicy(newSeconds float64) {
	if flushed := c.confirmer.FlushUnconfirmed(); len(flushed) > 0 {
		c.telemetry.RecordFlushed(len(flushed))
		c.emit(flushed)
		c.capture.Purge(c.settings.RemainingAudioAfterPurge)
		c.lastBufferSize = c.capture.SampleCount()
		c.telemetry.RecordSilencePurge()
		c.logger.Debug("Silence flush",
			logger.Int("flushed", len(flushed)),
			logger.Float64("watermark", c.confirmer.Watermark()))
		return
	}

	if newSeconds > c.settings.SampleReset {
		c.confirmer.Reset()
		c.capture.Purge(c.settings.RemainingAudioAfterReset)
		c.lastBufferSize = c.capture.SampleCount()
		c.telemetry.RecordSilenceReset()
		c.logger.Debug("Long-silence reset",
			logger.Float64("silence_seconds", newSeconds))
	}
}

// finish flushes pending provisional segments on a clean shutdown
func (c *Controller) finish(ctx context.Context) {
	if flushed := c.confirmer.FlushUnconfirmed(); len(flushed) > 0 {
		c.telemetry.RecordFlushed(len(flushed))
		c.emit(flushed)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.settings.SessionTimeout > 0 {
		c.setErr(ErrSessionTimeout)
	}
}

// emit delivers confirmed segments in order to every sink: the session
// channel, persistent storage, and the broadcast server
func (c *Controller) emit(segments []engine.Segment) {
	for _, seg := range segments {
		select {
		case c.segments <- seg:
		default:
			// A stalled consumer must not block the decode loop
			c.logger.Warn("Segment queue full, dropping channel delivery",
				logger.String("segment_id", seg.ID))
		}

		if c.store != nil {
			record := &sqlite.SegmentRecord{
				SegmentID:    seg.ID,
				SessionID:    c.id,
				Text:         seg.Text,
				StartSeconds: seg.Start,
				EndSeconds:   seg.End,
				AvgLogProb:   seg.AvgLogProb,
				CreatedAt:    seg.CreatedAt,
			}
			if len(seg.Words) > 0 {
				if words, err := json.Marshal(seg.Words); err == nil {
					record.WordsJSON = string(words)
				}
			}
			if _, err := c.store.StoreSegment(record); err != nil {
				// Persistence failures degrade history, not the session
				c.logger.Error("Failed to store segment",
					logger.String("segment_id", seg.ID),
					logger.Error(err))
			}
		}

		if c.broadcaster != nil {
			c.broadcaster.Broadcast(&websocket.Message{
				Type: "segment",
				Data: map[string]interface{}{
					"session_id": c.id,
					"segment":    seg,
				},
			})
		}
	}
}
