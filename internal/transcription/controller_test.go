package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audioloop/livescribe/internal/engine"
	"github.com/audioloop/livescribe/internal/engine/enginetest"
	"github.com/audioloop/livescribe/pkg/logger"
)

const (
	testSampleRate = 1000
	testEnergyRate = 10.0
)

// fakeCapture is an in-memory audio.Capture whose content tests control
// directly. Voiced audio carries alternating quiet/loud energy blocks so
// the gate sees loud blocks well above the noise floor; silence stays at
// the floor.
type fakeCapture struct {
	mu      sync.Mutex
	samples []float32
	energy  []float32
}

func (f *fakeCapture) addAudio(seconds float64, voiced bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.samples = append(f.samples, make([]float32, int(seconds*testSampleRate))...)
	blocks := int(seconds * testEnergyRate)
	for i := 0; i < blocks; i++ {
		level := float32(0.05)
		if voiced && i%2 == 1 {
			level = 0.9
		}
		f.energy = append(f.energy, level)
	}
}

func (f *fakeCapture) CurrentSamples() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float32(nil), f.samples...)
}

func (f *fakeCapture) RelativeEnergy() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float32(nil), f.energy...)
}

func (f *fakeCapture) SampleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func (f *fakeCapture) SampleRate() int     { return testSampleRate }
func (f *fakeCapture) EnergyRate() float64 { return testEnergyRate }

func (f *fakeCapture) Purge(keepSeconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if keep := int(keepSeconds * testSampleRate); keep < len(f.samples) {
		f.samples = append([]float32(nil), f.samples[len(f.samples)-keep:]...)
	}
	if keep := int(keepSeconds * testEnergyRate); keep < len(f.energy) {
		f.energy = append([]float32(nil), f.energy[len(f.energy)-keep:]...)
	}
}

func (f *fakeCapture) Start(ctx context.Context) error { return nil }
func (f *fakeCapture) Stop()                           {}

func testSettings() DecodingSettings {
	settings := DefaultDecodingSettings()
	settings.PollInterval = 5 * time.Millisecond
	settings.SilenceDuration = 0.5
	settings.SampleReset = 3.0
	settings.RemainingAudioAfterPurge = 1.0
	settings.RemainingAudioAfterReset = 0.5
	return settings
}

func newTestController(t *testing.T, capture *fakeCapture, eng engine.Engine, settings DecodingSettings) *Controller {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	controller, err := NewController("test-session", settings, capture, eng, nil, nil, log)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return controller
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// receiveSegment reads one confirmed segment or fails
func receiveSegment(t *testing.T, controller *Controller) engine.Segment {
	t.Helper()
	select {
	case seg, ok := <-controller.Segments():
		if !ok {
			t.Fatal("segment channel closed unexpectedly")
		}
		return seg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmed segment")
	}
	return engine.Segment{}
}

func threeSegmentResult() *engine.Result {
	return &engine.Result{
		Segments: []engine.Segment{
			seg("A", 0, 2),
			seg("B", 2, 4),
			seg("C", 4, 5),
		},
		Timings: engine.Timings{TotalDecodeTime: 100 * time.Millisecond, TokenCount: 30, AudioSeconds: 5},
	}
}

func TestMinimumAudioGate(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(0.5, true)
	eng := enginetest.NewScripted()

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := eng.CallCount(); n != 0 {
		t.Errorf("expected zero inference calls with under 1s of audio, got %d", n)
	}
}

func TestStartTwice(t *testing.T) {
	capture := &fakeCapture{}
	controller := newTestController(t, capture, enginetest.NewScripted(), testSettings())

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	if err := controller.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}
}

func TestConfirmAndEmit(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(enginetest.Pass{Result: threeSegmentResult()})

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	first := receiveSegment(t, controller)
	second := receiveSegment(t, controller)
	if first.Text != "A" || second.Text != "B" {
		t.Errorf("expected A then B, got %q then %q", first.Text, second.Text)
	}
	if wm := controller.Watermark(); wm != 4 {
		t.Errorf("expected watermark 4, got %f", wm)
	}

	snap := controller.Telemetry()
	if snap.ConfirmedSegments != 2 {
		t.Errorf("expected 2 confirmed segments in telemetry, got %d", snap.ConfirmedSegments)
	}
	if snap.Passes < 1 {
		t.Errorf("expected at least one recorded pass, got %d", snap.Passes)
	}
}

func TestSeekClipTracksWatermark(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(
		enginetest.Pass{Result: threeSegmentResult()},
		enginetest.Pass{Result: &engine.Result{
			Segments: []engine.Segment{
				seg("A", 0, 2), seg("B", 2, 4), seg("C", 4, 5), seg("D", 5, 7),
			},
		}},
	)

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	receiveSegment(t, controller)
	receiveSegment(t, controller)

	capture.addAudio(2.0, true)
	waitFor(t, 2*time.Second, func() bool { return eng.CallCount() >= 2 }, "second inference call")

	calls := eng.Calls()
	if calls[0].Options.SeekClip != 0 {
		t.Errorf("expected first pass seek clip 0, got %f", calls[0].Options.SeekClip)
	}
	if calls[1].Options.SeekClip != 4 {
		t.Errorf("expected second pass seek clip 4, got %f", calls[1].Options.SeekClip)
	}
}

func TestSilenceFlush(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(enginetest.Pass{Result: threeSegmentResult()})

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	receiveSegment(t, controller)
	receiveSegment(t, controller)

	// Sustained silence with C still provisional flushes it
	capture.addAudio(1.5, false)

	flushed := receiveSegment(t, controller)
	if flushed.Text != "C" {
		t.Errorf("expected flushed segment C, got %q", flushed.Text)
	}
	if wm := controller.Watermark(); wm != 5 {
		t.Errorf("expected watermark 5 after flush, got %f", wm)
	}

	// Buffer purged down to the configured retention
	waitFor(t, 2*time.Second, func() bool {
		return capture.SampleCount() == int(1.0*testSampleRate)
	}, "buffer purge")

	snap := controller.Telemetry()
	if snap.FlushedSegments != 1 || snap.SilencePurges != 1 {
		t.Errorf("expected one flush and one purge, got %+v", snap)
	}
}

func TestLongSilenceReset(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(4.0, false)
	eng := enginetest.NewScripted()

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return capture.SampleCount() == int(0.5*testSampleRate)
	}, "long-silence reset purge")

	if n := eng.CallCount(); n != 0 {
		t.Errorf("expected zero inference calls on pure silence, got %d", n)
	}
	if wm := controller.Watermark(); wm != 0 {
		t.Errorf("expected watermark 0 after reset, got %f", wm)
	}
	if snap := controller.Telemetry(); snap.SilenceResets != 1 {
		t.Errorf("expected one silence reset, got %d", snap.SilenceResets)
	}
}

func TestEngineFailureTerminatesSession(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(enginetest.Pass{Err: errors.New("model exploded")})

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// Channel closes when the loop terminates
	waitFor(t, 2*time.Second, func() bool {
		select {
		case _, ok := <-controller.Segments():
			return !ok
		default:
			return false
		}
	}, "session termination")

	if err := controller.Err(); err == nil {
		t.Error("expected a terminating error from the engine failure")
	}
}

func TestCleanStopFlushesProvisional(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(enginetest.Pass{Result: &engine.Result{
		Segments: []engine.Segment{seg("A", 0, 2), seg("B", 2, 4)},
	}})

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return eng.CallCount() >= 1 }, "first inference call")
	controller.Stop()

	var drained []engine.Segment
	for seg := range controller.Segments() {
		drained = append(drained, seg)
	}
	assertTexts(t, drained, "A", "B")

	if err := controller.Err(); err != nil {
		t.Errorf("expected clean termination, got %v", err)
	}
}

func TestEarlyStopForwardedToEngine(t *testing.T) {
	capture := &fakeCapture{}
	capture.addAudio(3.0, true)
	eng := enginetest.NewScripted(enginetest.Pass{
		Progress: []engine.Progress{
			{Tokens: []int{1, 2, 3}, AvgLogProb: -5.0}, // far below confidence threshold
		},
		Result: &engine.Result{},
	})

	controller := newTestController(t, capture, eng, testSettings())
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer controller.Stop()

	waitFor(t, 2*time.Second, func() bool { return eng.CallCount() >= 1 }, "inference call")

	if calls := eng.Calls(); !calls[0].Stopped {
		t.Error("expected the early-stop policy to request a stop")
	}
}

func TestSessionTimeout(t *testing.T) {
	capture := &fakeCapture{}
	settings := testSettings()
	settings.SessionTimeout = 50 * time.Millisecond

	controller := newTestController(t, capture, enginetest.NewScripted(), settings)
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		select {
		case _, ok := <-controller.Segments():
			return !ok
		default:
			return false
		}
	}, "session timeout")

	if err := controller.Err(); !errors.Is(err, ErrSessionTimeout) {
		t.Errorf("expected ErrSessionTimeout, got %v", err)
	}
}
