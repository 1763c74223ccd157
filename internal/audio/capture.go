package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/audioloop/livescribe/pkg/logger"
)

// ErrCaptureStopped is returned by sources once capture has been stopped
var ErrCaptureStopped = errors.New("audio: capture stopped")

// Capture is the surface the transcription controller sees of the audio
// capture collaborator: snapshot reads plus a purge instruction. The
// controller never appends.
type Capture interface {
	CurrentSamples() []float32
	RelativeEnergy() []float32
	SampleCount() int
	SampleRate() int
	EnergyRate() float64
	Purge(keepSeconds float64)
	Start(ctx context.Context) error
	Stop()
}

// Source produces successive chunks of mono float32 samples. ReadChunk
// blocks until a chunk is available and returns io.EOF when the source
// is exhausted.
type Source interface {
	ReadChunk(ctx context.Context) ([]float32, error)
}

// Recorder implements Capture by pumping a Source into a Buffer on a
// background goroutine.
type Recorder struct {
	buffer *Buffer
	source Source
	logger *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRecorder creates a recorder reading from the given source
func NewRecorder(source Source, sampleRate int, log *logger.Logger) *Recorder {
	return &Recorder{
		buffer: NewBuffer(sampleRate),
		source: source,
		logger: log.Named("recorder"),
	}
}

// Start begins pumping chunks from the source into the buffer
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("recorder already started")
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pump(pumpCtx)
	}()

	r.logger.Info("Capture started", logger.Int("sample_rate", r.buffer.SampleRate()))
	return nil
}

// Stop halts the pump goroutine. Buffered audio remains readable.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("Capture stopped", logger.Float64("buffered_seconds", r.buffer.Duration()))
}

// pump reads chunks until the source ends or the context is cancelled
func (r *Recorder) pump(ctx context.Context) {
	for {
		chunk, err := r.source.ReadChunk(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, ErrCaptureStopped):
				r.logger.Debug("Audio source exhausted")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				// Normal shutdown path
			default:
				r.logger.Error("Audio source read failed", logger.Error(err))
			}
			return
		}
		r.buffer.Append(chunk)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// CurrentSamples returns a snapshot of all captured samples
func (r *Recorder) CurrentSamples() []float32 {
	return r.buffer.Samples()
}

// RelativeEnergy returns a snapshot of the normalized energy series
func (r *Recorder) RelativeEnergy() []float32 {
	return r.buffer.RelativeEnergy()
}

// SampleCount returns the number of captured samples
func (r *Recorder) SampleCount() int {
	return r.buffer.Len()
}

// SampleRate returns the capture sample rate
func (r *Recorder) SampleRate() int {
	return r.buffer.SampleRate()
}

// EnergyRate returns the energy values per second of audio
func (r *Recorder) EnergyRate() float64 {
	return r.buffer.EnergyRate()
}

// Purge truncates the capture buffer to the trailing keepSeconds
func (r *Recorder) Purge(keepSeconds float64) {
	kept := r.buffer.Purge(keepSeconds)
	r.logger.Debug("Purged audio buffer",
		logger.Float64("keep_seconds", keepSeconds),
		logger.Int("remaining_samples", kept))
}
