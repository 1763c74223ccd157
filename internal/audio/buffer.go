package audio

import (
	"math"
	"sync"
)

// energyBlocksPerSecond controls the resolution of the relative-energy
// series: one energy value per 100ms of appended audio.
const energyBlocksPerSecond = 10

// Buffer is an append-only sequence of mono float32 samples plus a
// parallel relative-energy series used for voice detection.
//
// Appends come from the capture side; the transcription controller only
// takes snapshots and issues purges between inference passes. The mutex
// guarantees a snapshot is always a valid prefix of the appended stream.
type Buffer struct {
	mu         sync.RWMutex
	sampleRate int
	blockSize  int // samples per energy block
	samples    []float32
	energy     []float32 // raw RMS per block
	pending    []float32 // samples not yet covering a full energy block
	peakRMS    float32   // loudest block seen, for relative normalization
}

// NewBuffer creates an empty buffer for the given sample rate
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		blockSize:  sampleRate / energyBlocksPerSecond,
	}
}

// SampleRate returns the fixed sample rate of the buffer
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// EnergyRate returns the number of energy values per second of audio
func (b *Buffer) EnergyRate() float64 {
	return energyBlocksPerSecond
}

// Append adds samples to the end of the buffer and extends the energy
// series by one RMS value per completed block
func (b *Buffer) Append(chunk []float32) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, chunk...)
	b.pending = append(b.pending, chunk...)

	for len(b.pending) >= b.blockSize {
		block := b.pending[:b.blockSize]
		rms := rootMeanSquare(block)
		if rms > b.peakRMS {
			b.peakRMS = rms
		}
		b.energy = append(b.energy, rms)
		b.pending = b.pending[b.blockSize:]
	}
}

// Len returns the current number of samples
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Duration returns the buffered audio length in seconds
func (b *Buffer) Duration() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// Samples returns a snapshot copy of all buffered samples
func (b *Buffer) Samples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// RelativeEnergy returns a snapshot of the energy series normalized to
// [0,1] against the loudest block observed so far
func (b *Buffer) RelativeEnergy() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.energy))
	if b.peakRMS == 0 {
		return out
	}
	for i, e := range b.energy {
		out[i] = e / b.peakRMS
	}
	return out
}

// Purge truncates the buffer to at most the trailing keepSeconds of
// audio, trimming the energy series to match. It returns the new sample
// count. Callers must not purge while an inference pass is reading a
// snapshot they still care about.
func (b *Buffer) Purge(keepSeconds float64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	keepSamples := int(keepSeconds * float64(b.sampleRate))
	if keepSamples < 0 {
		keepSamples = 0
	}
	if keepSamples >= len(b.samples) {
		return len(b.samples)
	}

	drop := len(b.samples) - keepSamples
	b.samples = append([]float32(nil), b.samples[drop:]...)

	dropBlocks := drop / b.blockSize
	if dropBlocks > len(b.energy) {
		dropBlocks = len(b.energy)
	}
	b.energy = append([]float32(nil), b.energy[dropBlocks:]...)

	return len(b.samples)
}

// Reset discards all buffered samples and energy state
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.energy = nil
	b.pending = nil
	b.peakRMS = 0
}

// rootMeanSquare computes the RMS energy of a sample block
func rootMeanSquare(block []float32) float32 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(block))))
}
