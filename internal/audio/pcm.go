package audio

import (
	"encoding/binary"
)

// DecodePCM16 converts little-endian 16-bit PCM bytes into float32
// samples in [-1,1]. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// EncodePCM16 converts float32 samples in [-1,1] into little-endian
// 16-bit PCM bytes, clamping out-of-range values
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

// Chunker splits an incoming sample stream into fixed-duration chunks
type Chunker struct {
	chunkSize int
	pending   []float32
}

// NewChunker creates a chunker emitting chunks of chunkMs milliseconds
func NewChunker(sampleRate, chunkMs int) *Chunker {
	return &Chunker{
		chunkSize: sampleRate * chunkMs / 1000,
	}
}

// Push adds samples and returns all complete chunks now available
func (c *Chunker) Push(samples []float32) [][]float32 {
	c.pending = append(c.pending, samples...)

	var chunks [][]float32
	for len(c.pending) >= c.chunkSize {
		chunk := make([]float32, c.chunkSize)
		copy(chunk, c.pending[:c.chunkSize])
		chunks = append(chunks, chunk)
		c.pending = c.pending[c.chunkSize:]
	}
	return chunks
}

// Flush returns any buffered samples shorter than a full chunk
func (c *Chunker) Flush() []float32 {
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// Reset discards buffered samples
func (c *Chunker) Reset() {
	c.pending = nil
}
