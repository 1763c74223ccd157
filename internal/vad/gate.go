// Package vad implements energy-based voice activity detection over the
// relative-energy series maintained by the audio buffer.
package vad

import (
	"sort"
)

// noiseFloorWindowSeconds is how far back the gate looks to estimate the
// baseline noise floor.
const noiseFloorWindowSeconds = 2.0

// quietFraction is the share of the window treated as background noise
// when estimating the floor.
const quietFraction = 0.2

// Gate decides whether newly appended audio contains speech. It is a
// pure function of its inputs; the only state is configuration.
type Gate struct {
	threshold         float64 // relative-energy margin above the noise floor, in [0,1]
	energiesPerSecond float64
}

// New creates a gate with the given silence threshold and energy-series
// resolution (values per second of audio)
func New(threshold, energiesPerSecond float64) *Gate {
	return &Gate{
		threshold:         threshold,
		energiesPerSecond: energiesPerSecond,
	}
}

// Detect reports whether the newest newSeconds of audio contain speech.
// The energy series covers the whole buffer so far; the baseline noise
// floor is the mean of the quietest blocks in the trailing ~2 seconds,
// and the new slice is voiced if any of its blocks exceeds the floor by
// more than the threshold. Callers must supply at least ~1 second of new
// audio; shorter windows have too few blocks to judge.
func (g *Gate) Detect(energy []float32, newSeconds float64) bool {
	if len(energy) == 0 || newSeconds <= 0 {
		return false
	}

	floor := g.noiseFloor(energy)

	newBlocks := int(newSeconds * g.energiesPerSecond)
	if newBlocks < 1 {
		newBlocks = 1
	}
	if newBlocks > len(energy) {
		newBlocks = len(energy)
	}

	for _, e := range energy[len(energy)-newBlocks:] {
		if float64(e) > floor+g.threshold {
			return true
		}
	}
	return false
}

// noiseFloor estimates the baseline from the quietest portion of the
// most recent window
func (g *Gate) noiseFloor(energy []float32) float64 {
	windowBlocks := int(noiseFloorWindowSeconds * g.energiesPerSecond)
	if windowBlocks > len(energy) {
		windowBlocks = len(energy)
	}
	window := append([]float32(nil), energy[len(energy)-windowBlocks:]...)
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	quiet := int(float64(len(window)) * quietFraction)
	if quiet < 1 {
		quiet = 1
	}

	var sum float64
	for _, e := range window[:quiet] {
		sum += float64(e)
	}
	return sum / float64(quiet)
}
