package transcription

import (
	"fmt"
	"sync"

	"github.com/audioloop/livescribe/internal/engine"
)

// Confirmer reconciles the engine's revisable segment list into a
// monotonic stream of confirmed segments. A segment is confirmed once
// enough later segments exist behind it that the engine will no longer
// revise it; the trailing window stays provisional and is re-offered on
// every pass.
type Confirmer struct {
	mu sync.Mutex

	// requiredTrailing is how many trailing segments must follow a
	// candidate before it is considered settled
	requiredTrailing int

	// watermark is the end time of the last confirmed segment, in
	// buffer seconds. Candidates ending at or before it are stale
	// revisions and are never re-confirmed.
	watermark float64

	// emitted tracks content identity of everything already confirmed
	emitted map[string]struct{}

	// unconfirmed is the trailing provisional window from the latest pass
	unconfirmed []engine.Segment
}

// NewConfirmer creates a confirmer that holds back the trailing
// requiredTrailing segments of every pass
func NewConfirmer(requiredTrailing int) *Confirmer {
	if requiredTrailing < 1 {
		requiredTrailing = 1
	}
	return &Confirmer{
		requiredTrailing: requiredTrailing,
		emitted:          make(map[string]struct{}),
	}
}

// Confirm offers the full segment list from a decode pass and returns
// the segments newly confirmed by it, in order
func (c *Confirmer) Confirm(segments []engine.Segment) []engine.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(segments) <= c.requiredTrailing {
		c.unconfirmed = append([]engine.Segment(nil), segments...)
		return nil
	}

	candidates := segments[:len(segments)-c.requiredTrailing]
	c.unconfirmed = append([]engine.Segment(nil), segments[len(segments)-c.requiredTrailing:]...)

	// The engine re-emits everything after the seek point on each pass.
	// Only a candidate list that extends past the watermark carries
	// anything new; otherwise it is a re-decode of confirmed audio.
	if candidates[len(candidates)-1].End <= c.watermark {
		return nil
	}

	var confirmed []engine.Segment
	for _, seg := range candidates {
		key := contentKey(seg)
		if _, seen := c.emitted[key]; seen {
			continue
		}
		c.emitted[key] = struct{}{}
		confirmed = append(confirmed, seg)
		if seg.End > c.watermark {
			c.watermark = seg.End
		}
	}

	return confirmed
}

// FlushUnconfirmed confirms the entire provisional window immediately.
// Used when silence indicates the engine will not revise it further.
func (c *Confirmer) FlushUnconfirmed() []engine.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	var flushed []engine.Segment
	for _, seg := range c.unconfirmed {
		key := contentKey(seg)
		if _, seen := c.emitted[key]; seen {
			continue
		}
		c.emitted[key] = struct{}{}
		flushed = append(flushed, seg)
		if seg.End > c.watermark {
			c.watermark = seg.End
		}
	}
	c.unconfirmed = nil

	return flushed
}

// Reset clears all confirmation state. Used after a long-silence
// re-anchor when buffer timestamps restart near zero.
func (c *Confirmer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.watermark = 0
	c.emitted = make(map[string]struct{})
	c.unconfirmed = nil
}

// Watermark returns the end time of the last confirmed segment
func (c *Confirmer) Watermark() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Unconfirmed returns a copy of the current provisional window
func (c *Confirmer) Unconfirmed() []engine.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Segment(nil), c.unconfirmed...)
}

// contentKey identifies a segment by what it says and where, not by
// the per-decode ID the engine assigns
func contentKey(seg engine.Segment) string {
	return fmt.Sprintf("%.3f|%.3f|%s", seg.Start, seg.End, seg.Text)
}
