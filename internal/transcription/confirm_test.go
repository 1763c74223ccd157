package transcription

import (
	"testing"

	"github.com/audioloop/livescribe/internal/engine"
)

func seg(text string, start, end float64) engine.Segment {
	return engine.Segment{Text: text, Start: start, End: end}
}

func texts(segments []engine.Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

func assertTexts(t *testing.T, got []engine.Segment, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, texts(got))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Fatalf("expected %v, got %v", want, texts(got))
		}
	}
}

func TestConfirmTrailingWindow(t *testing.T) {
	c := NewConfirmer(2)

	confirmed := c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
		seg("C", 4, 5),
	})

	assertTexts(t, confirmed, "A", "B")
	if wm := c.Watermark(); wm != 4 {
		t.Errorf("expected watermark 4, got %f", wm)
	}
	assertTexts(t, c.Unconfirmed(), "C")
}

func TestConfirmTooFewSegments(t *testing.T) {
	c := NewConfirmer(2)

	confirmed := c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
	})

	if len(confirmed) != 0 {
		t.Errorf("expected no confirmations, got %v", texts(confirmed))
	}
	if wm := c.Watermark(); wm != 0 {
		t.Errorf("expected watermark 0, got %f", wm)
	}
	assertTexts(t, c.Unconfirmed(), "A", "B")
}

func TestConfirmStaleCandidatesIgnored(t *testing.T) {
	c := NewConfirmer(1)

	c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
		seg("C", 4, 6),
	})
	if wm := c.Watermark(); wm != 4 {
		t.Fatalf("expected watermark 4 after first pass, got %f", wm)
	}

	// Re-decode of already-confirmed audio: candidates end at the
	// watermark, nothing genuinely new
	confirmed := c.Confirm([]engine.Segment{
		seg("A'", 0, 2),
		seg("B'", 2, 4),
		seg("C'", 4, 6),
	})
	if len(confirmed) != 0 {
		t.Errorf("expected stale pass to confirm nothing, got %v", texts(confirmed))
	}
	if wm := c.Watermark(); wm != 4 {
		t.Errorf("watermark moved on stale pass: %f", wm)
	}
}

func TestConfirmNoDuplicateEmission(t *testing.T) {
	c := NewConfirmer(1)

	c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
	})

	// Next pass re-emits A alongside new material
	confirmed := c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
		seg("C", 4, 6),
	})

	assertTexts(t, confirmed, "B")
	if wm := c.Watermark(); wm != 4 {
		t.Errorf("expected watermark 4, got %f", wm)
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	c := NewConfirmer(1)

	passes := [][]engine.Segment{
		{seg("A", 0, 2), seg("B", 2, 4)},
		{seg("A", 0, 2), seg("B", 2, 4), seg("C", 4, 5)},
		{seg("A", 0, 2), seg("B", 2, 4), seg("C", 4, 5), seg("D", 5, 7)},
	}

	prev := 0.0
	for i, pass := range passes {
		c.Confirm(pass)
		wm := c.Watermark()
		if wm < prev {
			t.Fatalf("watermark decreased at pass %d: %f -> %f", i, prev, wm)
		}
		prev = wm
	}
	if prev != 5 {
		t.Errorf("expected final watermark 5, got %f", prev)
	}
}

func TestFlushUnconfirmed(t *testing.T) {
	c := NewConfirmer(2)

	c.Confirm([]engine.Segment{seg("D", 5, 6)})

	flushed := c.FlushUnconfirmed()
	assertTexts(t, flushed, "D")
	if wm := c.Watermark(); wm != 6 {
		t.Errorf("expected watermark 6 after flush, got %f", wm)
	}
	if got := c.Unconfirmed(); len(got) != 0 {
		t.Errorf("expected empty unconfirmed set after flush, got %v", texts(got))
	}

	// Second flush is a no-op
	if again := c.FlushUnconfirmed(); len(again) != 0 {
		t.Errorf("expected nothing on repeat flush, got %v", texts(again))
	}
}

func TestFlushSkipsAlreadyEmitted(t *testing.T) {
	c := NewConfirmer(1)

	c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
	})
	// A is confirmed. A later short pass can leave a stale copy of A as
	// the whole provisional window; flushing must not re-emit it.
	c.Confirm([]engine.Segment{seg("A", 0, 2)})

	if flushed := c.FlushUnconfirmed(); len(flushed) != 0 {
		t.Errorf("expected stale flush to emit nothing, got %v", texts(flushed))
	}
}

func TestReset(t *testing.T) {
	c := NewConfirmer(1)

	c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
	})
	c.Reset()

	if wm := c.Watermark(); wm != 0 {
		t.Errorf("expected watermark 0 after reset, got %f", wm)
	}
	if got := c.Unconfirmed(); len(got) != 0 {
		t.Errorf("expected empty unconfirmed set after reset, got %v", texts(got))
	}

	// After a reset the buffer re-anchors near zero; the same content at
	// the same timestamps is genuinely new again
	confirmed := c.Confirm([]engine.Segment{
		seg("A", 0, 2),
		seg("B", 2, 4),
	})
	assertTexts(t, confirmed, "A")
}

func TestConfirmReplacesUnconfirmedWholesale(t *testing.T) {
	c := NewConfirmer(2)

	c.Confirm([]engine.Segment{seg("X", 0, 1), seg("Y", 1, 2)})
	c.Confirm([]engine.Segment{seg("P", 0, 1.5), seg("Q", 1.5, 3)})

	// The provisional window mirrors the latest pass only
	assertTexts(t, c.Unconfirmed(), "P", "Q")
}
