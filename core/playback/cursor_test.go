package playback

import (
	"reflect"
	"testing"
)

func mustTimeline(t *testing.T, raw ...float64) *Timeline {
	t.Helper()
	tl, err := NewTimeline(1, raw)
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	return tl
}

type firedLog struct {
	indexes []int
	stamps  []float64
}

func (l *firedLog) fire(i int, ts float64) {
	l.indexes = append(l.indexes, i)
	l.stamps = append(l.stamps, ts)
}

func TestCursor_FiresInOrderOnce(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.5, 1.0, 1.5))
	var log firedLog

	steps := []struct {
		pos  float64
		want int
	}{
		{0.2, 0},
		{0.5, 1},
		{0.6, 0},
		{1.6, 2},
		{2.0, 0},
		{3.0, 0},
	}
	for _, s := range steps {
		if got := c.Advance(s.pos, log.fire); got != s.want {
			t.Fatalf("Advance(%v): expected %d fired, got %d", s.pos, s.want, got)
		}
	}
	if !reflect.DeepEqual(log.indexes, []int{0, 1, 2}) {
		t.Fatalf("unexpected fire order %v", log.indexes)
	}
	if !reflect.DeepEqual(log.stamps, []float64{0.5, 1.0, 1.5}) {
		t.Fatalf("unexpected timestamps %v", log.stamps)
	}
}

func TestCursor_NeverFiresAhead(t *testing.T) {
	c := NewCursor(mustTimeline(t, 1, 2, 3, 4))
	for _, pos := range []float64{0.5, 1.2, 2.9, 3.5} {
		c.Advance(pos, func(_ int, ts float64) {
			if ts > pos {
				t.Fatalf("fired %v at position %v", ts, pos)
			}
		})
	}
}

func TestCursor_EmptyTimeline(t *testing.T) {
	c := NewCursor(mustTimeline(t))
	for _, pos := range []float64{0, 1, 100, 0.01} {
		if n := c.Advance(pos, func(int, float64) { t.Fatal("unexpected fire") }); n != 0 {
			t.Fatalf("expected 0, got %d", n)
		}
	}
}

func TestCursor_LoopResetRefires(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.5, 1.0))
	var log firedLog

	c.Advance(1.2, log.fire)
	if c.Advance(0.05, log.fire) != 0 {
		t.Fatal("reset sample must not fire")
	}
	if c.Index() != 0 {
		t.Fatalf("expected index 0 after loop, got %d", c.Index())
	}
	c.Advance(0.6, log.fire)
	c.Advance(1.1, log.fire)

	if !reflect.DeepEqual(log.indexes, []int{0, 1, 0, 1}) {
		t.Fatalf("expected each kick twice, got %v", log.indexes)
	}
}

func TestCursor_KickUnderResetThresholdFiresOncePerRun(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.0, 0.05, 1.0))
	var log firedLog

	for _, pos := range []float64{0.0, 0.02, 0.06, 0.08, 0.09, 0.5} {
		c.Advance(pos, log.fire)
	}
	if !reflect.DeepEqual(log.indexes, []int{0, 1}) {
		t.Fatalf("expected [0 1], got %v", log.indexes)
	}
}

func TestCursor_BackwardSeekAboveThresholdDoesNotReset(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.5, 1.0, 2.0))
	var log firedLog

	c.Advance(2.5, log.fire)
	c.Advance(0.7, log.fire)
	c.Advance(2.6, log.fire)
	if len(log.indexes) != 3 {
		t.Fatalf("expected no refire without reset, got %v", log.indexes)
	}
}

func TestCursor_SeekToSkipsWithoutFiring(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.5, 1.0, 2.0, 3.0))
	c.SeekTo(1.5)
	if c.Index() != 2 {
		t.Fatalf("expected index 2, got %d", c.Index())
	}

	var log firedLog
	c.Advance(2.5, log.fire)
	if !reflect.DeepEqual(log.indexes, []int{2}) {
		t.Fatalf("expected only index 2 to fire, got %v", log.indexes)
	}

	c.SeekTo(0.7)
	c.Advance(1.2, log.fire)
	if !reflect.DeepEqual(log.indexes, []int{2, 1}) {
		t.Fatalf("expected index 1 after seeking back, got %v", log.indexes)
	}
}

func TestCursor_Reset(t *testing.T) {
	c := NewCursor(mustTimeline(t, 0.5))
	c.Advance(1, nil)
	c.Reset()
	if n := c.Advance(1, nil); n != 1 {
		t.Fatalf("expected refire after reset, got %d", n)
	}
}
