package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Kickfolio/model"
)

type memorySink struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
	err    error
}

func (s *memorySink) Insert(_ context.Context, event *model.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *memorySink) all() []model.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AnalyticsEvent(nil), s.events...)
}

func (s *memorySink) types() []string {
	var out []string
	for _, e := range s.all() {
		out = append(out, e.EventType)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualTicker hands out one channel per started ticker.
type manualTicker struct {
	mu    sync.Mutex
	chans []chan time.Time
}

func (m *manualTicker) tick(time.Duration) (<-chan time.Time, func()) {
	c := make(chan time.Time)
	m.mu.Lock()
	m.chans = append(m.chans, c)
	m.mu.Unlock()
	return c, func() {}
}

func (m *manualTicker) latest() chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chans[len(m.chans)-1]
}

func newTestTracker(sink *memorySink) (*Tracker, *fakeClock, *manualTicker) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ticker := &manualTicker{}
	tr := NewTracker(sink, "test-agent",
		WithClock(clock.Now),
		WithTicker(ticker.tick),
		WithSessionID("session_test"))
	return tr, clock, ticker
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestTracker_SessionStart(t *testing.T) {
	sink := &memorySink{}
	tr, _, _ := newTestTracker(sink)
	defer tr.Close()

	events := sink.all()
	if len(events) != 1 || events[0].EventType != model.EventSessionStart {
		t.Fatalf("expected session_start, got %+v", events)
	}
	if events[0].SessionID != "session_test" || events[0].UserAgent != "test-agent" {
		t.Fatalf("unexpected session fields: %+v", events[0])
	}
	if events[0].TrackID != nil {
		t.Fatalf("session_start should not carry a track")
	}
}

func TestTracker_GeneratedSessionID(t *testing.T) {
	sink := &memorySink{}
	a := NewTracker(sink, "", WithTicker((&manualTicker{}).tick))
	b := NewTracker(sink, "", WithTicker((&manualTicker{}).tick))
	defer a.Close()
	defer b.Close()

	if a.SessionID() == b.SessionID() {
		t.Fatalf("expected distinct session ids")
	}
	if len(a.SessionID()) <= len("session_") {
		t.Fatalf("unexpected session id %q", a.SessionID())
	}
}

func TestTracker_PlayPause(t *testing.T) {
	sink := &memorySink{}
	tr, clock, _ := newTestTracker(sink)

	tr.TrackPlay(7)
	tr.TrackPlay(7)
	clock.Advance(42500 * time.Millisecond)
	tr.TrackPause()
	tr.Close()

	want := []string{model.EventSessionStart, model.EventPlay, model.EventPause}
	if got := sink.types(); !equalTypes(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	pause := sink.all()[2]
	if pause.TrackID == nil || *pause.TrackID != 7 {
		t.Fatalf("pause should reference track 7: %+v", pause)
	}
	if pause.DurationSeconds == nil || *pause.DurationSeconds != 42 {
		t.Fatalf("expected 42 seconds listened, got %v", pause.DurationSeconds)
	}
}

func TestTracker_PauseWithoutPlayIsIgnored(t *testing.T) {
	sink := &memorySink{}
	tr, _, _ := newTestTracker(sink)
	tr.TrackPause()
	tr.TrackEnd()
	tr.Close()

	if got := sink.types(); !equalTypes(got, []string{model.EventSessionStart}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestTracker_TrackChange(t *testing.T) {
	sink := &memorySink{}
	tr, clock, _ := newTestTracker(sink)

	tr.TrackPlay(1)
	clock.Advance(10 * time.Second)
	tr.TrackChange(2)
	clock.Advance(5 * time.Second)
	tr.Close()

	want := []string{
		model.EventSessionStart,
		model.EventPlay,
		model.EventPause,
		model.EventPlay,
		model.EventPause,
	}
	got := sink.all()
	if types := sink.types(); !equalTypes(types, want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	if *got[2].TrackID != 1 || *got[2].DurationSeconds != 10 {
		t.Fatalf("unexpected pause for previous track: %+v", got[2])
	}
	if *got[3].TrackID != 2 {
		t.Fatalf("expected play of track 2, got %+v", got[3])
	}
	if *got[4].TrackID != 2 || *got[4].DurationSeconds != 5 {
		t.Fatalf("unexpected final pause: %+v", got[4])
	}
}

func TestTracker_ListeningHeartbeat(t *testing.T) {
	sink := &memorySink{}
	tr, _, ticker := newTestTracker(sink)

	tr.TrackPlay(3)
	ticker.latest() <- time.Now()
	ticker.latest() <- time.Now()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n := 0
		for _, e := range sink.all() {
			if e.EventType == model.EventListeningTime {
				n++
				if *e.TrackID != 3 || *e.DurationSeconds != 30 {
					t.Fatalf("unexpected heartbeat %+v", e)
				}
			}
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 heartbeats, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr.Close()
}

func TestTracker_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	tr, _, _ := newTestTracker(sink)
	tr.TrackPlay(1)
	tr.TrackPause()
	tr.Close()

	if len(sink.all()) != 0 {
		t.Fatalf("failing sink should store nothing")
	}
}

func TestTracker_ClosedIgnoresPlays(t *testing.T) {
	sink := &memorySink{}
	tr, _, _ := newTestTracker(sink)
	tr.Close()
	tr.TrackPlay(1)
	tr.TrackChange(2)

	if got := sink.types(); !equalTypes(got, []string{model.EventSessionStart}) {
		t.Fatalf("unexpected events after close %v", got)
	}
}
