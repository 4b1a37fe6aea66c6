package kicks

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// writeDrumMIDI writes a drum part at 120 BPM (96 ticks per quarter = 0.5s):
// kick at 0s for 0.25s, snare at 0.5s for 0.5s, kick at 1.0s for 0.5s.
func writeDrumMIDI(t *testing.T) string {
	t.Helper()
	clock := smf.MetricTicks(96)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	tr.Add(0, midi.NoteOn(9, 36, 127))
	tr.Add(48, midi.NoteOff(9, 36))
	tr.Add(48, midi.NoteOn(9, 38, 64))
	tr.Add(96, midi.NoteOff(9, 38))
	tr.Add(0, midi.NoteOn(9, 36, 100))
	tr.Add(96, midi.NoteOff(9, 36))
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = clock
	if err := s.Add(tr); err != nil {
		t.Fatalf("add track: %v", err)
	}
	path := filepath.Join(t.TempDir(), "drums.mid")
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("write midi: %v", err)
	}
	return path
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestReadMIDIFile(t *testing.T) {
	events, err := ReadMIDIFile(writeDrumMIDI(t))
	if err != nil {
		t.Fatalf("ReadMIDIFile: %v", err)
	}

	want := []Event{
		{Time: 0, Note: 36, Velocity: 1, Duration: 0.25},
		{Time: 0.5, Note: 38, Velocity: 64.0 / 127, Duration: 0.5},
		{Time: 1.0, Note: 36, Velocity: 100.0 / 127, Duration: 0.5},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, w := range want {
		got := events[i]
		if got.Note != w.Note || !near(got.Time, w.Time) || !near(got.Duration, w.Duration) || !near(got.Velocity, w.Velocity) {
			t.Fatalf("event %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestLoad_MIDI(t *testing.T) {
	path := writeDrumMIDI(t)

	tests := []struct {
		note int
		want []float64
	}{
		{DefaultKickNote, []float64{0, 1.0}},
		{38, []float64{0.5}},
		{AnyNote, []float64{0, 0.5, 1.0}},
		{42, []float64{}},
	}
	for _, tt := range tests {
		got, err := Load(path, tt.note)
		if err != nil {
			t.Fatalf("note %d: Load: %v", tt.note, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("note %d: got %v, want %v", tt.note, got, tt.want)
		}
		for i := range got {
			if !near(got[i], tt.want[i]) {
				t.Fatalf("note %d: got %v, want %v", tt.note, got, tt.want)
			}
		}
	}
}

func TestReadMIDIFile_NotMIDI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mid")
	if err := os.WriteFile(path, []byte("not a midi file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMIDIFile(path); err == nil {
		t.Fatal("expected error for a non-MIDI file")
	}
}
