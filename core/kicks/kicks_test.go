package kicks

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Kickfolio/core/playback"
)

const sampleCSV = `Track,Time,MIDI Note,Note Name,Velocity,Duration
0,1.5,36,C2,0.8,0.1
0,0.5,36,C2,0.9,0.1
0,0.75,42,F#2,0.5,0.05
0,0.5004,36,C2,0.9,0.1
`

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNoteName(t *testing.T) {
	tests := []struct {
		note int
		want string
	}{
		{36, "C2"},
		{42, "F#2"},
		{60, "C4"},
		{0, "C-1"},
		{127, "G9"},
		{128, ""},
	}
	for _, tt := range tests {
		if got := NoteName(tt.note); got != tt.want {
			t.Fatalf("NoteName(%d): expected %q, got %q", tt.note, tt.want, got)
		}
	}
}

func TestReadCSV(t *testing.T) {
	events, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[2].Note != 42 || events[2].Velocity != 0.5 || events[2].Duration != 0.05 {
		t.Fatalf("unexpected event %+v", events[2])
	}

	kicks, err := Timestamps(events, DefaultKickNote)
	if err != nil {
		t.Fatalf("Timestamps: %v", err)
	}
	if want := []float64{0.5, 1.5}; !equalFloats(kicks, want) {
		t.Fatalf("expected %v, got %v", want, kicks)
	}

	all, err := Timestamps(events, AnyNote)
	if err != nil {
		t.Fatalf("Timestamps: %v", err)
	}
	if want := []float64{0.5, 0.75, 1.5}; !equalFloats(all, want) {
		t.Fatalf("expected %v, got %v", want, all)
	}
}

func TestReadCSV_WithoutHeader(t *testing.T) {
	events, err := ReadCSV(strings.NewReader("1,2.25\n1,3\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(events) != 2 || events[0].Track != 1 || events[0].Time != 2.25 {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].Note != AnyNote {
		t.Fatalf("missing note column should match any note")
	}
}

func TestReadCSV_Invalid(t *testing.T) {
	inputs := []string{
		"Track,Time\n0,abc\n",
		"0\n",
		"0,1.0,kick\n",
	}
	for _, in := range inputs {
		if _, err := ReadCSV(strings.NewReader(in)); !errors.Is(err, playback.ErrInvalidInput) {
			t.Fatalf("ReadCSV(%q): expected ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestTimestamps_RejectsNegative(t *testing.T) {
	_, err := Timestamps([]Event{{Time: -1, Note: 36}}, DefaultKickNote)
	if !errors.Is(err, playback.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestWriteCSV_RoundTripsTimes(t *testing.T) {
	events := []Event{
		{Track: 0, Time: 0.25, Note: 36, Velocity: 1, Duration: 0.1},
		{Track: 1, Time: 1.125, Note: 38, Velocity: 0.5, Duration: 0.2},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, events); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "Track,Time,MIDI Note,Note Name,Velocity,Duration" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if lines[2] != "1,1.125,38,D2,0.5,0.2" {
		t.Fatalf("unexpected row %q", lines[2])
	}

	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(back) != 2 || back[1].Time != 1.125 {
		t.Fatalf("unexpected events %+v", back)
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []float64
		wantErr bool
	}{
		{"array", `[2, 1, 1.0005]`, []float64{1, 2}, false},
		{"objects", `[{"time": 0.5, "velocity": 0.9}, {"time": 0.25}]`, []float64{0.25, 0.5}, false},
		{"empty", `[]`, []float64{}, false},
		{"missing time", `[{"velocity": 1}]`, nil, true},
		{"negative", `[-0.5]`, nil, true},
		{"not json", `kick`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, playback.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJSON: %v", err)
			}
			if !equalFloats(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "7.csv")
	if err := os.WriteFile(csvPath, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "7.json")
	if err := os.WriteFile(jsonPath, []byte(`[3, 1]`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(csvPath, DefaultKickNote)
	if err != nil {
		t.Fatalf("Load csv: %v", err)
	}
	if !equalFloats(got, []float64{0.5, 1.5}) {
		t.Fatalf("unexpected csv kicks %v", got)
	}

	got, err = Load(jsonPath, DefaultKickNote)
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	if !equalFloats(got, []float64{1, 3}) {
		t.Fatalf("unexpected json kicks %v", got)
	}

	if _, err := Load(filepath.Join(dir, "7.txt"), DefaultKickNote); !errors.Is(err, playback.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unsupported file, got %v", err)
	}
	if Supported("a.txt") || !Supported("a.MID") {
		t.Fatalf("unexpected Supported result")
	}
}

func TestMarshalTimestamps(t *testing.T) {
	out, err := MarshalTimestamps(nil)
	if err != nil {
		t.Fatalf("MarshalTimestamps: %v", err)
	}
	if string(out) != "[]" {
		t.Fatalf("expected [], got %s", out)
	}
}
