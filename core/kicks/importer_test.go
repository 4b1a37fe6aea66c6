package kicks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	kicks map[int64][]float64
	err   error
}

func (s *memoryStore) UpdateKicks(_ context.Context, id int64, ts []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.kicks[id] = ts
	return nil
}

func (s *memoryStore) get(id int64) ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.kicks[id]
	return ts, ok
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func TestTrackIDFromFile(t *testing.T) {
	tests := []struct {
		path string
		id   int64
		ok   bool
	}{
		{"/tmp/12.mid", 12, true},
		{"7.csv", 7, true},
		{"kicks.json", 0, false},
		{"0.csv", 0, false},
		{"-3.csv", 0, false},
	}
	for _, tt := range tests {
		id, ok := TrackIDFromFile(tt.path)
		if id != tt.id || ok != tt.ok {
			t.Fatalf("TrackIDFromFile(%q): expected %d %v, got %d %v", tt.path, tt.id, tt.ok, id, ok)
		}
	}
}

func TestImporter_Import(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &memoryStore{kicks: make(map[int64][]float64)}
	inv := &countingInvalidator{}
	n, err := NewImporter(store, inv, DefaultKickNote).Import(context.Background(), 3, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 kicks, got %d", n)
	}
	if ts, _ := store.get(3); !equalFloats(ts, []float64{0.5, 1.5}) {
		t.Fatalf("unexpected stored kicks %v", ts)
	}
	if inv.n != 1 {
		t.Fatalf("expected one invalidation, got %d", inv.n)
	}

	store.err = errors.New("not found")
	if _, err := NewImporter(store, nil, DefaultKickNote).Import(context.Background(), 3, path); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestImporter_Watch(t *testing.T) {
	dir := t.TempDir()
	store := &memoryStore{kicks: make(map[int64][]float64)}
	im := NewImporter(store, nil, DefaultKickNote)
	im.SetSettle(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.Watch(ctx, dir) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "9.json"), []byte(`[1.5, 0.5]`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if ts, ok := store.get(9); ok {
			if !equalFloats(ts, []float64{0.5, 1.5}) {
				t.Fatalf("unexpected kicks %v", ts)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watched file was not imported")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
