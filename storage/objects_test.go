package storage

import (
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	t1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	stats := Summarize([]ObjectInfo{
		{Key: "1-a.mp3", Size: 3000, LastModified: t1},
		{Key: "2-b.WAV", Size: 2000, LastModified: t2},
		{Key: "kicks/7.mid", Size: 10, LastModified: t1},
		{Key: "notes", Size: 5, LastModified: t1},
	})

	if stats.TotalObjects != 4 || stats.TotalSize != 5015 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if !stats.LastModified.Equal(t2) {
		t.Fatalf("expected latest modification %v, got %v", t2, stats.LastModified)
	}
	if stats.SizeByType["audio"] != 5000 || stats.SizeByType["kicks"] != 10 || stats.SizeByType["other"] != 5 {
		t.Fatalf("unexpected usage %v", stats.SizeByType)
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := FormatSize(in); got != want {
			t.Fatalf("FormatSize(%d): expected %q, got %q", in, want, got)
		}
	}
}
