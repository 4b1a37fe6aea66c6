package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"Kickfolio/core/playback"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*CatalogCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCatalogCache(client, time.Minute), mr
}

func TestCatalogCache_MissThenHit(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	tracks := []playback.Track{
		{ID: 1, Title: "One", MediaPath: "audio-files/one.mp3", EventTimestamps: []float64{0.5, 1}},
		{ID: 2, Title: "Two", MediaPath: "audio-files/two.mp3"},
	}
	if err := c.Set(ctx, 0, tracks); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(CatalogKey); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	got, ok, err := c.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0].Title != "One" || len(got[0].EventTimestamps) != 2 {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx); ok {
		t.Fatal("snapshot should expire")
	}
}

func TestCatalogCache_EmptyCatalogIsAHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, 0, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx)
	if err != nil || !ok || got == nil || len(got) != 0 {
		t.Fatalf("expected empty hit, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestCatalogCache_CorruptSnapshotIsDropped(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Set(CatalogKey, "{not json")

	if _, ok, err := c.Get(context.Background()); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if mr.Exists(CatalogKey) {
		t.Fatal("corrupt snapshot should be deleted")
	}
}

func TestCatalogCache_InvalidateNotifiesSubscribers(t *testing.T) {
	c, mr := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Set(ctx, 0, []playback.Track{{ID: 1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, func() { calls.Add(1) }) }()

	// Publish until the subscriber is registered and has seen one message.
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never notified")
		}
		if err := c.Invalidate(ctx); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if mr.Exists(CatalogKey) {
		t.Fatal("snapshot should be deleted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestCatalogCache_SetAfterInvalidateIsRejected(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	before, err := c.Version(ctx)
	if err != nil || before != 0 {
		t.Fatalf("expected version 0, got %d err=%v", before, err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	err = c.Set(ctx, before, []playback.Track{{ID: 1, Title: "old"}})
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
	if mr.Exists(CatalogKey) {
		t.Fatal("stale snapshot must not be stored")
	}

	after, err := c.Version(ctx)
	if err != nil || after != before+1 {
		t.Fatalf("expected version %d, got %d err=%v", before+1, after, err)
	}
	if err := c.Set(ctx, after, []playback.Track{{ID: 1, Title: "new"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx)
	if err != nil || !ok || len(got) != 1 || got[0].Title != "new" {
		t.Fatalf("unexpected snapshot %+v ok=%v err=%v", got, ok, err)
	}
}
