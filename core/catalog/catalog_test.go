package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Kickfolio/cache"
	"Kickfolio/core/playback"
	"Kickfolio/model"
	"Kickfolio/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) repository.TrackRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&model.Track{}, &model.TrackSection{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewGormTrackRepository(db)
}

func TestFromModel(t *testing.T) {
	row := &model.Track{
		ID:            4,
		Title:         "Don't Stop",
		Artist:        "Alex Akashi",
		BPM:           145,
		Key:           "A minor",
		Duration:      212.5,
		AudioFilePath: "audio-files/dont-stop.mp3",
		Kicks:         model.KickList{0.41, 0.82},
		Sections: []model.TrackSection{
			{SectionType: model.SectionIntro, StartTime: 0, EndTime: 30},
		},
	}

	got := FromModel(row)
	if got.ID != 4 || got.MediaPath != "audio-files/dont-stop.mp3" || got.Key != "A minor" {
		t.Fatalf("unexpected conversion %+v", got)
	}
	if len(got.EventTimestamps) != 2 || got.EventTimestamps[1] != 0.82 {
		t.Fatalf("unexpected timestamps %v", got.EventTimestamps)
	}
	if len(got.Sections) != 1 || got.Sections[0].Type != model.SectionIntro || got.Sections[0].End != 30 {
		t.Fatalf("unexpected sections %+v", got.Sections)
	}

	row.Kicks[0] = 99
	if got.EventTimestamps[0] != 0.41 {
		t.Fatalf("timestamps should be copied")
	}
}

func TestRepositoryLoader_DatabaseOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for _, title := range []string{"A", "B"} {
		if err := repo.Create(ctx, &model.Track{Title: title, Artist: "X", IsActive: true, AudioFilePath: "b/" + title}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	tracks, err := NewRepositoryLoader(repo, nil).FetchActiveTracks(ctx)
	if err != nil {
		t.Fatalf("FetchActiveTracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0].Title != "A" || tracks[1].Title != "B" {
		t.Fatalf("unexpected tracks %+v", tracks)
	}
}

func TestRepositoryLoader_UsesSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, &model.Track{Title: "A", Artist: "X", IsActive: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	snapshot := cache.NewCatalogCache(client, time.Minute)
	loader := NewRepositoryLoader(repo, snapshot)

	first, err := loader.FetchActiveTracks(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("first fetch: %v %+v", err, first)
	}
	if !mr.Exists(cache.CatalogKey) {
		t.Fatalf("expected snapshot to be stored")
	}

	// rows added after the snapshot stay hidden until it is invalidated
	if err := repo.Create(ctx, &model.Track{Title: "B", Artist: "X", IsActive: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := loader.FetchActiveTracks(ctx)
	if err != nil || len(second) != 1 {
		t.Fatalf("expected snapshot hit, got %v %+v", err, second)
	}

	if err := snapshot.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	third, err := loader.FetchActiveTracks(ctx)
	if err != nil || len(third) != 2 {
		t.Fatalf("expected database read after invalidate, got %v %+v", err, third)
	}
}

// blockingRepo pauses ListActive after the database read until release is closed.
type blockingRepo struct {
	repository.TrackRepository
	read    chan struct{}
	release chan struct{}
}

func (r *blockingRepo) ListActive(ctx context.Context) ([]*model.Track, error) {
	rows, err := r.TrackRepository.ListActive(ctx)
	close(r.read)
	<-r.release
	return rows, err
}

func TestRepositoryLoader_ReadOverlappingInvalidateIsNotStored(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	track := &model.Track{Title: "old", Artist: "X", IsActive: true}
	if err := repo.Create(ctx, track); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	snapshot := cache.NewCatalogCache(client, time.Minute)

	slow := &blockingRepo{TrackRepository: repo, read: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := NewRepositoryLoader(slow, snapshot).FetchActiveTracks(ctx)
		done <- err
	}()
	<-slow.read

	title := "new"
	if _, err := repo.Update(ctx, track.ID, model.TrackUpdate{Title: &title}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := snapshot.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("FetchActiveTracks: %v", err)
	}

	if mr.Exists(cache.CatalogKey) {
		t.Fatal("pre-invalidation read must not be stored")
	}
	tracks, err := NewRepositoryLoader(repo, snapshot).FetchActiveTracks(ctx)
	if err != nil {
		t.Fatalf("FetchActiveTracks: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Title != "new" {
		t.Fatalf("expected updated title, got %+v", tracks)
	}
}

func TestRepositoryLoader_SnapshotDownFallsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, &model.Track{Title: "A", Artist: "X", IsActive: true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	tracks, err := NewRepositoryLoader(repo, cache.NewCatalogCache(client, time.Minute)).FetchActiveTracks(ctx)
	if err != nil {
		t.Fatalf("expected database fallback, got %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("unexpected tracks %+v", tracks)
	}
}

func TestClient_FetchActiveTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/catalog" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]playback.Track{
			{ID: 1, Title: "One", MediaPath: "audio-files/one.mp3", EventTimestamps: []float64{0.5}},
		})
	}))
	defer srv.Close()

	tracks, err := NewClient(srv.URL + "/").FetchActiveTracks(context.Background())
	if err != nil {
		t.Fatalf("FetchActiveTracks: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Title != "One" || tracks[0].EventTimestamps[0] != 0.5 {
		t.Fatalf("unexpected tracks %+v", tracks)
	}
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchActiveTracks(context.Background()); err == nil {
		t.Fatalf("expected error on 503")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer empty.Close()

	tracks, err := NewClient(empty.URL).FetchActiveTracks(context.Background())
	if err != nil {
		t.Fatalf("FetchActiveTracks: %v", err)
	}
	if tracks == nil || len(tracks) != 0 {
		t.Fatalf("expected empty non-nil catalog, got %#v", tracks)
	}
}
