// Package catalog 预取缓存使用的目录加载器：数据库加 Redis 快照，或本服务的 HTTP 接口
package catalog

import (
	"context"
	"errors"
	"fmt"

	"Kickfolio/cache"
	"Kickfolio/core/playback"
	"Kickfolio/logger"
	"Kickfolio/model"
	"Kickfolio/repository"
)

// FromModel 把数据库曲目转换为引擎的目录条目
func FromModel(t *model.Track) playback.Track {
	kicks := make([]float64, len(t.Kicks))
	copy(kicks, t.Kicks)

	var sections []playback.Section
	for _, s := range t.Sections {
		sections = append(sections, playback.Section{Type: s.SectionType, Start: s.StartTime, End: s.EndTime})
	}

	return playback.Track{
		ID:              t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		FeaturedArtist:  t.FeaturedArtist,
		OriginalArtist:  t.OriginalArtist,
		BPM:             t.BPM,
		Key:             t.Key,
		Year:            t.Year,
		Genre:           t.Genre,
		MasterEngineer:  t.MasterEngineer,
		Duration:        t.Duration,
		ReleaseDate:     t.ReleaseDate,
		MediaPath:       t.AudioFilePath,
		EventTimestamps: kicks,
		Sections:        sections,
	}
}

// RepositoryLoader 从数据库读取上架曲目，配置了 Redis 时先读快照
type RepositoryLoader struct {
	tracks   repository.TrackRepository
	snapshot *cache.CatalogCache
}

// NewRepositoryLoader 创建加载器，snapshot 可为 nil
func NewRepositoryLoader(tracks repository.TrackRepository, snapshot *cache.CatalogCache) *RepositoryLoader {
	return &RepositoryLoader{tracks: tracks, snapshot: snapshot}
}

// FetchActiveTracks 按位置返回上架曲目，快照不可用时直接读数据库
// 先读快照版本再读数据库，读取期间发生失效时不写回快照
func (l *RepositoryLoader) FetchActiveTracks(ctx context.Context) ([]playback.Track, error) {
	snapshot := l.snapshot
	var version int64
	if snapshot != nil {
		v, err := snapshot.Version(ctx)
		if err != nil {
			logger.Warn("catalog snapshot unavailable, reading database", logger.ErrorField(err))
			snapshot = nil
		} else {
			version = v
			tracks, ok, err := snapshot.Get(ctx)
			if err != nil {
				logger.Warn("catalog snapshot unavailable, reading database", logger.ErrorField(err))
			} else if ok {
				return tracks, nil
			}
		}
	}

	rows, err := l.tracks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tracks: %w", err)
	}
	tracks := make([]playback.Track, 0, len(rows))
	for _, row := range rows {
		tracks = append(tracks, FromModel(row))
	}

	if snapshot != nil {
		err := snapshot.Set(ctx, version, tracks)
		switch {
		case errors.Is(err, cache.ErrStaleSnapshot):
			logger.Debug("catalog changed while reading, snapshot not stored", logger.Int64("version", version))
		case err != nil:
			logger.Warn("failed to store catalog snapshot", logger.ErrorField(err))
		}
	}
	return tracks, nil
}
