package repository

import (
	"context"
	"fmt"

	"Kickfolio/model"

	"gorm.io/gorm"
)

// topTracksLimit 统计面板展示的热门曲目数量
const topTracksLimit = 3

// AnalyticsRepository 听众行为数据访问接口
type AnalyticsRepository interface {
	Insert(ctx context.Context, event *model.AnalyticsEvent) error
	Statistics(ctx context.Context) (*model.AnalyticsStatistics, error)
}

type gormAnalyticsRepository struct {
	db *gorm.DB
}

// NewGormAnalyticsRepository 创建 GORM 统计仓库
func NewGormAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &gormAnalyticsRepository{db: db}
}

// Insert 写入一条事件
func (r *gormAnalyticsRepository) Insert(ctx context.Context, event *model.AnalyticsEvent) error {
	if !model.ValidEventType(event.EventType) {
		return fmt.Errorf("invalid event type %q", event.EventType)
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// Statistics 汇总播放次数、独立访客、收听时长和热门曲目
func (r *gormAnalyticsRepository) Statistics(ctx context.Context) (*model.AnalyticsStatistics, error) {
	db := r.db.WithContext(ctx)
	stats := &model.AnalyticsStatistics{TopTracks: []model.TopTrack{}}

	if err := db.Model(&model.AnalyticsEvent{}).
		Where("event_type = ?", model.EventPlay).
		Count(&stats.TotalPlays).Error; err != nil {
		return nil, fmt.Errorf("failed to count plays: %w", err)
	}

	if err := db.Model(&model.AnalyticsEvent{}).
		Where("event_type = ?", model.EventSessionStart).
		Distinct("session_id").
		Count(&stats.UniqueVisitors).Error; err != nil {
		return nil, fmt.Errorf("failed to count visitors: %w", err)
	}

	pauseTime, err := r.sumDuration(db, model.EventPause)
	if err != nil {
		return nil, err
	}
	continuousTime, err := r.sumDuration(db, model.EventListeningTime)
	if err != nil {
		return nil, err
	}
	// pause 与 listening_time 覆盖同一段收听，取较大者避免重复计算
	stats.TotalListeningTime = max(pauseTime, continuousTime)

	err = db.Table("analytics_events AS a").
		Select("a.track_id AS track_id, t.title AS title, t.artist AS artist, COUNT(*) AS play_count").
		Joins("JOIN tracks t ON t.id = a.track_id").
		Where("a.event_type = ? AND a.track_id IS NOT NULL", model.EventPlay).
		Group("a.track_id, t.title, t.artist").
		Order("play_count DESC, a.track_id ASC").
		Limit(topTracksLimit).
		Scan(&stats.TopTracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank tracks: %w", err)
	}
	if stats.TopTracks == nil {
		stats.TopTracks = []model.TopTrack{}
	}

	return stats, nil
}

func (r *gormAnalyticsRepository) sumDuration(db *gorm.DB, eventType string) (int64, error) {
	var total int64
	err := db.Model(&model.AnalyticsEvent{}).
		Select("COALESCE(SUM(duration_seconds), 0)").
		Where("event_type = ? AND duration_seconds IS NOT NULL", eventType).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum %s durations: %w", eventType, err)
	}
	return total, nil
}
