package repository

import (
	"context"
	"fmt"

	"Kickfolio/model"

	"gorm.io/gorm"
)

// SectionRepository 曲目段落数据访问接口
type SectionRepository interface {
	ListByTrackIDs(ctx context.Context, trackIDs []int64) (map[int64][]model.TrackSection, error)
	ReplaceForTrack(ctx context.Context, trackID int64, sections []model.TrackSection) error
}

type gormSectionRepository struct {
	db *gorm.DB
}

// NewGormSectionRepository 创建 GORM 段落仓库
func NewGormSectionRepository(db *gorm.DB) SectionRepository {
	return &gormSectionRepository{db: db}
}

// ListByTrackIDs 批量获取段落，按曲目分组，组内按开始时间排序
func (r *gormSectionRepository) ListByTrackIDs(ctx context.Context, trackIDs []int64) (map[int64][]model.TrackSection, error) {
	out := make(map[int64][]model.TrackSection)
	if len(trackIDs) == 0 {
		return out, nil
	}

	var sections []model.TrackSection
	err := r.db.WithContext(ctx).
		Where("track_id IN ?", trackIDs).
		Order("track_id ASC, start_time ASC").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	for _, s := range sections {
		out[s.TrackID] = append(out[s.TrackID], s)
	}
	return out, nil
}

// ReplaceForTrack 在事务中替换某曲目的全部段落
func (r *gormSectionRepository) ReplaceForTrack(ctx context.Context, trackID int64, sections []model.TrackSection) error {
	for _, s := range sections {
		if !model.ValidSectionType(s.SectionType) {
			return fmt.Errorf("invalid section type %q", s.SectionType)
		}
		if s.EndTime < s.StartTime {
			return fmt.Errorf("section %q ends before it starts", s.SectionType)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", trackID).Delete(&model.TrackSection{}).Error; err != nil {
			return err
		}
		if len(sections) == 0 {
			return nil
		}
		rows := make([]model.TrackSection, len(sections))
		for i, s := range sections {
			rows[i] = model.TrackSection{
				TrackID:     trackID,
				SectionType: s.SectionType,
				StartTime:   s.StartTime,
				EndTime:     s.EndTime,
			}
		}
		return tx.Create(&rows).Error
	})
}
