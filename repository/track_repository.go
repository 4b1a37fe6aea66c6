package repository

import (
	"context"
	"errors"
	"fmt"

	"Kickfolio/model"

	"gorm.io/gorm"
)

// ErrInvalidOrder 重排的 id 列表必须恰好包含全部曲目
var ErrInvalidOrder = errors.New("track ids must list every track exactly once")

// TrackRepository 曲目数据访问接口
type TrackRepository interface {
	ListActive(ctx context.Context) ([]*model.Track, error)
	ListAll(ctx context.Context) ([]*model.Track, error)
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	Create(ctx context.Context, track *model.Track) error
	Update(ctx context.Context, id int64, update model.TrackUpdate) (*model.Track, error)
	UpdateKicks(ctx context.Context, id int64, kicks []float64) error
	Delete(ctx context.Context, id int64) (*model.Track, error)
	Reorder(ctx context.Context, ids []int64) error
	Count(ctx context.Context) (int64, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// ListActive 获取上架曲目，按 order_position 排序，附带段落
func (r *gormTrackRepository) ListActive(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Preload("Sections", func(db *gorm.DB) *gorm.DB {
			return db.Order("start_time ASC")
		}).
		Where("is_active = ?", true).
		Order("order_position ASC, id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active tracks: %w", err)
	}
	return tracks, nil
}

// ListAll 获取全部曲目（管理端）
func (r *gormTrackRepository) ListAll(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Preload("Sections").
		Order("order_position ASC, id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, nil
}

// GetByID 根据ID获取曲目，不存在时返回 nil, nil
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Preload("Sections").
		First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %d: %w", id, err)
	}
	return &track, nil
}

// Create 创建曲目，排在当前最后一首之后
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos int
		if err := tx.Model(&model.Track{}).
			Select("COALESCE(MAX(order_position), 0)").
			Scan(&maxPos).Error; err != nil {
			return fmt.Errorf("failed to read max order position: %w", err)
		}
		track.OrderPosition = maxPos + 1
		if err := tx.Create(track).Error; err != nil {
			return fmt.Errorf("failed to create track: %w", err)
		}
		return nil
	})
}

// Update 按字段更新，返回更新后的曲目；不存在时返回 nil, nil
func (r *gormTrackRepository) Update(ctx context.Context, id int64, update model.TrackUpdate) (*model.Track, error) {
	cols := update.Columns()
	if len(cols) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update track %d: %w", id, res.Error)
		}
	}
	return r.GetByID(ctx, id)
}

// UpdateKicks 替换节拍时间戳
func (r *gormTrackRepository) UpdateKicks(ctx context.Context, id int64, kicks []float64) error {
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Update("kicks", model.KickList(kicks))
	if res.Error != nil {
		return fmt.Errorf("failed to update kicks for track %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("track %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Delete 删除曲目及其段落，返回被删除的行；不存在时返回 nil, nil
func (r *gormTrackRepository) Delete(ctx context.Context, id int64) (*model.Track, error) {
	var deleted *model.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track model.Track
		if err := tx.First(&track, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("track_id = ?", id).Delete(&model.TrackSection{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Track{}, id).Error; err != nil {
			return err
		}
		deleted = &track
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete track %d: %w", id, err)
	}
	return deleted, nil
}

// Reorder 按 ids 顺序重排，ids 必须是全部曲目。先写负数位置再写正数位置，避免唯一约束冲突
func (r *gormTrackRepository) Reorder(ctx context.Context, ids []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&model.Track{}).Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count tracks: %w", err)
		}
		if total != int64(len(ids)) {
			return fmt.Errorf("%w: got %d ids for %d tracks", ErrInvalidOrder, len(ids), total)
		}

		for i, id := range ids {
			res := tx.Model(&model.Track{}).
				Where("id = ?", id).
				Update("order_position", -(i + 1))
			if res.Error != nil {
				return fmt.Errorf("failed to stage position for track %d: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: unknown track %d", ErrInvalidOrder, id)
			}
		}
		for i, id := range ids {
			if err := tx.Model(&model.Track{}).
				Where("id = ?", id).
				Update("order_position", i+1).Error; err != nil {
				return fmt.Errorf("failed to set position for track %d: %w", id, err)
			}
		}
		return nil
	})
}

// Count 统计曲目数量
func (r *gormTrackRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).Count(&count).Error
	return count, err
}
