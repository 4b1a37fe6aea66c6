package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// KickList 自定义类型用于 GORM JSON 字段的自动扫描，保存节拍时间戳（秒）
type KickList []float64

// Scan 实现 sql.Scanner 接口
func (k *KickList) Scan(value interface{}) error {
	if value == nil {
		*k = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported kicks column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*k = nil
		return nil
	}
	return json.Unmarshal(bytes, k)
}

// Value 实现 driver.Valuer 接口
func (k KickList) Value() (driver.Value, error) {
	if k == nil {
		return "[]", nil
	}
	b, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Track 作品集中的一首曲目
type Track struct {
	ID             int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	Title          string         `json:"title" gorm:"size:255;not null"`
	Artist         string         `json:"artist" gorm:"size:255;not null"`
	FeaturedArtist string         `json:"featuredArtist,omitempty" gorm:"size:255"`
	OriginalArtist string         `json:"originalArtist,omitempty" gorm:"size:255"`
	BPM            float64        `json:"bpm"`
	Key            string         `json:"key" gorm:"column:musical_key;size:32"`
	Year           int            `json:"year,omitempty"`
	MasterEngineer string         `json:"masterEngineer,omitempty" gorm:"size:255"`
	Genre          string         `json:"genre,omitempty" gorm:"size:100"`
	Duration       float64        `json:"duration"` // 秒
	ReleaseDate    string         `json:"releaseDate,omitempty" gorm:"size:32"`
	AudioFilePath  string         `json:"audioFilePath" gorm:"size:512"` // "<bucket>/<file>" 或完整 URL
	Kicks          KickList       `json:"kicks" gorm:"type:text"`
	IsActive       bool           `json:"isActive" gorm:"default:true;index"`
	OrderPosition  int            `json:"orderPosition" gorm:"index"`
	Sections       []TrackSection `json:"sections,omitempty" gorm:"foreignKey:TrackID"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// TrackUpdate 管理端可修改的字段，nil 表示不修改
type TrackUpdate struct {
	Title          *string  `json:"title,omitempty"`
	Artist         *string  `json:"artist,omitempty"`
	FeaturedArtist *string  `json:"featuredArtist,omitempty"`
	OriginalArtist *string  `json:"originalArtist,omitempty"`
	BPM            *float64 `json:"bpm,omitempty"`
	Key            *string  `json:"key,omitempty"`
	Year           *int     `json:"year,omitempty"`
	MasterEngineer *string  `json:"masterEngineer,omitempty"`
	Genre          *string  `json:"genre,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	ReleaseDate    *string  `json:"releaseDate,omitempty"`
	IsActive       *bool    `json:"isActive,omitempty"`
}

// Columns 转换为 GORM Updates 使用的列映射
func (u TrackUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Title != nil {
		cols["title"] = *u.Title
	}
	if u.Artist != nil {
		cols["artist"] = *u.Artist
	}
	if u.FeaturedArtist != nil {
		cols["featured_artist"] = *u.FeaturedArtist
	}
	if u.OriginalArtist != nil {
		cols["original_artist"] = *u.OriginalArtist
	}
	if u.BPM != nil {
		cols["bpm"] = *u.BPM
	}
	if u.Key != nil {
		cols["musical_key"] = *u.Key
	}
	if u.Year != nil {
		cols["year"] = *u.Year
	}
	if u.MasterEngineer != nil {
		cols["master_engineer"] = *u.MasterEngineer
	}
	if u.Genre != nil {
		cols["genre"] = *u.Genre
	}
	if u.Duration != nil {
		cols["duration"] = *u.Duration
	}
	if u.ReleaseDate != nil {
		cols["release_date"] = *u.ReleaseDate
	}
	if u.IsActive != nil {
		cols["is_active"] = *u.IsActive
	}
	return cols
}

// Section types
const (
	SectionIntro  = "intro"
	SectionBridge = "bridge"
	SectionOutro  = "outro"
)

// TrackSection 曲目中的一个段落（intro / bridge / outro）
type TrackSection struct {
	ID          int64   `json:"id" gorm:"primaryKey;autoIncrement"`
	TrackID     int64   `json:"trackId" gorm:"index;not null"`
	SectionType string  `json:"sectionType" gorm:"size:20;not null"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
}

// TableName 指定表名
func (TrackSection) TableName() string {
	return "track_sections"
}

// ValidSectionType 判断段落类型是否合法
func ValidSectionType(t string) bool {
	switch t {
	case SectionIntro, SectionBridge, SectionOutro:
		return true
	}
	return false
}
