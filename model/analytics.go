package model

import "time"

// Analytics event types
const (
	EventSessionStart  = "session_start"
	EventPlay          = "play"
	EventPause         = "pause"
	EventListeningTime = "listening_time"
)

// AnalyticsEvent 一条听众行为记录
type AnalyticsEvent struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID       string    `json:"sessionId" gorm:"size:64;index;not null"`
	EventType       string    `json:"eventType" gorm:"size:32;index;not null"`
	TrackID         *int64    `json:"trackId,omitempty" gorm:"index"`
	Timestamp       time.Time `json:"timestamp" gorm:"index"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
	UserAgent       string    `json:"userAgent,omitempty" gorm:"size:512"`
}

// TableName 指定表名
func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}

// ValidEventType 判断事件类型是否合法
func ValidEventType(t string) bool {
	switch t {
	case EventSessionStart, EventPlay, EventPause, EventListeningTime:
		return true
	}
	return false
}

// TopTrack 播放次数排行中的一项
type TopTrack struct {
	TrackID   int64  `json:"trackId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	PlayCount int64  `json:"playCount"`
}

// AnalyticsStatistics 管理端统计面板数据
type AnalyticsStatistics struct {
	TotalPlays         int64      `json:"totalPlays"`
	UniqueVisitors     int64      `json:"uniqueVisitors"`
	TotalListeningTime int64      `json:"totalListeningTime"` // 秒
	TopTracks          []TopTrack `json:"topTracks"`
}
