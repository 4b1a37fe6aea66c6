// Package playback 把播放位置与曲目的 kick 时间戳同步，并预取下一首的音频地址
package playback

import (
	"fmt"
	"math"
	"sort"
)

// DedupeEpsilon 小于该间隔的两个时间戳视为同一个 kick
const DedupeEpsilon = 0.001

// Timeline 一首曲目排序去重后的 kick 时间戳（秒），构建后不可变
type Timeline struct {
	trackID int64
	events  []float64
}

// NewTimeline 校验 raw，升序排序并合并间隔小于 DedupeEpsilon 的相邻值，保留每组最小值
func NewTimeline(trackID int64, raw []float64) (*Timeline, error) {
	events := make([]float64, 0, len(raw))
	for i, ts := range raw {
		if math.IsNaN(ts) || math.IsInf(ts, 0) {
			return nil, fmt.Errorf("track %d: timestamp #%d is not finite: %w", trackID, i, ErrInvalidInput)
		}
		if ts < 0 {
			return nil, fmt.Errorf("track %d: timestamp #%d is negative (%v): %w", trackID, i, ts, ErrInvalidInput)
		}
		events = append(events, ts)
	}
	sort.Float64s(events)

	out := events[:0]
	for _, ts := range events {
		if len(out) > 0 && ts-out[len(out)-1] < DedupeEpsilon {
			continue
		}
		out = append(out, ts)
	}

	return &Timeline{trackID: trackID, events: out}, nil
}

// TrackID 所属曲目
func (t *Timeline) TrackID() int64 { return t.trackID }

func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.events)
}

// At 第 i 个时间戳
func (t *Timeline) At(i int) float64 { return t.events[i] }

// Values 返回时间戳副本
func (t *Timeline) Values() []float64 {
	out := make([]float64, len(t.events))
	copy(out, t.events)
	return out
}

// countAtOrBefore 时间戳 <= pos 的 kick 数
func (t *Timeline) countAtOrBefore(pos float64) int {
	return sort.Search(len(t.events), func(i int) bool { return t.events[i] > pos })
}
