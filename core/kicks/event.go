// Package kicks 把鼓轨导出（MIDI / CSV / JSON）转换为曲目的 kick 时间戳
package kicks

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"Kickfolio/core/playback"
	"Kickfolio/logger"
)

// DefaultKickNote General MIDI 底鼓（Bass Drum 1）
const DefaultKickNote = 36

// AnyNote 不按音符过滤
const AnyNote = -1

// Event 鼓轨中的一个 note-on
type Event struct {
	Track    int
	Time     float64 // 秒
	Note     int
	Velocity float64 // 0..1
	Duration float64 // 秒
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName MIDI 音符的科学音高记号（60 = C4）
func NoteName(note int) string {
	if note < 0 || note > 127 {
		return ""
	}
	return fmt.Sprintf("%s%d", noteNames[note%12], note/12-1)
}

// SortEvents 按时间稳定排序
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })
}

// Timestamps 返回匹配 note 的事件时间，已排序校验。AnyNote 保留全部
func Timestamps(events []Event, note int) ([]float64, error) {
	out := make([]float64, 0, len(events))
	for _, ev := range events {
		if note != AnyNote && ev.Note != note {
			continue
		}
		out = append(out, ev.Time)
	}
	if len(out) == 0 && len(events) > 0 {
		logger.Warn("note filter dropped every event",
			logger.Int("note", note), logger.Int("events", len(events)))
	}

	tl, err := playback.NewTimeline(0, out)
	if err != nil {
		return nil, err
	}
	return tl.Values(), nil
}

// Load 按扩展名读取 .mid/.midi、.csv 或 .json，音符过滤只作用于 MIDI 和 CSV
func Load(path string, note int) ([]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		events, err := ReadMIDIFile(path)
		if err != nil {
			return nil, err
		}
		return Timestamps(events, note)
	case ".csv":
		events, err := ReadCSVFile(path)
		if err != nil {
			return nil, err
		}
		return Timestamps(events, note)
	case ".json":
		return ReadJSONFile(path)
	default:
		return nil, fmt.Errorf("%w: unsupported kick file %q", playback.ErrInvalidInput, filepath.Base(path))
	}
}

// Supported Load 是否支持该扩展名
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi", ".csv", ".json":
		return true
	}
	return false
}
