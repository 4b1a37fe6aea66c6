package kicks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"Kickfolio/core/playback"
)

// ParseJSON 接受秒数数组或带 "time" 字段的对象数组，返回校验排序后的时间戳
func ParseJSON(data []byte) ([]float64, error) {
	data = bytes.TrimSpace(data)

	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		var objects []struct {
			Time *float64 `json:"time"`
		}
		if err2 := json.Unmarshal(data, &objects); err2 != nil {
			return nil, fmt.Errorf("%w: kicks json: %v", playback.ErrInvalidInput, err)
		}
		raw = make([]float64, 0, len(objects))
		for i, o := range objects {
			if o.Time == nil {
				return nil, fmt.Errorf("%w: kicks json: entry %d has no time", playback.ErrInvalidInput, i)
			}
			raw = append(raw, *o.Time)
		}
	}

	tl, err := playback.NewTimeline(0, raw)
	if err != nil {
		return nil, err
	}
	return tl.Values(), nil
}

func ReadJSONFile(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseJSON(data)
}

// MarshalTimestamps 输出缩进的 JSON 数组
func MarshalTimestamps(ts []float64) ([]byte, error) {
	if ts == nil {
		ts = []float64{}
	}
	return json.MarshalIndent(ts, "", "  ")
}
