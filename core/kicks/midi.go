package kicks

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"Kickfolio/core/playback"
)

type openNote struct {
	track   int
	channel uint8
	key     uint8
}

// ReadMIDIFile 读取标准 MIDI 文件中的全部 note-on，时长取自对应的 note-off，时间按速度变化换算
func ReadMIDIFile(path string) ([]Event, error) {
	var (
		events []Event
		open   = make(map[openNote][]int)
	)

	reader := smf.ReadTracks(path).Do(func(te smf.TrackEvent) {
		msg := midi.Message(te.Message)
		seconds := float64(te.AbsMicroSeconds) / 1e6

		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			k := openNote{track: te.TrackNo, channel: ch, key: key}
			open[k] = append(open[k], len(events))
			events = append(events, Event{
				Track:    te.TrackNo,
				Time:     seconds,
				Note:     int(key),
				Velocity: float64(vel) / 127,
			})
		case msg.GetNoteEnd(&ch, &key):
			k := openNote{track: te.TrackNo, channel: ch, key: key}
			if idx := open[k]; len(idx) > 0 {
				events[idx[0]].Duration = seconds - events[idx[0]].Time
				open[k] = idx[1:]
			}
		}
	})
	if err := reader.Error(); err != nil {
		return nil, fmt.Errorf("%w: read midi %s: %v", playback.ErrInvalidInput, path, err)
	}

	SortEvents(events)
	return events, nil
}
