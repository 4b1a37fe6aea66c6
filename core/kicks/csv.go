package kicks

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"Kickfolio/core/playback"
)

// CSVHeader WriteCSV 写出的列
var CSVHeader = []string{"Track", "Time", "MIDI Note", "Note Name", "Velocity", "Duration"}

// ReadCSV 解析 CSVHeader 格式的鼓轨导出，表头可选，空行跳过
func ReadCSV(r io.Reader) ([]Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var events []Event
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", playback.ErrInvalidInput, err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "track") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%w: csv line %d has %d columns", playback.ErrInvalidInput, line, len(record))
		}

		ev, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %v", playback.ErrInvalidInput, line, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseRecord(record []string) (Event, error) {
	var ev Event
	var err error

	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	if s := field(0); s != "" {
		if ev.Track, err = strconv.Atoi(s); err != nil {
			return ev, fmt.Errorf("track %q", s)
		}
	}
	if ev.Time, err = strconv.ParseFloat(field(1), 64); err != nil {
		return ev, fmt.Errorf("time %q", field(1))
	}
	ev.Note = AnyNote
	if s := field(2); s != "" {
		if ev.Note, err = strconv.Atoi(s); err != nil {
			return ev, fmt.Errorf("note %q", s)
		}
	}
	if s := field(4); s != "" {
		if ev.Velocity, err = strconv.ParseFloat(s, 64); err != nil {
			return ev, fmt.Errorf("velocity %q", s)
		}
	}
	if s := field(5); s != "" {
		if ev.Duration, err = strconv.ParseFloat(s, 64); err != nil {
			return ev, fmt.Errorf("duration %q", s)
		}
	}
	return ev, nil
}

func ReadCSVFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV 按 CSVHeader 格式写出
func WriteCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return err
	}
	for _, ev := range events {
		record := []string{
			strconv.Itoa(ev.Track),
			strconv.FormatFloat(ev.Time, 'f', -1, 64),
			strconv.Itoa(ev.Note),
			NoteName(ev.Note),
			strconv.FormatFloat(ev.Velocity, 'f', -1, 64),
			strconv.FormatFloat(ev.Duration, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
