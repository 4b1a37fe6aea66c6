// Package analytics 记录听众会话：播放、暂停以及播放期间的定时收听时长
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"Kickfolio/logger"
	"Kickfolio/metrics"
	"Kickfolio/model"
)

// DefaultListeningWindow listening_time 心跳间隔
const DefaultListeningWindow = 30 * time.Second

const writeTimeout = 5 * time.Second

// Sink 保存统计事件，repository.AnalyticsRepository 实现了该接口
type Sink interface {
	Insert(ctx context.Context, event *model.AnalyticsEvent) error
}

// TickFunc 启动定时器，返回通道和停止函数
type TickFunc func(d time.Duration) (<-chan time.Time, func())

func stdTick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Option func(*Tracker)

// WithClock 替换 time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTicker 替换心跳定时器
func WithTicker(tick TickFunc) Option {
	return func(t *Tracker) { t.tick = tick }
}

// WithListeningWindow 修改心跳间隔
func WithListeningWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithSessionID 指定会话 ID
func WithSessionID(id string) Option {
	return func(t *Tracker) {
		if id != "" {
			t.sessionID = id
		}
	}
}

// Tracker 跟踪一个听众会话，写入失败只记录日志，不返回给调用方
type Tracker struct {
	sink      Sink
	sessionID string
	userAgent string
	now       func() time.Time
	tick      TickFunc
	window    time.Duration

	mu        sync.Mutex
	trackID   int64
	playStart time.Time
	playing   bool
	stopTick  chan struct{}
	wg        sync.WaitGroup
	closed    bool
}

// NewTracker 开始会话并记录 session_start
func NewTracker(sink Sink, userAgent string, opts ...Option) *Tracker {
	t := &Tracker{
		sink:      sink,
		sessionID: "session_" + uuid.NewString(),
		userAgent: userAgent,
		now:       time.Now,
		tick:      stdTick,
		window:    DefaultListeningWindow,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.record(model.EventSessionStart, 0, nil)
	return t
}

func (t *Tracker) SessionID() string { return t.sessionID }

// TrackPlay 记录播放，正在播放的曲目重复调用会被忽略
func (t *Tracker) TrackPlay(trackID int64) {
	t.mu.Lock()
	if t.closed || (t.playing && t.trackID == trackID) {
		t.mu.Unlock()
		return
	}
	t.trackID = trackID
	t.playStart = t.now()
	t.playing = true
	t.startTickerLocked()
	t.mu.Unlock()

	t.record(model.EventPlay, trackID, nil)
}

// TrackPause 记录暂停及本次收听秒数
func (t *Tracker) TrackPause() {
	t.mu.Lock()
	trackID, elapsed, ok := t.stopLocked()
	t.mu.Unlock()

	if ok {
		t.record(model.EventPause, trackID, &elapsed)
	}
}

// TrackEnd 暂停并清除当前曲目
func (t *Tracker) TrackEnd() {
	t.mu.Lock()
	trackID, elapsed, ok := t.stopLocked()
	t.trackID = 0
	t.mu.Unlock()

	if ok {
		t.record(model.EventPause, trackID, &elapsed)
	}
}

// TrackChange 暂停正在播放的另一首并播放新曲目
func (t *Tracker) TrackChange(trackID int64) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	var (
		prevID  int64
		elapsed int
		paused  bool
	)
	if t.playing && t.trackID != trackID {
		prevID, elapsed, paused = t.stopLocked()
	} else {
		t.stopTickerLocked()
	}
	t.trackID = trackID
	t.playStart = t.now()
	t.playing = true
	t.startTickerLocked()
	t.mu.Unlock()

	if paused {
		t.record(model.EventPause, prevID, &elapsed)
	}
	t.record(model.EventPlay, trackID, nil)
}

// Close 记录最后一次暂停并停止心跳
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	trackID, elapsed, ok := t.stopLocked()
	t.closed = true
	t.mu.Unlock()

	if ok {
		t.record(model.EventPause, trackID, &elapsed)
	}
	t.wg.Wait()
}

// stopLocked 结束当前播放，返回需要记录的内容
func (t *Tracker) stopLocked() (trackID int64, elapsed int, ok bool) {
	t.stopTickerLocked()
	if !t.playing || t.trackID == 0 {
		t.playing = false
		return 0, 0, false
	}
	elapsed = int(t.now().Sub(t.playStart) / time.Second)
	t.playing = false
	return t.trackID, elapsed, true
}

func (t *Tracker) startTickerLocked() {
	t.stopTickerLocked()
	c, stop := t.tick(t.window)
	done := make(chan struct{})
	t.stopTick = done
	seconds := int(t.window / time.Second)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer stop()
		for {
			select {
			case <-done:
				return
			case <-c:
				t.mu.Lock()
				trackID, playing := t.trackID, t.playing
				t.mu.Unlock()
				if playing && trackID != 0 {
					s := seconds
					t.record(model.EventListeningTime, trackID, &s)
				}
			}
		}
	}()
}

func (t *Tracker) stopTickerLocked() {
	if t.stopTick != nil {
		close(t.stopTick)
		t.stopTick = nil
	}
}

func (t *Tracker) record(eventType string, trackID int64, duration *int) {
	event := &model.AnalyticsEvent{
		SessionID:       t.sessionID,
		EventType:       eventType,
		Timestamp:       t.now().UTC(),
		DurationSeconds: duration,
		UserAgent:       t.userAgent,
	}
	if trackID != 0 {
		id := trackID
		event.TrackID = &id
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.sink.Insert(ctx, event); err != nil {
		logger.Warn("analytics event not recorded",
			logger.String("session", t.sessionID),
			logger.String("type", eventType),
			logger.ErrorField(err))
		return
	}
	metrics.AnalyticsEvents.WithLabelValues(eventType).Inc()
}
