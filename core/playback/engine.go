package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"Kickfolio/logger"
	"Kickfolio/metrics"
)

// ErrEngineClosed Close 之后调用 LoadTrack 返回该错误
var ErrEngineClosed = errors.New("engine closed")

// DefaultPreloadTimeout LoadTrack 后台预取下一首的超时
const DefaultPreloadTimeout = 10 * time.Second

// Pulse 发给激活处理函数的脉冲，kick 触发时 Active 为 true，熄灭时为 false
type Pulse struct {
	TrackID    int64   `json:"trackId"`
	Index      int     `json:"index"`
	Timestamp  float64 `json:"timestamp"`
	Generation uint64  `json:"generation"`
	Active     bool    `json:"active"`
}

// TrackState 当前装载的曲目
type TrackState struct {
	Track      Track  `json:"track"`
	MediaURL   string `json:"mediaUrl"`
	Generation uint64 `json:"generation"`
	KickCount  int    `json:"kickCount"`
}

// PositionSource 被跟随的播放源
type PositionSource interface {
	Position() float64
	Duration() float64
	Playing() bool
}

// EngineOption 引擎配置项
type EngineOption func(*engineOptions)

type engineOptions struct {
	pulseDuration  time.Duration
	afterFunc      AfterFunc
	preloadTimeout time.Duration
}

// WithPulseDuration 设置脉冲持续时间
func WithPulseDuration(d time.Duration) EngineOption {
	return func(o *engineOptions) { o.pulseDuration = d }
}

// WithAfterFunc 替换熄灭定时器使用的 time.AfterFunc
func WithAfterFunc(f AfterFunc) EngineOption {
	return func(o *engineOptions) { o.afterFunc = f }
}

// WithPreloadTimeout 设置后台预取超时
func WithPreloadTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.preloadTimeout = d
		}
	}
}

// Engine 一个播放会话，持有当前曲目的游标，把采样到的播放位置转换为激活脉冲
//
// 处理函数在引擎加锁期间同步执行（采样所在的 goroutine，熄灭时为定时器 goroutine），
// 不能回调 Engine
type Engine struct {
	cache *PrefetchCache
	opts  engineOptions

	pulses     *pulseScheduler
	generation atomic.Uint64

	mu      sync.Mutex
	cursor  *Cursor
	current *TrackState
	closed  bool

	hmu      sync.RWMutex
	handlers map[int]func(Pulse)
	nextID   int

	bg       context.Context
	stopBg   context.CancelFunc
	preloads sync.WaitGroup
}

// NewEngine 创建未装载曲目的引擎
func NewEngine(cache *PrefetchCache, opts ...EngineOption) *Engine {
	o := engineOptions{
		pulseDuration:  DefaultPulseDuration,
		preloadTimeout: DefaultPreloadTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	bg, cancel := context.WithCancel(context.Background())
	return &Engine{
		cache:    cache,
		opts:     o,
		pulses:   newPulseScheduler(o.afterFunc, o.pulseDuration),
		handlers: make(map[int]func(Pulse)),
		bg:       bg,
		stopBg:   cancel,
	}
}

// LoadTrack 获取曲目、构建时间线并解析音频地址
// 全部成功后才装载新游标，失败时保留上一首。随后在后台预取下一首
func (e *Engine) LoadTrack(ctx context.Context, id int64) (TrackState, error) {
	return e.LoadTrackFunc(ctx, id, nil)
}

// LoadTrackFunc 与 LoadTrack 相同，beforeInstall 在装载不会再失败之后、新代号对采样可见之前执行
// 在其中重置播放源，Run 就不会用旧位置采样新曲目。beforeInstall 在引擎加锁时执行，不能回调引擎
func (e *Engine) LoadTrackFunc(ctx context.Context, id int64, beforeInstall func(TrackState)) (TrackState, error) {
	track, err := e.cache.Track(ctx, id)
	if err != nil {
		metrics.TrackLoads.WithLabelValues("error").Inc()
		return TrackState{}, err
	}

	tl, err := NewTimeline(track.ID, track.EventTimestamps)
	if err != nil {
		metrics.TrackLoads.WithLabelValues("error").Inc()
		return TrackState{}, err
	}

	url, ok := e.cache.PreloadedURL(track.ID)
	if !ok {
		url, err = e.cache.resolve(track.MediaPath)
		if err != nil {
			metrics.TrackLoads.WithLabelValues("error").Inc()
			return TrackState{}, err
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return TrackState{}, ErrEngineClosed
	}
	// 代号只在 e.mu 内修改
	gen := e.generation.Load() + 1
	state := TrackState{Track: track, MediaURL: url, Generation: gen, KickCount: tl.Len()}
	if beforeInstall != nil {
		beforeInstall(state)
	}
	e.generation.Store(gen)
	e.cursor = NewCursor(tl)
	e.current = &state
	e.pulses.cancel()
	e.preloads.Add(1)
	e.mu.Unlock()

	metrics.TrackLoads.WithLabelValues("ok").Inc()
	logger.Info("track loaded",
		logger.Int64("trackID", track.ID),
		logger.String("title", track.Title),
		logger.Int("kicks", tl.Len()),
		logger.Uint64("generation", gen))

	go func() {
		defer e.preloads.Done()
		pctx, cancel := context.WithTimeout(e.bg, e.opts.preloadTimeout)
		defer cancel()
		e.cache.PreloadNext(pctx, track.ID)
	}()

	return state, nil
}

// OnActivationPulse 注册处理函数，返回注销函数
func (e *Engine) OnActivationPulse(h func(Pulse)) (remove func()) {
	e.hmu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.hmu.Unlock()

	return func() {
		e.hmu.Lock()
		delete(e.handlers, id)
		e.hmu.Unlock()
	}
}

// Generation 当前曲目的代号，每次成功 LoadTrack 以及 Close 时变化
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Sample 推进到 pos（秒），返回触发的 kick 数。未装载曲目时不做任何事
func (e *Engine) Sample(pos float64) int {
	return e.sample(0, false, pos)
}

// SampleGen 带代号的 Sample，已被替换的曲目的采样直接丢弃
func (e *Engine) SampleGen(gen uint64, pos float64) int {
	return e.sample(gen, true, pos)
}

func (e *Engine) sample(gen uint64, checkGen bool, pos float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cursor == nil {
		return 0
	}
	live := e.generation.Load()
	if checkGen && gen != live {
		return 0
	}

	trackID := e.cursor.TrackID()
	var last Pulse
	fired := e.cursor.Advance(pos, func(index int, ts float64) {
		last = Pulse{TrackID: trackID, Index: index, Timestamp: ts, Generation: live, Active: true}
		e.emit(last)
	})
	if fired == 0 {
		return 0
	}
	metrics.PulsesFired.Add(float64(fired))

	off := last
	off.Active = false
	// sample 在 e.mu 内重新定时，这里同样在 e.mu 内认领
	e.pulses.arm(func(claim func() bool) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.generation.Load() != live || !claim() {
			return
		}
		e.emit(off)
	})
	return fired
}

// Seek 移动游标，跳过的 kick 不触发
func (e *Engine) Seek(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor != nil {
		e.cursor.SeekTo(pos)
	}
}

// Run 每隔 interval 对正在播放的 src 采样，直到 ctx 结束
func (e *Engine) Run(ctx context.Context, src PositionSource, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			gen := e.generation.Load()
			if src.Playing() {
				e.SampleGen(gen, src.Position())
			}
		}
	}
}

// Current 返回当前曲目
func (e *Engine) Current() (TrackState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return TrackState{}, false
	}
	return *e.current, true
}

// PulseActive 是否还有待执行的熄灭
func (e *Engine) PulseActive() bool {
	return e.pulses.active()
}

// CacheStats 共享预取缓存的统计
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Close 卸载游标，取消待执行的熄灭并等待后台预取结束
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cursor = nil
	e.current = nil
	e.generation.Add(1)
	e.pulses.cancel()
	e.mu.Unlock()

	e.stopBg()
	e.preloads.Wait()
}

func (e *Engine) emit(p Pulse) {
	e.hmu.RLock()
	defer e.hmu.RUnlock()
	for _, h := range e.handlers {
		h(p)
	}
}
