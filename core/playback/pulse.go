package playback

import (
	"sync"
	"time"
)

// DefaultPulseDuration kick 之后视觉标记保持的时间
const DefaultPulseDuration = 150 * time.Millisecond

// Timer *time.Timer 的子集
type Timer interface {
	Stop() bool
}

// AfterFunc 延迟 d 后执行 f，time.AfterFunc 满足该签名
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// pulseScheduler 最多持有一个待执行的熄灭回调，重新定时会替换旧的，
// 因此标记在最后一个 kick 之后一个周期熄灭
type pulseScheduler struct {
	mu       sync.Mutex
	after    AfterFunc
	duration time.Duration
	pending  Timer
	seq      uint64
}

func newPulseScheduler(after AfterFunc, d time.Duration) *pulseScheduler {
	if after == nil {
		after = stdAfterFunc
	}
	if d <= 0 {
		d = DefaultPulseDuration
	}
	return &pulseScheduler{after: after, duration: d}
}

// arm 一个周期后执行 fire。fire 在定时器 goroutine 中运行，必须在 arm 调用方持有的同一把锁内调用 claim，
// claim 返回 false 表示回调已被替换或取消，不应再熄灭
func (s *pulseScheduler) arm(fire func(claim func() bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.pending.Stop()
	}
	s.seq++
	seq := s.seq
	s.pending = s.after(s.duration, func() {
		fire(func() bool { return s.claim(seq) })
	})
}

func (s *pulseScheduler) claim(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return false
	}
	s.pending = nil
	return true
}

// cancel 取消待执行的回调
func (s *pulseScheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.seq++
}

// active 是否有待执行的熄灭
func (s *pulseScheduler) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
