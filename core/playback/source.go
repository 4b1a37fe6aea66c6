package playback

import (
	"math"
	"sync"
	"time"
)

// SimulatedSource 按时钟推进的播放源，可循环。simulate 命令和测试用它驱动引擎
type SimulatedSource struct {
	mu        sync.Mutex
	now       func() time.Time
	duration  float64
	loop      bool
	playing   bool
	base      float64
	startedAt time.Time
}

// NewSimulatedSource 创建暂停在 0 秒的播放源
func NewSimulatedSource(duration float64, loop bool, now func() time.Time) *SimulatedSource {
	if now == nil {
		now = time.Now
	}
	return &SimulatedSource{now: now, duration: duration, loop: loop}
}

func (s *SimulatedSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return
	}
	s.playing = true
	s.startedAt = s.now()
}

func (s *SimulatedSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.base = s.positionLocked()
	s.playing = false
}

// Seek 跳到 pos，限制在 [0, duration]
func (s *SimulatedSource) Seek(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = s.clamp(pos)
	s.startedAt = s.now()
}

func (s *SimulatedSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing && !s.loop && s.duration > 0 && s.positionLocked() >= s.duration {
		s.base = s.duration
		s.playing = false
	}
	return s.playing
}

func (s *SimulatedSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *SimulatedSource) Duration() float64 { return s.duration }

func (s *SimulatedSource) positionLocked() float64 {
	pos := s.base
	if s.playing {
		pos += s.now().Sub(s.startedAt).Seconds()
	}
	if s.duration <= 0 {
		return pos
	}
	if s.loop {
		return math.Mod(pos, s.duration)
	}
	return math.Min(pos, s.duration)
}

func (s *SimulatedSource) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if s.duration > 0 && pos > s.duration {
		return s.duration
	}
	return pos
}
