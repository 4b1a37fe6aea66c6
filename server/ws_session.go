package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"Kickfolio/core/analytics"
	"Kickfolio/core/playback"
	"Kickfolio/logger"
	"Kickfolio/metrics"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 4096
	wsOutboxSize = 64
)

// sessionMessage 客户端发来的消息
type sessionMessage struct {
	Type     string  `json:"type"`
	TrackID  int64   `json:"trackId,omitempty"`
	Position float64 `json:"position,omitempty"`
}

type loadedFrame struct {
	Type       string         `json:"type"`
	TrackID    int64          `json:"trackId"`
	MediaURL   string         `json:"mediaUrl"`
	Generation uint64         `json:"generation"`
	KickCount  int            `json:"kickCount"`
	Track      playback.Track `json:"track"`
}

type pulseFrame struct {
	Type string `json:"type"`
	playback.Pulse
}

type statsFrame struct {
	Type string `json:"type"`
	playback.CacheStats
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// remoteSource 根据客户端上报的位置推算当前播放位置
type remoteSource struct {
	mu       sync.Mutex
	now      func() time.Time
	pos      float64
	at       time.Time
	playing  bool
	duration float64
}

func newRemoteSource(now func() time.Time) *remoteSource {
	return &remoteSource{now: now, at: now()}
}

func (s *remoteSource) positionLocked() float64 {
	pos := s.pos
	if s.playing {
		pos += s.now().Sub(s.at).Seconds()
	}
	if s.duration > 0 && pos > s.duration {
		pos = s.duration
	}
	return pos
}

// Report records a position observed by the client.
func (s *remoteSource) Report(pos float64) {
	if pos < 0 {
		pos = 0
	}
	s.mu.Lock()
	s.pos = pos
	s.at = s.now()
	s.mu.Unlock()
}

// Load resets the source for a new track.
func (s *remoteSource) Load(duration float64) {
	s.mu.Lock()
	s.pos = 0
	s.at = s.now()
	s.duration = duration
	s.mu.Unlock()
}

func (s *remoteSource) SetPlaying(playing bool) {
	s.mu.Lock()
	s.pos = s.positionLocked()
	s.at = s.now()
	s.playing = playing
	s.mu.Unlock()
}

func (s *remoteSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *remoteSource) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *remoteSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SessionHandler 每个 websocket 连接拥有一个引擎和一个统计会话
func (h *APIHandler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	engine := playback.NewEngine(h.catalog, playback.WithPulseDuration(h.cfg.PulseDuration))
	tracker := analytics.NewTracker(h.analyticsRepo, r.UserAgent(),
		analytics.WithListeningWindow(h.cfg.ListeningWindow))
	src := newRemoteSource(time.Now)

	logger.Info("播放会话开始",
		logger.String("session", tracker.SessionID()),
		logger.String("remote", r.RemoteAddr))

	out := make(chan interface{}, wsOutboxSize)
	remove := engine.OnActivationPulse(func(p playback.Pulse) {
		// 处理函数在引擎锁内执行，不能阻塞
		select {
		case out <- pulseFrame{Type: "pulse", Pulse: p}:
		default:
		}
	})

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		for frame := range out {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug("websocket write failed", logger.ErrorField(err))
				cancel()
				// 继续消费直到 out 关闭
				for range out {
				}
				return
			}
		}
	}()

	var runDone sync.WaitGroup
	runDone.Add(1)
	go func() {
		defer runDone.Done()
		engine.Run(ctx, src, h.cfg.SampleInterval)
	}()

	send := func(v interface{}) {
		select {
		case out <- v:
		case <-ctx.Done():
		}
	}

	h.readSession(ctx, conn, engine, tracker, src, send)

	cancel()
	runDone.Wait()
	remove()
	engine.Close()
	tracker.Close()
	close(out)
	writerDone.Wait()

	logger.Info("播放会话结束", logger.String("session", tracker.SessionID()))
}

func (h *APIHandler) readSession(
	ctx context.Context,
	conn *websocket.Conn,
	engine *playback.Engine,
	tracker *analytics.Tracker,
	src *remoteSource,
	send func(interface{}),
) {
	for {
		var msg sessionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", logger.ErrorField(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch msg.Type {
		case "load":
			// 新游标生效前先把位置归零，避免采样把旧位置套到新曲目上
			state, err := engine.LoadTrackFunc(ctx, msg.TrackID, func(s playback.TrackState) {
				src.Load(s.Track.Duration)
			})
			if err != nil {
				logger.Warn("load track failed",
					logger.String("session", tracker.SessionID()),
					logger.Int64("trackId", msg.TrackID),
					logger.ErrorField(err))
				send(errorFrame{Type: "error", Error: "track unavailable"})
				continue
			}
			if src.Playing() {
				tracker.TrackChange(state.Track.ID)
			}
			send(loadedFrame{
				Type:       "loaded",
				TrackID:    state.Track.ID,
				MediaURL:   state.MediaURL,
				Generation: state.Generation,
				KickCount:  state.KickCount,
				Track:      state.Track,
			})
		case "position":
			src.Report(msg.Position)
		case "seek":
			src.Report(msg.Position)
			engine.Seek(msg.Position)
		case "play":
			src.SetPlaying(true)
			if state, ok := engine.Current(); ok {
				tracker.TrackPlay(state.Track.ID)
			}
		case "pause":
			src.SetPlaying(false)
			tracker.TrackPause()
		case "ended":
			src.SetPlaying(false)
			tracker.TrackEnd()
		case "stats":
			send(statsFrame{Type: "stats", CacheStats: engine.CacheStats()})
		default:
			send(errorFrame{Type: "error", Error: "unknown message type"})
		}
	}
}
