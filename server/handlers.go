package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"Kickfolio/cache"
	"Kickfolio/config"
	"Kickfolio/core/auth"
	"Kickfolio/core/playback"
	"Kickfolio/logger"
	"Kickfolio/model"
	"Kickfolio/repository"

	"github.com/gorilla/mux"
)

// MediaStore 音频对象存储，storage.Store 实现了该接口
type MediaStore interface {
	UploadAudio(ctx context.Context, originalName string, r io.Reader, size int64, contentType string) (string, error)
	DeleteObject(ctx context.Context, mediaPath string) error
}

// HealthCheck 一项依赖检查，返回 nil 表示正常
type HealthCheck func(ctx context.Context) error

// APIHandler 处理所有API请求
type APIHandler struct {
	trackRepo     repository.TrackRepository
	sectionRepo   repository.SectionRepository
	analyticsRepo repository.AnalyticsRepository
	catalog       *playback.PrefetchCache
	snapshot      *cache.CatalogCache // 可为 nil
	media         MediaStore          // 可为 nil，此时不支持上传
	admin         auth.Admin
	health        map[string]HealthCheck
	cfg           *config.Config
}

// Deps 构造 APIHandler 所需的依赖
type Deps struct {
	Tracks    repository.TrackRepository
	Sections  repository.SectionRepository
	Analytics repository.AnalyticsRepository
	Catalog   *playback.PrefetchCache
	Snapshot  *cache.CatalogCache
	Media     MediaStore
	Admin     auth.Admin
	Health    map[string]HealthCheck
	Config    *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &APIHandler{
		trackRepo:     d.Tracks,
		sectionRepo:   d.Sections,
		analyticsRepo: d.Analytics,
		catalog:       d.Catalog,
		snapshot:      d.Snapshot,
		media:         d.Media,
		admin:         d.Admin,
		health:        d.Health,
		cfg:           cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

// statusFor 将引擎错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, playback.ErrMediaResolution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("请求处理失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// invalidateCatalog 删除 Redis 快照并通知其他实例，同时清空本地预取缓存
func (h *APIHandler) invalidateCatalog(ctx context.Context) {
	if h.snapshot != nil {
		if err := h.snapshot.Invalidate(ctx); err != nil {
			logger.Warn("目录快照失效失败", logger.ErrorField(err))
		}
	}
	h.catalog.Invalidate()
}

// GetCatalogHandler 返回上架曲目，引擎格式
func (h *APIHandler) GetCatalogHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.catalog.Catalog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tracks == nil {
		tracks = []playback.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler 返回一首上架曲目
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}
	track, err := h.catalog.Track(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// TrackMediaHandler 重定向到曲目音频的公开地址
func (h *APIHandler) TrackMediaHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}
	if err := h.catalog.Preload(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	url, ok := h.catalog.PreloadedURL(id)
	if !ok {
		http.Error(w, "Track has no media", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// AnalyticsEventRequest 前端上报的一条事件
type AnalyticsEventRequest struct {
	SessionID       string `json:"sessionId"`
	EventType       string `json:"eventType"`
	TrackID         *int64 `json:"trackId,omitempty"`
	DurationSeconds *int   `json:"durationSeconds,omitempty"`
}

// PostAnalyticsEventHandler 记录一条听众事件
func (h *APIHandler) PostAnalyticsEventHandler(w http.ResponseWriter, r *http.Request) {
	var req AnalyticsEventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || !model.ValidEventType(req.EventType) {
		http.Error(w, "sessionId and a valid eventType are required", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds != nil && *req.DurationSeconds < 0 {
		http.Error(w, "durationSeconds must not be negative", http.StatusBadRequest)
		return
	}

	event := &model.AnalyticsEvent{
		SessionID:       req.SessionID,
		EventType:       req.EventType,
		TrackID:         req.TrackID,
		Timestamp:       time.Now().UTC(),
		DurationSeconds: req.DurationSeconds,
		UserAgent:       r.UserAgent(),
	}
	if err := h.analyticsRepo.Insert(r.Context(), event); err != nil {
		// 统计失败不影响前端
		logger.Warn("记录统计事件失败", logger.ErrorField(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler 检查数据库和 Redis 连接
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
		"cache":  h.catalog.Stats(),
	})
}
