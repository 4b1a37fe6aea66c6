package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"Kickfolio/core/kicks"
	"Kickfolio/logger"
	"Kickfolio/model"
	"Kickfolio/repository"

	"gorm.io/gorm"
)

const maxJSONBody = 4 << 20

// allowedAudioExt 允许上传的音频扩展名及其 Content-Type
var allowedAudioExt = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
}

// uploadSemaphore 用于控制并发上传
var uploadSemaphore = make(chan struct{}, 3)

// ListAllTracksHandler 返回全部曲目（含下架）
func (h *APIHandler) ListAllTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.trackRepo.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

func formFloat(r *http.Request, key string) (float64, error) {
	s := strings.TrimSpace(r.FormValue(key))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return v, nil
}

// UploadTrackHandler 上传音频并创建曲目
// multipart 字段: audioFile, title, artist, 以及可选的 featuredArtist,
// originalArtist, bpm, key, year, genre, masterEngineer, duration,
// releaseDate, kicks (JSON 数组)
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		http.Error(w, "Media storage is not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case uploadSemaphore <- struct{}{}:
		defer func() { <-uploadSemaphore }()
	default:
		logger.Warn("服务器繁忙，拒绝新的上传请求")
		http.Error(w, "Server is busy, please try again later", http.StatusServiceUnavailable)
		return
	}

	maxBytes := h.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audioFile")
	if err != nil {
		http.Error(w, "Missing 'audioFile' in form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedAudioExt[ext]
	if !ok {
		http.Error(w, fmt.Sprintf("Unsupported audio type %q", ext), http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	artist := strings.TrimSpace(r.FormValue("artist"))
	if title == "" || artist == "" {
		http.Error(w, "title and artist are required", http.StatusBadRequest)
		return
	}

	track := &model.Track{
		Title:          title,
		Artist:         artist,
		FeaturedArtist: strings.TrimSpace(r.FormValue("featuredArtist")),
		OriginalArtist: strings.TrimSpace(r.FormValue("originalArtist")),
		Key:            strings.TrimSpace(r.FormValue("key")),
		Genre:          strings.TrimSpace(r.FormValue("genre")),
		MasterEngineer: strings.TrimSpace(r.FormValue("masterEngineer")),
		ReleaseDate:    strings.TrimSpace(r.FormValue("releaseDate")),
		Kicks:          model.KickList{},
		IsActive:       true,
	}
	if track.BPM, err = formFloat(r, "bpm"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if track.Duration, err = formFloat(r, "duration"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s := strings.TrimSpace(r.FormValue("year")); s != "" {
		if track.Year, err = strconv.Atoi(s); err != nil {
			http.Error(w, fmt.Sprintf("invalid year %q", s), http.StatusBadRequest)
			return
		}
	}
	if s := strings.TrimSpace(r.FormValue("kicks")); s != "" {
		ts, err := kicks.ParseJSON([]byte(s))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		track.Kicks = ts
	}

	mediaPath, err := h.media.UploadAudio(r.Context(), header.Filename, file, header.Size, contentType)
	if err != nil {
		logger.Error("上传音频失败", logger.String("file", header.Filename), logger.ErrorField(err))
		http.Error(w, "Failed to store audio file", http.StatusBadGateway)
		return
	}
	track.AudioFilePath = mediaPath

	if err := h.trackRepo.Create(r.Context(), track); err != nil {
		// 回滚已上传的对象
		if delErr := h.media.DeleteObject(r.Context(), mediaPath); delErr != nil {
			logger.Warn("清理已上传音频失败", logger.String("path", mediaPath), logger.ErrorField(delErr))
		}
		writeError(w, err)
		return
	}

	logger.Info("曲目已创建",
		logger.Int64("trackId", track.ID),
		logger.String("title", track.Title),
		logger.String("path", mediaPath))
	h.invalidateCatalog(r.Context())
	writeJSON(w, http.StatusCreated, track)
}

// UpdateTrackHandler 修改曲目元数据
func (h *APIHandler) UpdateTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	var update model.TrackUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateUpdate(update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.Update(r.Context(), id, update)
	if err != nil {
		writeError(w, err)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	h.invalidateCatalog(r.Context())
	writeJSON(w, http.StatusOK, track)
}

func validateUpdate(u model.TrackUpdate) error {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return errors.New("title must not be empty")
	}
	if u.Artist != nil && strings.TrimSpace(*u.Artist) == "" {
		return errors.New("artist must not be empty")
	}
	if u.BPM != nil && *u.BPM < 0 {
		return errors.New("bpm must not be negative")
	}
	if u.Duration != nil && *u.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

// DeleteTrackHandler 删除曲目及其音频对象
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	deleted, err := h.trackRepo.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if deleted == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	if h.media != nil {
		if err := h.media.DeleteObject(r.Context(), deleted.AudioFilePath); err != nil {
			// 数据库已删除，对象残留只记录日志
			logger.Warn("删除音频对象失败",
				logger.Int64("trackId", id),
				logger.String("path", deleted.AudioFilePath),
				logger.ErrorField(err))
		}
	}

	logger.Info("曲目已删除", logger.Int64("trackId", id), logger.String("title", deleted.Title))
	h.invalidateCatalog(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// UpdateKicksHandler 替换曲目的节拍时间戳，接受数组或 [{"time":...}]
func (h *APIHandler) UpdateKicksHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ts, err := kicks.ParseJSON(body)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.trackRepo.UpdateKicks(r.Context(), id, ts); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}

	logger.Info("节拍时间戳已更新", logger.Int64("trackId", id), logger.Int("kicks", len(ts)))
	h.invalidateCatalog(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"trackId": id, "kicks": ts})
}

// SectionRequest 一个段落
type SectionRequest struct {
	SectionType string  `json:"sectionType"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
}

// GetSectionsHandler 返回曲目的段落
func (h *APIHandler) GetSectionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}
	byTrack, err := h.sectionRepo.ListByTrackIDs(r.Context(), []int64{id})
	if err != nil {
		writeError(w, err)
		return
	}
	sections := byTrack[id]
	if sections == nil {
		sections = []model.TrackSection{}
	}
	writeJSON(w, http.StatusOK, sections)
}

// ReplaceSectionsHandler 替换曲目的全部段落
func (h *APIHandler) ReplaceSectionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	var req []SectionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sections := make([]model.TrackSection, 0, len(req))
	for _, s := range req {
		if !model.ValidSectionType(s.SectionType) || s.StartTime < 0 || s.EndTime < s.StartTime {
			http.Error(w, fmt.Sprintf("Invalid section %q [%g, %g]", s.SectionType, s.StartTime, s.EndTime), http.StatusBadRequest)
			return
		}
		sections = append(sections, model.TrackSection{SectionType: s.SectionType, StartTime: s.StartTime, EndTime: s.EndTime})
	}

	track, err := h.trackRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	if err := h.sectionRepo.ReplaceForTrack(r.Context(), id, sections); err != nil {
		writeError(w, err)
		return
	}

	h.invalidateCatalog(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ReorderRequest 新的曲目顺序
type ReorderRequest struct {
	TrackIDs []int64 `json:"trackIds"`
}

// ReorderTracksHandler 按给定顺序重排曲目
func (h *APIHandler) ReorderTracksHandler(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.TrackIDs) == 0 {
		http.Error(w, "trackIds is required", http.StatusBadRequest)
		return
	}
	seen := make(map[int64]struct{}, len(req.TrackIDs))
	for _, id := range req.TrackIDs {
		if _, dup := seen[id]; dup || id <= 0 {
			http.Error(w, fmt.Sprintf("Invalid or duplicate track ID %d", id), http.StatusBadRequest)
			return
		}
		seen[id] = struct{}{}
	}

	if err := h.trackRepo.Reorder(r.Context(), req.TrackIDs); err != nil {
		if errors.Is(err, repository.ErrInvalidOrder) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}

	h.invalidateCatalog(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateCacheHandler 手动清空目录缓存
func (h *APIHandler) InvalidateCacheHandler(w http.ResponseWriter, r *http.Request) {
	h.invalidateCatalog(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invalidatedAt": time.Now().UTC(),
		"cache":         h.catalog.Stats(),
	})
}

// AnalyticsStatisticsHandler 返回统计面板数据
func (h *APIHandler) AnalyticsStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analyticsRepo.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
