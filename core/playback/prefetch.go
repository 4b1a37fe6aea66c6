package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"Kickfolio/logger"
	"Kickfolio/metrics"
)

// DefaultCatalogTTL 目录缓存有效期
const DefaultCatalogTTL = 15 * time.Minute

// CacheStats 预取缓存统计
type CacheStats struct {
	CatalogSize     int `json:"catalogSize"`
	PreloadedCount  int `json:"preloadedCount"`
	CacheAgeSeconds int `json:"cacheAgeSeconds"`
}

// PrefetchOption 预取缓存配置项
type PrefetchOption func(*PrefetchCache)

// WithTTL 覆盖默认有效期，非正数忽略
func WithTTL(ttl time.Duration) PrefetchOption {
	return func(c *PrefetchCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock 替换 time.Now
func WithClock(now func() time.Time) PrefetchOption {
	return func(c *PrefetchCache) {
		if now != nil {
			c.now = now
		}
	}
}

// PrefetchCache 在有效期内缓存上架目录，并记录已解析的音频地址，
// 下一首开始播放时无需再解析。并发安全
type PrefetchCache struct {
	loader   CatalogLoader
	resolver MediaResolver
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group

	mu        sync.RWMutex
	catalog   []Track
	cached    bool
	fetchedAt time.Time
	epoch     uint64
	urls      map[int64]string
	issued    map[int64]struct{}
}

// NewPrefetchCache 创建预取缓存
func NewPrefetchCache(loader CatalogLoader, resolver MediaResolver, opts ...PrefetchOption) *PrefetchCache {
	c := &PrefetchCache{
		loader:   loader,
		resolver: resolver,
		ttl:      DefaultCatalogTTL,
		now:      time.Now,
		urls:     make(map[int64]string),
		issued:   make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog 按目录顺序返回上架曲目。缓存未过期时不调用 loader，并发未命中共享一次获取
// loader 失败且有旧缓存时返回旧缓存，时间戳不更新，下次调用会重试
func (c *PrefetchCache) Catalog(ctx context.Context) ([]Track, error) {
	c.mu.RLock()
	if c.cached && c.now().Sub(c.fetchedAt) < c.ttl {
		tracks := cloneTracks(c.catalog)
		c.mu.RUnlock()
		metrics.CatalogRequests.WithLabelValues("hit").Inc()
		return tracks, nil
	}
	epoch := c.epoch
	c.mu.RUnlock()

	v, err, _ := c.group.Do(fmt.Sprintf("catalog:%d", epoch), func() (interface{}, error) {
		return c.fetch(ctx, epoch)
	})
	if err != nil {
		return nil, err
	}
	return cloneTracks(v.([]Track)), nil
}

func (c *PrefetchCache) fetch(ctx context.Context, epoch uint64) ([]Track, error) {
	tracks, err := c.loader.FetchActiveTracks(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		metrics.CatalogFetchErrors.Inc()
		if c.cached {
			logger.Warn("catalog fetch failed, serving stale copy",
				logger.ErrorField(err),
				logger.Int("tracks", len(c.catalog)),
				logger.Duration("age", c.now().Sub(c.fetchedAt)))
			metrics.CatalogRequests.WithLabelValues("stale").Inc()
			return cloneTracks(c.catalog), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	metrics.CatalogRequests.WithLabelValues("miss").Inc()
	if tracks == nil {
		tracks = []Track{}
	}
	if c.epoch != epoch {
		// 获取期间已失效
		return tracks, nil
	}
	c.catalog = cloneTracks(tracks)
	c.cached = true
	c.fetchedAt = c.now()
	logger.Debug("catalog cached", logger.Int("tracks", len(tracks)))
	return tracks, nil
}

// Track 返回指定曲目
func (c *PrefetchCache) Track(ctx context.Context, id int64) (Track, error) {
	tracks, err := c.Catalog(ctx)
	if err != nil {
		return Track{}, err
	}
	for _, t := range tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return Track{}, fmt.Errorf("track %d: %w", id, ErrTrackNotFound)
}

// Preload 解析并记录曲目的音频地址，重复调用无副作用，没有音频路径的曲目跳过
func (c *PrefetchCache) Preload(ctx context.Context, id int64) error {
	c.mu.RLock()
	_, done := c.issued[id]
	epoch := c.epoch
	c.mu.RUnlock()
	if done {
		return nil
	}

	track, err := c.Track(ctx, id)
	if err != nil {
		metrics.Preloads.WithLabelValues("error").Inc()
		return err
	}
	if track.MediaPath == "" {
		return nil
	}

	url, err := c.resolve(track.MediaPath)
	if err != nil {
		metrics.Preloads.WithLabelValues("error").Inc()
		return fmt.Errorf("track %d: %w", id, err)
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.urls[id] = url
		c.issued[id] = struct{}{}
	}
	c.mu.Unlock()

	metrics.Preloads.WithLabelValues("ok").Inc()
	logger.Debug("media preloaded", logger.Int64("trackID", id), logger.String("url", url))
	return nil
}

// PreloadNext 预取目录中 currentID 的下一首，最后一首之后回到第一首，返回预取的曲目
// 找不到 currentID 或预取失败时只记录日志
func (c *PrefetchCache) PreloadNext(ctx context.Context, currentID int64) (int64, bool) {
	tracks, err := c.Catalog(ctx)
	if err != nil {
		logger.Warn("preload next: catalog unavailable",
			logger.Int64("currentID", currentID), logger.ErrorField(err))
		return 0, false
	}

	idx := -1
	for i, t := range tracks {
		if t.ID == currentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}

	next := tracks[(idx+1)%len(tracks)]
	if err := c.Preload(ctx, next.ID); err != nil {
		logger.Warn("preload next failed",
			logger.Int64("currentID", currentID),
			logger.Int64("nextID", next.ID),
			logger.ErrorField(err))
		return 0, false
	}
	return next.ID, true
}

// PreloadedURL 返回 Preload 记录的地址
func (c *PrefetchCache) PreloadedURL(id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.urls[id]
	return url, ok
}

// Invalidate 一次性清空目录、时间戳、地址和预取标记
// 调用时正在进行的获取不会再写回缓存
func (c *PrefetchCache) Invalidate() {
	c.mu.Lock()
	c.catalog = nil
	c.cached = false
	c.fetchedAt = time.Time{}
	c.urls = make(map[int64]string)
	c.issued = make(map[int64]struct{})
	c.epoch++
	c.mu.Unlock()

	metrics.CatalogInvalidations.Inc()
	logger.Info("prefetch cache invalidated")
}

// Stats 目录大小、已预取数量和缓存时长（秒）
func (c *PrefetchCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{PreloadedCount: len(c.issued)}
	if c.cached {
		stats.CatalogSize = len(c.catalog)
		stats.CacheAgeSeconds = int(c.now().Sub(c.fetchedAt) / time.Second)
	}
	return stats
}

func (c *PrefetchCache) resolve(mediaPath string) (string, error) {
	if c.resolver == nil {
		return "", fmt.Errorf("%w: no resolver configured", ErrMediaResolution)
	}
	url, err := c.resolver.ResolveMediaURL(mediaPath)
	if err != nil {
		if errors.Is(err, ErrMediaResolution) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrMediaResolution, err)
	}
	return url, nil
}

func cloneTracks(in []Track) []Track {
	if in == nil {
		return nil
	}
	out := make([]Track, len(in))
	copy(out, in)
	return out
}
