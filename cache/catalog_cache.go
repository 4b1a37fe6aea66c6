package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Kickfolio/core/playback"
	"Kickfolio/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// CatalogKey 上架曲目快照的 Redis 键
	CatalogKey = "kickfolio:catalog:active"
	// VersionKey 目录版本号，每次失效加一
	VersionKey = "kickfolio:catalog:version"
	// InvalidateChannel 目录失效通知频道
	InvalidateChannel = "kickfolio:catalog:invalidate"

	defaultCatalogTTL = 15 * time.Minute
	maxRetries        = 2
)

// ErrStaleSnapshot 读取数据库之后目录已失效，快照不再写入
var ErrStaleSnapshot = errors.New("catalog snapshot is stale")

// CatalogCache 在 Redis 中保存上架曲目的 JSON 快照，并通过发布订阅广播失效
type CatalogCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCatalogCache 创建目录缓存，ttl <= 0 时使用 15 分钟
func NewCatalogCache(client redis.UniversalClient, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &CatalogCache{client: client, ttl: ttl}
}

// Get 读取快照，未命中时返回 nil, false, nil
func (c *CatalogCache) Get(ctx context.Context) ([]playback.Track, bool, error) {
	retryDelay := 100 * time.Millisecond

	var data []byte
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err = c.client.Get(ctx, CatalogKey).Bytes()
		if err == nil {
			break
		}
		if errors.Is(err, redis.Nil) {
			logger.Debug("目录快照不存在", logger.String("key", CatalogKey))
			return nil, false, nil
		}
		if attempt < maxRetries-1 {
			logger.Warn("获取目录快照失败，准备重试",
				logger.Int("attempt", attempt+1),
				logger.ErrorField(err))
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			retryDelay *= 2 // 指数退避
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get catalog snapshot: %w", err)
	}

	var tracks []playback.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		// 损坏的快照当作未命中处理，并删除
		logger.Warn("目录快照解析失败，已丢弃", logger.ErrorField(err))
		c.client.Del(ctx, CatalogKey)
		return nil, false, nil
	}
	if tracks == nil {
		tracks = []playback.Track{}
	}
	return tracks, true, nil
}

// Version 返回当前目录版本，键不存在时为 0。读取数据库前先取版本，写快照时带回
func (c *CatalogCache) Version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get catalog version: %w", err)
	}
	return v, nil
}

// Set 写入快照。version 与当前版本不一致时返回 ErrStaleSnapshot，不覆盖
func (c *CatalogCache) Set(ctx context.Context, version int64, tracks []playback.Track) error {
	if tracks == nil {
		tracks = []playback.Track{}
	}
	data, err := json.Marshal(tracks)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog snapshot: %w", err)
	}

	// WATCH 版本号，期间发生失效则 EXEC 失败
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, VersionKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return ErrStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, CatalogKey, data, c.ttl)
			return nil
		})
		return err
	}, VersionKey)
	if errors.Is(err, ErrStaleSnapshot) || errors.Is(err, redis.TxFailedErr) {
		logger.Debug("目录已失效，丢弃旧快照", logger.Int64("version", version))
		return ErrStaleSnapshot
	}
	if err != nil {
		return fmt.Errorf("failed to set catalog snapshot: %w", err)
	}
	logger.Debug("目录快照已写入",
		logger.Int("tracks", len(tracks)),
		logger.Duration("expiration", c.ttl))
	return nil
}

// Invalidate 版本号加一、删除快照并通知所有订阅者
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, VersionKey)
		pipe.Del(ctx, CatalogKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete catalog snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, InvalidateChannel, time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to publish catalog invalidation: %w", err)
	}
	logger.Info("目录缓存已失效")
	return nil
}

// Subscribe 订阅失效通知，每收到一条消息调用一次 onInvalidate，直到 ctx 结束
func (c *CatalogCache) Subscribe(ctx context.Context, onInvalidate func()) error {
	sub := c.client.Subscribe(ctx, InvalidateChannel)
	defer sub.Close()

	// 等待订阅确认
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidateChannel, err)
	}
	logger.Info("已订阅目录失效通知", logger.String("channel", InvalidateChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			logger.Debug("收到目录失效通知", logger.String("payload", msg.Payload))
			onInvalidate()
		}
	}
}
