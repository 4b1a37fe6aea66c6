package kicks

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"Kickfolio/logger"
)

// DefaultSettle 文件停止变化多久后导入
const DefaultSettle = 300 * time.Millisecond

// KickStore 保存 kick 时间戳，repository.TrackRepository 实现了该接口
type KickStore interface {
	UpdateKicks(ctx context.Context, trackID int64, kicks []float64) error
}

// Invalidator 导入后使目录缓存失效，cache.CatalogCache 实现了该接口
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Importer 把 kick 文件导入曲目
type Importer struct {
	store       KickStore
	invalidator Invalidator
	note        int
	settle      time.Duration
}

// NewImporter 创建导入器，invalidator 可为 nil
func NewImporter(store KickStore, invalidator Invalidator, note int) *Importer {
	return &Importer{store: store, invalidator: invalidator, note: note, settle: DefaultSettle}
}

// SetSettle 修改监听去抖间隔
func (im *Importer) SetSettle(d time.Duration) {
	if d > 0 {
		im.settle = d
	}
}

// TrackIDFromFile 解析 "<trackId>.<ext>" 形式的文件名
func TrackIDFromFile(path string) (int64, bool) {
	base := filepath.Base(path)
	id, err := strconv.ParseInt(strings.TrimSuffix(base, filepath.Ext(base)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Import 读取文件并写入曲目
func (im *Importer) Import(ctx context.Context, trackID int64, path string) (int, error) {
	ts, err := Load(path, im.note)
	if err != nil {
		return 0, err
	}
	if err := im.store.UpdateKicks(ctx, trackID, ts); err != nil {
		return 0, err
	}
	if im.invalidator != nil {
		if err := im.invalidator.Invalidate(ctx); err != nil {
			logger.Warn("catalog invalidation after kick import failed",
				logger.Int64("trackId", trackID), logger.ErrorField(err))
		}
	}
	logger.Info("kicks imported",
		logger.Int64("trackId", trackID),
		logger.String("file", filepath.Base(path)),
		logger.Int("kicks", len(ts)))
	return len(ts), nil
}

// Watch 监听 dir，导入新建或写入的 "<trackId>.mid|.midi|.csv|.json" 文件，直到 ctx 结束
// 导入失败只记录日志
func (im *Importer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching kick files", logger.String("dir", dir))

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string, trackID int64) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		pending[path] = time.AfterFunc(im.settle, func() {
			defer wg.Done()
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			if _, err := im.Import(ctx, trackID, path); err != nil {
				logger.Warn("kick import failed",
					logger.String("file", path), logger.ErrorField(err))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !Supported(event.Name) {
				continue
			}
			trackID, ok := TrackIDFromFile(event.Name)
			if !ok {
				logger.Debug("ignoring kick file without track id", logger.String("file", event.Name))
				continue
			}
			schedule(event.Name, trackID)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}
