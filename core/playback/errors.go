package playback

import "errors"

var (
	// ErrInvalidInput kick 时间戳非法（负数、NaN 或无穷）
	ErrInvalidInput = errors.New("invalid input")
	// ErrCatalogUnavailable 目录获取失败且没有缓存
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrTrackNotFound 目录中没有该曲目
	ErrTrackNotFound = errors.New("track not found")
	// ErrMediaResolution 音频路径无法解析为地址
	ErrMediaResolution = errors.New("media resolution failed")
)
