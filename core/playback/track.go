package playback

import "context"

// Section 曲目段落（intro / bridge / outro）
type Section struct {
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Track 引擎使用的目录条目
type Track struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	FeaturedArtist  string    `json:"featuredArtist,omitempty"`
	OriginalArtist  string    `json:"originalArtist,omitempty"`
	BPM             float64   `json:"bpm"`
	Key             string    `json:"key"`
	Year            int       `json:"year,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	MasterEngineer  string    `json:"masterEngineer,omitempty"`
	Duration        float64   `json:"duration"`
	ReleaseDate     string    `json:"releaseDate,omitempty"`
	MediaPath       string    `json:"mediaPath"`
	EventTimestamps []float64 `json:"eventTimestamps"`
	Sections        []Section `json:"sections,omitempty"`
}

// CatalogLoader 获取有序的上架曲目
type CatalogLoader interface {
	FetchActiveTracks(ctx context.Context) ([]Track, error)
}

// MediaResolver 把存储路径解析为可播放地址
type MediaResolver interface {
	ResolveMediaURL(mediaPath string) (string, error)
}

// CatalogLoaderFunc 函数适配 CatalogLoader
type CatalogLoaderFunc func(ctx context.Context) ([]Track, error)

func (f CatalogLoaderFunc) FetchActiveTracks(ctx context.Context) ([]Track, error) {
	return f(ctx)
}

// MediaResolverFunc 函数适配 MediaResolver
type MediaResolverFunc func(mediaPath string) (string, error)

func (f MediaResolverFunc) ResolveMediaURL(mediaPath string) (string, error) {
	return f(mediaPath)
}
