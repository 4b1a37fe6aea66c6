package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"Kickfolio/config"
	"Kickfolio/core/playback"
)

// URLResolver 将 "<bucket>/<file>" 形式的媒体路径解析为公开访问地址
type URLResolver struct {
	publicBase string
}

// NewURLResolver 创建解析器，publicBase 形如 https://cdn.example.com
func NewURLResolver(publicBase string) *URLResolver {
	return &URLResolver{publicBase: strings.TrimRight(publicBase, "/")}
}

// PublicBase 返回媒体公开地址前缀：优先 MINIO_PUBLIC_URL，否则由 endpoint 推导
func PublicBase(cfg *config.Config) string {
	if cfg.MinioPublicURL != "" {
		return strings.TrimRight(cfg.MinioPublicURL, "/")
	}
	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return scheme + "://" + cfg.MinioEndpoint
}

// SplitMediaPath 拆分媒体路径为存储桶和对象名，对象名可以包含 "/"
func SplitMediaPath(mediaPath string) (bucket, object string, err error) {
	parts := strings.SplitN(mediaPath, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: invalid media path %q", playback.ErrMediaResolution, mediaPath)
	}
	return parts[0], parts[1], nil
}

// ResolveMediaURL 实现 playback.MediaResolver
func (r *URLResolver) ResolveMediaURL(mediaPath string) (string, error) {
	if mediaPath == "" {
		return "", fmt.Errorf("%w: media path is required", playback.ErrMediaResolution)
	}
	// 已经是完整 URL，原样返回
	if strings.HasPrefix(mediaPath, "http") {
		return mediaPath, nil
	}

	bucket, object, err := SplitMediaPath(mediaPath)
	if err != nil {
		return "", err
	}

	segments := strings.Split(object, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.publicBase + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/"), nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName 去掉路径和不安全字符，保留扩展名
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "audio"
	}
	return name
}

// ObjectNameFor 生成上传对象名：<unix毫秒>-<清洗后的原文件名>
func ObjectNameFor(now time.Time, originalName string) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), SanitizeFileName(originalName))
}
