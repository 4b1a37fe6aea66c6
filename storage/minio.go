package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"Kickfolio/config"
	"Kickfolio/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store 封装 MinIO 客户端，负责音频对象的上传、删除与地址解析
type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	resolver *URLResolver
}

// NewStore 根据配置创建 MinIO 存储
func NewStore(cfg *config.Config) (*Store, error) {
	if cfg.MinioEndpoint == "" {
		return nil, errors.New("MINIO_ENDPOINT is not set")
	}

	logger.Info("正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket),
		logger.Bool("ssl", cfg.MinioUseSSL))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	return &Store{
		client:   client,
		bucket:   cfg.MinioBucket,
		region:   cfg.MinioRegion,
		resolver: NewURLResolver(PublicBase(cfg)),
	}, nil
}

// Bucket 返回音频存储桶名称
func (s *Store) Bucket() string { return s.bucket }

// EnsureBucket 检查存储桶是否存在，不存在则创建
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Debug("存储桶已存在", logger.String("bucket", s.bucket))
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// UploadAudio 上传音频，返回写入数据库的媒体路径 "<bucket>/<object>"
func (s *Store) UploadAudio(ctx context.Context, originalName string, r io.Reader, size int64, contentType string) (string, error) {
	object := ObjectNameFor(time.Now(), originalName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return "", fmt.Errorf("上传音频失败: %w", err)
	}

	logger.Info("音频上传成功",
		logger.String("object", object),
		logger.Int64("size", info.Size))
	return s.bucket + "/" + object, nil
}

// DeleteObject 删除媒体路径对应的对象；外部 URL 或其他存储桶的路径会被跳过
func (s *Store) DeleteObject(ctx context.Context, mediaPath string) error {
	if mediaPath == "" || strings.HasPrefix(mediaPath, "http") {
		return nil
	}
	bucket, object, err := SplitMediaPath(mediaPath)
	if err != nil {
		return err
	}
	if bucket != s.bucket {
		logger.Warn("跳过删除其他存储桶中的对象", logger.String("path", mediaPath))
		return nil
	}

	if err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象失败: %w", err)
	}
	logger.Info("对象已删除", logger.String("path", mediaPath))
	return nil
}

// ResolveMediaURL 实现 playback.MediaResolver
func (s *Store) ResolveMediaURL(mediaPath string) (string, error) {
	return s.resolver.ResolveMediaURL(mediaPath)
}

// Ping 检查 MinIO 是否可用
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
