// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gym-coach-go/internal/config"
	"gym-coach-go/pkg/log"
)

// ObjectInfo 是知识库文档的元数据。
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// KnowledgeStore 读取存放在对象存储中的知识库文档。
type KnowledgeStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewKnowledgeStore 初始化 MinIO 客户端并确保存储桶存在。
func NewKnowledgeStore(ctx context.Context, cfg config.MinIOConfig) (*KnowledgeStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 知识库存储就绪, bucket: %s, prefix: %s", cfg.BucketName, cfg.KnowledgePrefix)
	return &KnowledgeStore{client: client, bucket: cfg.BucketName, prefix: cfg.KnowledgePrefix}, nil
}

// List 列出前缀下的全部文档，since 非零时只返回之后修改过的文档。
func (s *KnowledgeStore) List(ctx context.Context, since time.Time) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if !since.IsZero() && !obj.LastModified.After(since) {
			continue
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified, ETag: obj.ETag})
	}
	return out, nil
}

// Open 返回文档内容，调用方负责关闭。
func (s *KnowledgeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, nil
}

// Ping 用于就绪检查。
func (s *KnowledgeStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
