package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/pkg/log"
)

// MinIOBackend 是基于 MinIO 对象存储的后端实现。
type MinIOBackend struct {
	client *minio.Client
	bucket string
}

// NewMinIOBackend 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOBackend(cfg config.MinIOConfig) (*MinIOBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return &MinIOBackend{client: client, bucket: cfg.BucketName}, nil
}

func (b *MinIOBackend) Exists(p string) (bool, error) {
	_, err := b.client.StatObject(context.Background(), b.bucket, p, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *MinIOBackend) List(dir, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		ok, merr := path.Match(pattern, path.Base(obj.Key))
		if merr != nil {
			return nil, merr
		}
		if ok {
			out = append(out, obj.Key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *MinIOBackend) Read(p string) ([]byte, error) {
	obj, err := b.client.GetObject(context.Background(), b.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (b *MinIOBackend) Write(p string, data []byte) error {
	_, err := b.client.PutObject(context.Background(), b.bucket, p,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (b *MinIOBackend) Move(src, dst string) error {
	ctx := context.Background()
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: b.bucket, Object: src})
	if err != nil {
		return err
	}
	return b.client.RemoveObject(ctx, b.bucket, src, minio.RemoveObjectOptions{})
}

func (b *MinIOBackend) Delete(p string) error {
	return b.client.RemoveObject(context.Background(), b.bucket, p, minio.RemoveObjectOptions{})
}

func (b *MinIOBackend) Size(p string) (int64, error) {
	info, err := b.client.StatObject(context.Background(), b.bucket, p, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}
