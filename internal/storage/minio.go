package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"placementPortal/internal/config"
)

// Client 封装 MinIO 客户端，管理公告、视频、简历三个 Bucket。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	publicEndpoint string
	buckets        config.MinIOConfig
}

// NewClient 根据配置初始化 MinIO 客户端，并确保所有 Bucket 存在。
// 公告与视频 Bucket 设置匿名只读策略，以便直接使用公开 URL。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	bucketLookup := minio.BucketLookupAuto
	switch strings.ToLower(strings.TrimSpace(cfg.BucketLookup)) {
	case "", "auto":
		bucketLookup = minio.BucketLookupAuto
	case "dns":
		bucketLookup = minio.BucketLookupDNS
	case "path":
		bucketLookup = minio.BucketLookupPath
	default:
		return nil, fmt.Errorf("invalid minio bucket lookup %q", cfg.BucketLookup)
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	parsedPublicEndpoint, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if parsedPublicEndpoint.Host == "" {
		return nil, fmt.Errorf("invalid minio public endpoint, host missing")
	}

	publicClient, err := minio.New(parsedPublicEndpoint.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       parsedPublicEndpoint.Scheme == "https",
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, bucket := range cfg.Buckets() {
		if err := ensureBucket(ctx, internalClient, bucket, cfg); err != nil {
			return nil, err
		}
	}
	for _, bucket := range []string{cfg.AnnouncementsBucket, cfg.VideosBucket} {
		if err := internalClient.SetBucketPolicy(ctx, bucket, publicReadPolicy(bucket)); err != nil {
			return nil, fmt.Errorf("set public policy on %q: %w", bucket, err)
		}
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		publicEndpoint: strings.TrimRight(parsedPublicEndpoint.String(), "/"),
		buckets:        cfg,
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, cfg config.MinIOConfig) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if !cfg.AutoCreateBucket {
		return fmt.Errorf("bucket %q does not exist (auto create disabled)", bucket)
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", bucket, err)
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

// AnnouncementsBucket, VideosBucket and ResumesBucket return configured bucket names.
func (c *Client) AnnouncementsBucket() string { return c.buckets.AnnouncementsBucket }
func (c *Client) VideosBucket() string        { return c.buckets.VideosBucket }
func (c *Client) ResumesBucket() string       { return c.buckets.ResumesBucket }

// UploadFile 上传对象。
func (c *Client) UploadFile(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	info, err := c.internalClient.PutObject(ctx, bucket, objectName, reader, size, opts)
	if err != nil {
		return nil, fmt.Errorf("put object %s/%s: %w", bucket, objectName, err)
	}
	return &info, nil
}

// GetObject 读取对象内容。
func (c *Client) GetObject(ctx context.Context, bucket, objectKey string) (*minio.Object, error) {
	obj, err := c.internalClient.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, objectKey, err)
	}
	return obj, nil
}

// GeneratePresignedURL 生成对象的限时下载链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, bucket, objectKey string, duration time.Duration) (string, error) {
	presignedURL, err := c.publicClient.PresignedGetObject(ctx, bucket, objectKey, duration, nil)
	if err != nil {
		return "", fmt.Errorf("generate presigned url for %s/%s: %w", bucket, objectKey, err)
	}
	return presignedURL.String(), nil
}

// PublicURL 返回公开 Bucket 中对象的直链。
func (c *Client) PublicURL(bucket, objectKey string) string {
	return c.publicEndpoint + "/" + path.Join(bucket, objectKey)
}

// DeleteObject 删除指定对象。
// 若对象不存在会被视为成功（幂等）。
func (c *Client) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if IsNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("remove object %s/%s: %w", bucket, objectKey, err)
	}
	return nil
}
