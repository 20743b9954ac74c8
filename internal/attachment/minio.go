package attachment

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the S3-compatible blob backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base the bucket is publicly served from. When empty,
	// URLs are presigned for PresignTTL instead.
	PublicURL  string
	PresignTTL time.Duration
}

// MinioBlobs implements Blobs on MinIO or any S3-compatible service.
type MinioBlobs struct {
	client *minio.Client
	cfg    MinioConfig
}

func NewMinioBlobs(cfg MinioConfig) (*MinioBlobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	return &MinioBlobs{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinioBlobs) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.cfg.Bucket, err)
	}
	log.Printf("attachment: created bucket %s", m.cfg.Bucket)
	return nil
}

func (m *MinioBlobs) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (m *MinioBlobs) PublicURL(key string) (string, error) {
	if base := strings.TrimRight(m.cfg.PublicURL, "/"); base != "" {
		return base + "/" + m.cfg.Bucket + "/" + escapeKey(key), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	signed, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, key, m.cfg.PresignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return signed.String(), nil
}

// Delete removes key, returning ErrObjectNotFound when there was nothing
// to remove.
func (m *MinioBlobs) Delete(ctx context.Context, key string) error {
	if _, err := m.client.StatObject(ctx, m.cfg.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrObjectNotFound
		}
		return fmt.Errorf("stat object %s: %w", key, err)
	}
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (m *MinioBlobs) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.cfg.Bucket); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
