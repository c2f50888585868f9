package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the artifact mirror. The mirror is disabled when
// Endpoint is empty.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	UseSSL     bool
	ExpireDays int
}

// Enabled reports whether a mirror should be created.
func (c MinioConfig) Enabled() bool { return c.Endpoint != "" }

// MinioMirror copies produced artifacts to a bucket and hands out presigned
// download links.
type MinioMirror struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioMirror creates the client. No request is made until first use.
func NewMinioMirror(cfg MinioConfig) (*MinioMirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket cannot be empty")
	}
	if cfg.ExpireDays <= 0 {
		cfg.ExpireDays = 7
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioMirror{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (m *MinioMirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Publish uploads the file at path as objectName and returns a presigned
// download URL.
func (m *MinioMirror) Publish(ctx context.Context, path, objectName string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	_, err = m.client.PutObject(ctx, m.cfg.Bucket, objectName, f, info.Size(), minio.PutObjectOptions{
		ContentType: ContentType(path),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	return m.PresignedURL(ctx, objectName)
}

// PresignedURL signs a time-limited GET for objectName.
func (m *MinioMirror) PresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(m.cfg.ExpireDays) * 24 * time.Hour
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

// PublicURL returns the unsigned object URL, usable when the bucket policy
// allows anonymous reads.
func (m *MinioMirror) PublicURL(objectName string) string {
	protocol := "http"
	if m.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, m.cfg.Endpoint, m.cfg.Bucket, objectName)
}

// ContentType guesses the MIME type of an artifact from its extension.
func ContentType(path string) string {
	switch ext := filepath.Ext(path); ext {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
