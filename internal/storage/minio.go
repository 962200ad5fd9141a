package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"alcyxob/artifact-relay/internal/config"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// minioStorage implements FileStorage with the MinIO client, for self-hosted S3-compatible stores.
type minioStorage struct {
	client     *minio.Client
	bucketName string
	logger     *zap.Logger
}

// NewMinioStorage connects to the endpoint and creates the bucket when it does not exist yet.
func NewMinioStorage(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (FileStorage, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("minio storage: bucket_name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("minio storage: endpoint is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("minio storage: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("minio storage: check bucket %q: %w", cfg.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio storage: create bucket %q: %w", cfg.BucketName, err)
		}
		logger.Info("created bucket", zap.String("bucket", cfg.BucketName))
	}

	logger.Info("MinIO storage initialized", zap.String("endpoint", endpoint), zap.String("bucket", cfg.BucketName))
	return &minioStorage{client: client, bucketName: cfg.BucketName, logger: logger}, nil
}

func (s *minioStorage) EnsureDirectory(context.Context, string) error { return nil }

func (s *minioStorage) Put(ctx context.Context, dir, name string, data []byte, contentType string) (string, error) {
	key, err := joinKey(dir, name)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("failed to put object", zap.String("key", key), zap.String("bucket", s.bucketName), zap.Error(err))
		return "", fmt.Errorf("minio storage: put %q: %w", key, err)
	}
	return s.Locate(key), nil
}

func (s *minioStorage) Exists(ctx context.Context, key string) (bool, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucketName, cleaned, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio storage: stat %q: %w", cleaned, err)
	}
	return true, nil
}

func (s *minioStorage) Locate(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key)
}

func (s *minioStorage) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultPresignedURLExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, expires, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func isMinioNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound || errResp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
