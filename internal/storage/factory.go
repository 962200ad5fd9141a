package storage

import (
	"context"
	"fmt"
	"strings"

	"alcyxob/artifact-relay/internal/config"

	"go.uber.org/zap"
)

// Driver names accepted in storage.driver.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
	DriverMinio = "minio"
	DriverAzure = "azure"
)

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (FileStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverLocal:
		return NewLocalStorage(cfg.Local.Root, logger)
	case DriverS3:
		return NewS3Storage(ctx, cfg.S3, logger)
	case DriverMinio:
		return NewMinioStorage(ctx, cfg.S3, logger)
	case DriverAzure:
		return NewAzureStorage(ctx, cfg.Azure, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
