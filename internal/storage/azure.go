package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"alcyxob/artifact-relay/internal/config"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"
)

// azureStorage implements FileStorage on an Azure Blob Storage container.
type azureStorage struct {
	client    *azblob.Client
	endpoint  string
	container string
	logger    *zap.Logger
}

// NewAzureStorage authenticates with a shared key and creates the container if missing.
func NewAzureStorage(ctx context.Context, cfg config.AzureConfig, logger *zap.Logger) (FileStorage, error) {
	if cfg.Account == "" || cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage: account and account_key are required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure storage: container is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure storage: build credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint+"/", cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure storage: create client: %w", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(createCtx, cfg.Container, nil); err != nil && !isAzureContainerExists(err) {
		return nil, fmt.Errorf("azure storage: create container: %w", err)
	}

	logger.Info("Azure blob storage initialized", zap.String("endpoint", endpoint), zap.String("container", cfg.Container))
	return &azureStorage{client: client, endpoint: endpoint, container: cfg.Container, logger: logger}, nil
}

func (s *azureStorage) EnsureDirectory(context.Context, string) error { return nil }

// Put uploads the artifact in one call; a block blob is only visible once committed.
func (s *azureStorage) Put(ctx context.Context, dir, name string, data []byte, contentType string) (string, error) {
	key, err := joinKey(dir, name)
	if err != nil {
		return "", err
	}
	_, err = s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	})
	if err != nil {
		s.logger.Error("failed to upload blob", zap.String("key", key), zap.String("container", s.container), zap.Error(err))
		return "", fmt.Errorf("azure storage: upload %q: %w", key, err)
	}
	return s.Locate(key), nil
}

func (s *azureStorage) Exists(ctx context.Context, key string) (bool, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(cleaned)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("azure storage: properties %q: %w", cleaned, err)
	}
	return true, nil
}

func (s *azureStorage) Locate(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.container, key)
}

func isAzureContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
