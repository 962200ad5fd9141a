package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/repository"
	"alcyxob/artifact-relay/internal/storage"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrLedgerDisabled   = errors.New("artifact ledger is not enabled")
)

// ArtifactLocation answers an existence lookup for a storage key.
type ArtifactLocation struct {
	Key         string `json:"key"`
	Location    string `json:"path"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// ArtifactService looks up committed artifacts.
type ArtifactService interface {
	Find(ctx context.Context, key string) (*ArtifactLocation, error)
	ForRequest(ctx context.Context, requestID string) ([]domain.StoredArtifact, error)
}

type artifactService struct {
	storage   storage.FileStorage
	ledger    repository.ArtifactRepository
	urlExpiry time.Duration
}

// NewArtifactService serves lookups from fs; ledger may be nil.
func NewArtifactService(fs storage.FileStorage, ledger repository.ArtifactRepository) ArtifactService {
	return &artifactService{
		storage:   fs,
		ledger:    ledger,
		urlExpiry: storage.DefaultPresignedURLExpiry,
	}
}

// Find checks that key exists and, when the backend can sign URLs, attaches a download link.
func (s *artifactService) Find(ctx context.Context, key string) (*ArtifactLocation, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return nil, &ValidationError{Problems: []error{err}}
	}

	ok, err := s.storage.Exists(ctx, cleaned)
	if err != nil {
		return nil, storageError("lookup "+cleaned, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, cleaned)
	}

	found := &ArtifactLocation{Key: cleaned, Location: s.storage.Locate(cleaned)}
	if signer, ok := s.storage.(storage.URLSigner); ok {
		url, err := signer.GeneratePresignedDownloadURL(ctx, cleaned, s.urlExpiry)
		if err != nil {
			return nil, storageError("sign "+cleaned, err)
		}
		found.DownloadURL = url
	}
	return found, nil
}

func (s *artifactService) ForRequest(ctx context.Context, requestID string) ([]domain.StoredArtifact, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	id := NormalizeRequestID(requestID)
	if id == nil {
		return nil, &ValidationError{Problems: []error{errors.New("request id is not valid")}}
	}
	return s.ledger.GetByRequestID(ctx, *id)
}
