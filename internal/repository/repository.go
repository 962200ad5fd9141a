package repository

import (
	"alcyxob/artifact-relay/internal/domain"
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound  = RepositoryError("not found")
	ErrDuplicate = RepositoryError("duplicate key")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// ArtifactRepository records committed artifacts. The stored file stays the
// source of truth; the ledger only makes them queryable by correlation id.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact *domain.StoredArtifact) (primitive.ObjectID, error)
	GetByKey(ctx context.Context, key string) (*domain.StoredArtifact, error)
	// GetByRequestID returns the artifacts recorded for a request, oldest first.
	// An unknown request id yields an empty slice, not ErrNotFound.
	GetByRequestID(ctx context.Context, requestID string) ([]domain.StoredArtifact, error)
}
