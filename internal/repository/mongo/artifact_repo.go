package mongo

import (
	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const artifactCollectionName = "artifacts"

// mongoArtifactRepository implements repository.ArtifactRepository
type mongoArtifactRepository struct {
	collection *mongo.Collection
}

// NewMongoArtifactRepository creates an artifact ledger backed by MongoDB.
func NewMongoArtifactRepository(db *mongo.Database) repository.ArtifactRepository {
	return &mongoArtifactRepository{
		collection: db.Collection(artifactCollectionName),
	}
}

// Create inserts a ledger entry for a committed artifact.
func (r *mongoArtifactRepository) Create(ctx context.Context, artifact *domain.StoredArtifact) (primitive.ObjectID, error) {
	if artifact.Key == "" || artifact.Location == "" {
		return primitive.NilObjectID, errors.New("artifact requires key and location")
	}

	artifact.ID = primitive.NewObjectID()
	if artifact.StoredAt.IsZero() {
		artifact.StoredAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, artifact)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, fmt.Errorf("%w: %s", repository.ErrDuplicate, artifact.Key)
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByKey retrieves the ledger entry for one storage key.
func (r *mongoArtifactRepository) GetByKey(ctx context.Context, key string) (*domain.StoredArtifact, error) {
	var artifact domain.StoredArtifact
	err := r.collection.FindOne(ctx, bson.M{"key": key}).Decode(&artifact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

// GetByRequestID lists every artifact stored for a request, oldest first.
func (r *mongoArtifactRepository) GetByRequestID(ctx context.Context, requestID string) ([]domain.StoredArtifact, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "storedAt", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"requestId": requestID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	artifacts := []domain.StoredArtifact{}
	if err = cursor.All(ctx, &artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// EnsureArtifactIndexes creates the indexes the ledger queries rely on.
func EnsureArtifactIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "requestId", Value: 1}, {Key: "storedAt", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// ArtifactCollection returns the ledger collection of db.
func ArtifactCollection(db *mongo.Database) *mongo.Collection {
	return db.Collection(artifactCollectionName)
}
