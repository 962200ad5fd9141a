package service

import (
	"context"
	"errors"
	"fmt"

	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/repository"
	"alcyxob/artifact-relay/internal/storage"

	"go.uber.org/zap"
)

// StoredMessage is reported back to the processor after a successful commit.
const StoredMessage = "PDF successfully stored"

// CallbackService is the callback boundary: it turns a processor callback into a stored artifact.
type CallbackService interface {
	HandleCallback(ctx context.Context, payload CallbackPayload) (*domain.StoredArtifact, error)
}

type callbackService struct {
	decoder   *ArtifactDecoder
	allocator *storage.Allocator
	storage   storage.FileStorage
	baseDir   string
	ledger    repository.ArtifactRepository
	tracker   *Tracker
	clock     IdentityGenerator
	metrics   *Metrics
	logger    *zap.Logger
}

// CallbackOptions carries the optional collaborators of the callback path.
type CallbackOptions struct {
	BaseDir string
	Suffix  storage.SuffixGenerator
	Ledger  repository.ArtifactRepository
	Tracker *Tracker
	Clock   IdentityGenerator
	Metrics *Metrics
	Logger  *zap.Logger
}

// NewCallbackService builds the correlator on top of a storage backend.
func NewCallbackService(fs storage.FileStorage, opts CallbackOptions) CallbackService {
	if opts.Clock == nil {
		opts.Clock = NewIdentityGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &callbackService{
		decoder:   NewArtifactDecoder(),
		allocator: storage.NewAllocator(fs, opts.Suffix),
		storage:   fs,
		baseDir:   opts.BaseDir,
		ledger:    opts.Ledger,
		tracker:   opts.Tracker,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    opts.Logger.Named("callback"),
	}
}

// HandleCallback decodes the payload, allocates a collision-free key for it
// under today's partition and commits the bytes. Nothing is written when
// the payload is empty or cannot be decoded.
func (s *callbackService) HandleCallback(ctx context.Context, payload CallbackPayload) (*domain.StoredArtifact, error) {
	if payload.IsEmpty() {
		s.metrics.callback(outcomeRejected)
		return nil, &ValidationError{Problems: []error{errors.New("callback carried no content")}}
	}

	artifact, err := s.decoder.Decode(payload)
	if err != nil {
		s.metrics.callback(outcomeRejected)
		s.logger.Warn("callback rejected", zap.Error(err))
		return nil, err
	}

	if err := s.tracker.Check(artifact.RequestID); err != nil {
		s.metrics.callback(outcomeUnknownID)
		s.logger.Warn("callback for unknown request", zap.Stringp("requestId", artifact.RequestID))
		return nil, fmt.Errorf("%w: %s", err, requestIDOrNone(artifact.RequestID))
	}

	moment := s.clock.Now()
	key, err := s.allocator.AllocateFor(ctx, s.baseDir, artifact.Filename, moment, artifact.Content)
	if err != nil {
		s.metrics.callback(outcomeStoreError)
		return nil, storageError("allocate key", err)
	}

	location, err := s.storage.Put(ctx, key.Dir, key.Name, artifact.Content, domain.ContentTypePDF)
	if err != nil {
		s.metrics.callback(outcomeStoreError)
		s.logger.Error("artifact write failed", zap.String("key", key.String()), zap.Error(err))
		return nil, storageError("write "+key.String(), err)
	}

	stored := &domain.StoredArtifact{
		RequestID:   artifact.RequestID,
		Filename:    artifact.Filename,
		Key:         key.String(),
		Location:    location,
		ContentType: domain.ContentTypePDF,
		Size:        int64(len(artifact.Content)),
		StoredAt:    moment.UTC(),
	}

	if s.ledger != nil {
		if _, err := s.ledger.Create(ctx, stored); err != nil {
			// The file is committed; a missing ledger row only costs queryability.
			s.logger.Error("ledger write failed", zap.String("key", stored.Key), zap.Error(err))
		}
	}

	s.tracker.Fulfill(artifact.RequestID, moment)
	s.metrics.callback(outcomeOK)
	s.metrics.stored(stored.Size)
	s.logger.Info("artifact stored",
		zap.Stringp("requestId", stored.RequestID),
		zap.String("filename", stored.Filename),
		zap.String("location", stored.Location),
		zap.Int64("bytes", stored.Size),
	)
	return stored, nil
}

func requestIDOrNone(id *string) string {
	if id == nil {
		return "<none>"
	}
	return *id
}
