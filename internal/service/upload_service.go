package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"alcyxob/artifact-relay/internal/domain"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// AcceptedMessage is returned to the uploader once the request is handed to the background dispatch.
const AcceptedMessage = "Request accepted for processing"

// FailureSink receives dispatch failures. The uploader has already been
// acknowledged, so failures go to operators instead of back to the caller.
type FailureSink interface {
	DispatchFailed(req *domain.UploadRequest, err error)
}

type logFailureSink struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewLogFailureSink logs and counts failed dispatches.
func NewLogFailureSink(logger *zap.Logger, metrics *Metrics) FailureSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logFailureSink{logger: logger, metrics: metrics}
}

func (s *logFailureSink) DispatchFailed(req *domain.UploadRequest, err error) {
	s.metrics.dispatched(outcomeFailed)
	fields := []zap.Field{
		zap.String("requestId", req.RequestID),
		zap.Int("files", len(req.Files)),
		zap.Error(err),
	}
	var fe *ForwardingError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		fields = append(fields, zap.Int("status", fe.StatusCode))
	}
	s.logger.Error("forwarding failed", fields...)
}

// UploadService is the ingestion boundary.
type UploadService interface {
	// ProcessUpload validates the upload, assigns it a request id and starts the
	// dispatch in the background. It returns before the processor is contacted.
	ProcessUpload(ctx context.Context, files []domain.FilePart, description string) (*domain.UploadReceipt, error)
	// ForwardNow validates and dispatches synchronously, returning the dispatch error.
	ForwardNow(ctx context.Context, files []domain.FilePart, description string) (*domain.UploadReceipt, error)
	// Wait blocks until in-flight dispatches finish or ctx is done.
	Wait(ctx context.Context) error
}

type uploadService struct {
	ids        IdentityGenerator
	dispatcher Dispatcher
	sink       FailureSink
	tracker    *Tracker
	metrics    *Metrics
	logger     *zap.Logger

	inflight sync.WaitGroup
}

// NewUploadService wires the ingestion path. tracker and metrics may be nil.
func NewUploadService(ids IdentityGenerator, dispatcher Dispatcher, sink FailureSink, tracker *Tracker, metrics *Metrics, logger *zap.Logger) UploadService {
	if ids == nil {
		ids = NewIdentityGenerator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogFailureSink(logger, metrics)
	}
	return &uploadService{
		ids:        ids,
		dispatcher: dispatcher,
		sink:       sink,
		tracker:    tracker,
		metrics:    metrics,
		logger:     logger.Named("upload"),
	}
}

func (s *uploadService) ProcessUpload(ctx context.Context, files []domain.FilePart, description string) (*domain.UploadReceipt, error) {
	req, err := s.newRequest(files, description)
	if err != nil {
		return nil, err
	}
	s.tracker.Pending(req.RequestID, req.Timestamp)

	// The dispatch outlives the inbound request; a disconnecting uploader must not cancel it.
	dispatchCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.forward(dispatchCtx, req)
	}()

	s.logger.Info("upload accepted",
		zap.String("requestId", req.RequestID),
		zap.Int("files", len(req.Files)),
		zap.Int64("bytes", req.TotalBytes()),
	)
	return receiptFor(req), nil
}

func (s *uploadService) ForwardNow(ctx context.Context, files []domain.FilePart, description string) (*domain.UploadReceipt, error) {
	req, err := s.newRequest(files, description)
	if err != nil {
		return nil, err
	}
	s.tracker.Pending(req.RequestID, req.Timestamp)
	if err := s.forward(ctx, req); err != nil {
		return receiptFor(req), err
	}
	return receiptFor(req), nil
}

func (s *uploadService) forward(ctx context.Context, req *domain.UploadRequest) error {
	err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		s.tracker.Forget(req.RequestID)
		s.sink.DispatchFailed(req, err)
		return err
	}
	s.metrics.dispatched(outcomeOK)
	return nil
}

func (s *uploadService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *uploadService) newRequest(files []domain.FilePart, description string) (*domain.UploadRequest, error) {
	if err := validateUpload(files, description); err != nil {
		return nil, err
	}

	parts := make([]domain.FilePart, len(files))
	for i, f := range files {
		parts[i] = domain.NewFilePart(f.Filename, resolveContentType(f), f.Content)
	}
	return &domain.UploadRequest{
		RequestID:   s.ids.NewRequestID(),
		Description: strings.TrimSpace(description),
		Timestamp:   s.ids.Now(),
		Files:       parts,
	}, nil
}

func validateUpload(files []domain.FilePart, description string) error {
	var result *multierror.Error
	if len(files) == 0 {
		result = multierror.Append(result, errors.New("at least one file is required"))
	}
	if strings.TrimSpace(description) == "" {
		result = multierror.Append(result, errors.New("prompt description is required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return &ValidationError{Problems: result.Errors}
	}
	return nil
}

// resolveContentType keeps a specific declared type and otherwise derives one from the content.
func resolveContentType(f domain.FilePart) string {
	declared := strings.TrimSpace(f.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if kind, err := filetype.Match(f.Content); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func receiptFor(req *domain.UploadRequest) *domain.UploadReceipt {
	return &domain.UploadReceipt{
		Message:   AcceptedMessage,
		Timestamp: req.Timestamp,
		RequestID: req.RequestID,
	}
}
