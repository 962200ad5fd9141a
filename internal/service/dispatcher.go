package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"alcyxob/artifact-relay/internal/config"
	"alcyxob/artifact-relay/internal/domain"

	"go.uber.org/zap"
)

// Multipart field names understood by the processor workflow.
const (
	FieldFiles             = "files"
	FieldPromptDescription = "promptDescription"
	FieldRequestID         = "requestId"
	FieldTimestamp         = "timestamp"
)

// Dispatcher forwards one upload to the external processor. It returns once
// the processor has accepted or refused the hand-off, never waiting for the
// processor's eventual callback.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *domain.UploadRequest) error
}

type httpDispatcher struct {
	client    *http.Client
	endpoint  string
	authToken string
	logger    *zap.Logger
}

// NewHTTPDispatcher posts uploads to cfg.UploadURL(). A nil client gets one built from cfg's timeouts.
func NewHTTPDispatcher(cfg config.ProcessorConfig, client *http.Client, logger *zap.Logger) Dispatcher {
	if client == nil {
		client = NewProcessorClient(cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpDispatcher{
		client:    client,
		endpoint:  cfg.UploadURL(),
		authToken: cfg.AuthToken,
		logger:    logger.Named("dispatcher"),
	}
}

// NewProcessorClient builds an HTTP client with a bounded connect timeout and
// a read timeout applied to the wait for response headers. There is no
// overall client timeout so large bodies are not cut off mid-transfer.
func NewProcessorClient(cfg config.ProcessorConfig) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	return &http.Client{Transport: transport}
}

func (d *httpDispatcher) Dispatch(ctx context.Context, req *domain.UploadRequest) error {
	body, contentType, err := encodeUpload(req)
	if err != nil {
		return &ForwardingError{RequestID: req.RequestID, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, body)
	if err != nil {
		return &ForwardingError{RequestID: req.RequestID, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	if d.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	started := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return &ForwardingError{RequestID: req.RequestID, Err: err}
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ForwardingError{
			RequestID:  req.RequestID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	d.logger.Info("forwarded request to processor",
		zap.String("requestId", req.RequestID),
		zap.Int("files", len(req.Files)),
		zap.Int64("bytes", req.TotalBytes()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeUpload builds the multipart body: one "files" part per file followed by
// the promptDescription, requestId and timestamp fields.
func encodeUpload(req *domain.UploadRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			FieldFiles, quoteEscaper.Replace(f.Filename)))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}

	fields := [][2]string{
		{FieldPromptDescription, req.Description},
		{FieldRequestID, req.RequestID},
		{FieldTimestamp, req.Timestamp.Format(time.RFC3339)},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
