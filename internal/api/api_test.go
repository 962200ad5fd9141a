package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"alcyxob/artifact-relay/internal/config"
	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/service"
	"alcyxob/artifact-relay/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []*domain.UploadRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req *domain.UploadRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDispatcher) dispatched() []*domain.UploadRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.UploadRequest(nil), d.requests...)
}

type memoryLedger struct {
	mu        sync.Mutex
	artifacts []domain.StoredArtifact
}

func (l *memoryLedger) Create(_ context.Context, a *domain.StoredArtifact) (primitive.ObjectID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = primitive.NewObjectID()
	l.artifacts = append(l.artifacts, *a)
	return a.ID, nil
}

func (l *memoryLedger) GetByKey(context.Context, string) (*domain.StoredArtifact, error) {
	return nil, errors.New("not implemented")
}

func (l *memoryLedger) GetByRequestID(_ context.Context, requestID string) ([]domain.StoredArtifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []domain.StoredArtifact{}
	for _, a := range l.artifacts {
		if a.CorrelationID() == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

type failingStorage struct {
	storage.FileStorage
}

func (failingStorage) Put(context.Context, string, string, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

type testServer struct {
	router     *gin.Engine
	root       string
	dispatcher *recordingDispatcher
	uploads    service.UploadService
	tracker    *service.Tracker
}

type serverOptions struct {
	secret       string
	ledger       *memoryLedger
	enforce      bool
	maxUpload    int64
	maxCallback  int64
	origins      []string
	breakStorage bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	root := t.TempDir()

	var fs storage.FileStorage
	fs, err := storage.NewLocalStorage(root, logger)
	require.NoError(t, err)
	if opts.breakStorage {
		fs = failingStorage{FileStorage: fs}
	}

	registry := prometheus.NewRegistry()
	metrics := service.MustNewMetrics(registry)
	tracker := service.NewTracker(config.CorrelationConfig{
		Enabled:  opts.enforce,
		Enforce:  opts.enforce,
		TTL:      time.Hour,
		Capacity: 100,
	}, metrics, nil)

	callbackOpts := service.CallbackOptions{Tracker: tracker, Metrics: metrics, Logger: logger}
	artifacts := service.NewArtifactService(fs, nil)
	if opts.ledger != nil {
		callbackOpts.Ledger = opts.ledger
		artifacts = service.NewArtifactService(fs, opts.ledger)
	}

	dispatcher := &recordingDispatcher{}
	uploads := service.NewUploadService(nil, dispatcher, nil, tracker, metrics, logger)

	maxUpload := opts.maxUpload
	if maxUpload == 0 {
		maxUpload = 1 << 20
	}
	maxCallback := opts.maxCallback
	if maxCallback == 0 {
		maxCallback = 1 << 20
	}
	cfg := RouterConfig{
		CallbackSecret:   opts.secret,
		MaxUploadBytes:   maxUpload,
		MaxCallbackBytes: maxCallback,
		AllowedOrigins:   opts.origins,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	router := NewRouter(cfg, logger)
	SetupRoutes(router, cfg, logger, uploads, service.NewCallbackService(fs, callbackOpts), artifacts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = uploads.Wait(ctx)
	})
	return &testServer{router: router, root: root, dispatcher: dispatcher, uploads: uploads, tracker: tracker}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type formFile struct {
	field, name, contentType string
	content                  []byte
}

func multipartRequest(t *testing.T, target string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []string        `json:"errors"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	w := srv.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestUploadAccepted(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req := multipartRequest(t, "/api/upload",
		[]formFile{{field: "files", name: "report.docx", contentType: "application/octet-stream", content: []byte("docx bytes")}},
		map[string]string{"promptDescription": "summarize"})
	w := srv.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var receipt domain.UploadReceipt
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &receipt))
	assert.Equal(t, service.AcceptedMessage, receipt.Message)
	assert.Len(t, receipt.RequestID, 36)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.uploads.Wait(ctx))

	dispatched := srv.dispatcher.dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, receipt.RequestID, dispatched[0].RequestID)
	assert.Equal(t, "summarize", dispatched[0].Description)
	require.Len(t, dispatched[0].Files, 1)
	assert.Equal(t, "report.docx", dispatched[0].Files[0].Filename)
	assert.EqualValues(t, len("docx bytes"), dispatched[0].Files[0].Size)
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(multipartRequest(t, "/api/upload", nil, map[string]string{"promptDescription": " "}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"at least one file is required", "prompt description is required"}, decodeEnvelope(t, w).Errors)

	w = srv.do(jsonRequest("/api/upload", `{"files":[]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, decodeEnvelope(t, w).Errors, 1)

	assert.Empty(t, srv.dispatcher.dispatched())
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t, serverOptions{maxUpload: 1024})

	req := multipartRequest(t, "/api/upload",
		[]formFile{{field: "files", name: "big.bin", contentType: "application/octet-stream", content: bytes.Repeat([]byte("x"), 8<<10)}},
		map[string]string{"promptDescription": "too much"})
	w := srv.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.NotEmpty(t, decodeEnvelope(t, w).Errors)
}

func TestCallbackMultipart(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	content := []byte("%PDF-1.7\nx")
	req := multipartRequest(t, "/api/webhook/n8n-response",
		[]formFile{{field: "file", name: "processor.pdf", contentType: "application/pdf", content: content}},
		map[string]string{"requestId": "abc123", "filename": "out.pdf"})
	w := srv.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CallbackResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, service.StoredMessage, resp.Message)
	assert.Equal(t, "out.pdf", resp.Filename)
	require.NotNil(t, resp.RequestID)
	assert.Equal(t, "abc123", *resp.RequestID)

	today := time.Now().Format("2006-01-02")
	assert.Regexp(t, `^`+today+`/out-\d{8}-\d{6}-[0-9a-f]{8}\.pdf$`, resp.Key)
	assert.Equal(t, filepath.Join(srv.root, filepath.FromSlash(resp.Key)), resp.Path)
}

func TestCallbackJSON(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	body := `{"file":"` + base64.StdEncoding.EncodeToString([]byte("hi")) + `","filename":"x.pdf"}`
	w := srv.do(jsonRequest("/api/webhook/n8n-response", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CallbackResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, "x.pdf", resp.Filename)
	assert.Nil(t, resp.RequestID)
	assert.Contains(t, resp.Path, "x-")
}

func TestCallbackFormEncoded(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/n8n-response",
		strings.NewReader("pdf="+base64.URLEncoding.EncodeToString([]byte("%PDF"))+"&requestId=abc123"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := srv.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCallbackRejectsMalformedPayloads(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	cases := map[string]*http.Request{
		"empty body":    jsonRequest("/api/webhook/n8n-response", ""),
		"empty object":  jsonRequest("/api/webhook/n8n-response", "{}"),
		"array":         jsonRequest("/api/webhook/n8n-response", `["pdf"]`),
		"not json":      jsonRequest("/api/webhook/n8n-response", "%PDF-1.7"),
		"bad base64":    jsonRequest("/api/webhook/n8n-response", `{"pdfContent":"***"}`),
		"no pdf fields": jsonRequest("/api/webhook/n8n-response", `{"requestId":"abc123"}`),
		"empty part": multipartRequest(t, "/api/webhook/n8n-response",
			[]formFile{{field: "file", name: "out.pdf", contentType: "application/pdf"}}, map[string]string{"requestId": "abc123"}),
		"no file part": multipartRequest(t, "/api/webhook/n8n-response", nil, map[string]string{"requestId": "abc123"}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			w := srv.do(req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeEnvelope(t, w).Errors)
		})
	}
}

func TestCallbackStorageFailure(t *testing.T) {
	srv := newTestServer(t, serverOptions{breakStorage: true})

	w := srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg=="}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	errs := decodeEnvelope(t, w).Errors
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "disk full")
}

func TestCallbackAuth(t *testing.T) {
	const secret = "callback-secret"
	srv := newTestServer(t, serverOptions{secret: secret})
	body := `{"pdf":"JVBERg=="}`

	w := srv.do(jsonRequest("/api/webhook/n8n-response", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := jsonRequest("/api/webhook/n8n-response", body)
	req.Header.Set("Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, srv.do(req).Code)

	wrong, err := MintCallbackToken("other-secret", "n8n", time.Minute)
	require.NoError(t, err)
	req = jsonRequest("/api/webhook/n8n-response", body)
	req.Header.Set("Authorization", "Bearer "+wrong)
	assert.Equal(t, http.StatusUnauthorized, srv.do(req).Code)

	expired, err := MintCallbackToken(secret, "n8n", -time.Minute)
	require.NoError(t, err)
	req = jsonRequest("/api/webhook/n8n-response", body)
	req.Header.Set("Authorization", "Bearer "+expired)
	w = srv.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []string{"Token has expired"}, decodeEnvelope(t, w).Errors)

	valid, err := MintCallbackToken(secret, "n8n", time.Minute)
	require.NoError(t, err)
	req = jsonRequest("/api/webhook/n8n-response", body)
	req.Header.Set("Authorization", "Bearer "+valid)
	assert.Equal(t, http.StatusOK, srv.do(req).Code)

	// Uploads are not behind the callback secret.
	up := multipartRequest(t, "/api/upload",
		[]formFile{{field: "files", name: "a.txt", contentType: "text/plain", content: []byte("x")}},
		map[string]string{"promptDescription": "go"})
	assert.Equal(t, http.StatusAccepted, srv.do(up).Code)

	_, err = MintCallbackToken("", "n8n", time.Minute)
	assert.Error(t, err)
}

func TestCallbackTooLarge(t *testing.T) {
	srv := newTestServer(t, serverOptions{maxCallback: 1024})
	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("x"), 4<<10))

	w := srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"`+big+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	req := multipartRequest(t, "/api/webhook/n8n-response",
		[]formFile{{field: "file", name: "out.pdf", contentType: "application/pdf", content: bytes.Repeat([]byte("x"), 4<<10)}},
		map[string]string{"requestId": "abc123"})
	w = srv.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/webhook/n8n-response", strings.NewReader("pdf="+big))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = srv.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	assert.Empty(t, findPDFs(t, srv.root))
}

func findPDFs(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, "*", "*.pdf"))
	require.NoError(t, err)
	return matches
}

func TestArtifactLookupsRequireTokenWhenSecretSet(t *testing.T) {
	const secret = "callback-secret"
	srv := newTestServer(t, serverOptions{secret: secret, ledger: &memoryLedger{}})

	token, err := MintCallbackToken(secret, "n8n", time.Minute)
	require.NoError(t, err)
	authorized := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	w := srv.do(authorized(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg==","requestId":"abc123"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stored CallbackResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &stored))

	lookups := []string{
		"/api/artifacts/" + stored.Key,
		"/api/artifacts/2025-01-01/missing.pdf",
		"/api/requests/abc123/artifacts",
	}
	for _, target := range lookups {
		w = srv.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		assert.NotContains(t, w.Body.String(), stored.Key, target)
	}

	forged, err := MintCallbackToken("other-secret", "n8n", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/"+stored.Key, nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, srv.do(req).Code)

	w = srv.do(authorized(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+stored.Key, nil)))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = srv.do(authorized(httptest.NewRequest(http.MethodGet, "/api/requests/abc123/artifacts", nil)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var artifacts []domain.StoredArtifact
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &artifacts))
	assert.Len(t, artifacts, 1)

	// Liveness and ingestion stay open.
	assert.Equal(t, http.StatusOK, srv.do(httptest.NewRequest(http.MethodGet, "/ping", nil)).Code)
}

func TestCallbackCorrelationEnforcement(t *testing.T) {
	srv := newTestServer(t, serverOptions{enforce: true})

	w := srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg==","requestId":"forged"}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	up := multipartRequest(t, "/api/upload",
		[]formFile{{field: "files", name: "a.txt", contentType: "text/plain", content: []byte("x")}},
		map[string]string{"promptDescription": "go"})
	w = srv.do(up)
	require.Equal(t, http.StatusAccepted, w.Code)
	var receipt domain.UploadReceipt
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &receipt))

	w = srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg==","requestId":"`+receipt.RequestID+`"}`))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, service.StateFulfilled, srv.tracker.State(receipt.RequestID))
}

func TestFindArtifact(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	w := srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg==","filename":"out.pdf"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var stored CallbackResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &stored))

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/"+stored.Key, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var found service.ArtifactLocation
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &found))
	assert.Equal(t, stored.Key, found.Key)
	assert.Equal(t, stored.Path, found.Location)

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/2025-01-01/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/artifacts/..%2F..%2Fetc%2Fpasswd", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArtifactsForRequest(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	w := srv.do(httptest.NewRequest(http.MethodGet, "/api/requests/abc123/artifacts", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	srv = newTestServer(t, serverOptions{ledger: &memoryLedger{}})
	for i := 0; i < 2; i++ {
		w = srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg==","requestId":"abc123"}`))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/requests/abc123/artifacts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var artifacts []domain.StoredArtifact
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &artifacts))
	require.Len(t, artifacts, 2)
	assert.NotEqual(t, artifacts[0].Key, artifacts[1].Key)
	assert.Equal(t, domain.ContentTypePDF, artifacts[0].ContentType)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	srv.do(jsonRequest("/api/webhook/n8n-response", `{"pdf":"JVBERg=="}`))

	w := srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `relay_callbacks_total{outcome="ok"} 1`)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, serverOptions{origins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := srv.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, srv.do(req).Code)
}
