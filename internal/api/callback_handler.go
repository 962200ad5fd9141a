package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// callbackFilePart is the multipart field carrying the artifact.
const callbackFilePart = "file"

// CallbackHandler receives the processor's asynchronous results.
type CallbackHandler struct {
	callbackService service.CallbackService
	logger          *zap.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(callbackService service.CallbackService, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{callbackService: callbackService, logger: logger}
}

// CallbackResponse is the body returned to the processor once the artifact is committed.
type CallbackResponse struct {
	Message   string  `json:"message"`
	Path      string  `json:"path"`
	Filename  string  `json:"filename"`
	Key       string  `json:"key"`
	RequestID *string `json:"requestId,omitempty"`
}

// HandleCallback godoc
// @Summary Receive a processor result
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} CallbackResponse
// @Failure 400 {object} gin.H "Malformed callback"
// @Failure 409 {object} gin.H "Unknown request id"
// @Failure 500 {object} gin.H "Storage failure"
// @Router /webhook/n8n-response [post]
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	payload, err := h.readPayload(c)
	if err != nil {
		if isBodyTooLarge(err) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "Callback body exceeds maximum allowed limit")
			return
		}
		abortWithError(c, http.StatusBadRequest, "Malformed webhook payload: "+err.Error())
		return
	}

	stored, err := h.callbackService.HandleCallback(c.Request.Context(), payload)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			abortWithError(c, http.StatusBadRequest, verr.Messages()...)
		case errors.Is(err, service.ErrDecode):
			abortWithError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUnknownCorrelation):
			abortWithError(c, http.StatusConflict, err.Error())
		default:
			h.logger.Error("callback failed", zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "Failed to process webhook response: "+err.Error())
		}
		return
	}

	respondData(c, http.StatusOK, CallbackResponse{
		Message:   service.StoredMessage,
		Path:      stored.Location,
		Filename:  stored.Filename,
		Key:       stored.Key,
		RequestID: stored.RequestID,
	})
}

// readPayload turns the request body into a CallbackPayload according to its content type.
func (h *CallbackHandler) readPayload(c *gin.Context) (service.CallbackPayload, error) {
	contentType := c.ContentType()
	switch {
	case strings.HasPrefix(contentType, "multipart/"):
		return readMultipartPayload(c)
	case contentType == "application/x-www-form-urlencoded":
		if err := c.Request.ParseForm(); err != nil {
			return service.CallbackPayload{}, err
		}
		return service.CallbackPayload{Fields: formFields(c.Request.PostForm)}, nil
	default:
		return readJSONPayload(c.Request.Body)
	}
}

func readMultipartPayload(c *gin.Context) (service.CallbackPayload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return service.CallbackPayload{}, err
	}

	payload := service.CallbackPayload{Fields: formFields(form.Value)}
	if headers := form.File[callbackFilePart]; len(headers) > 0 {
		content, err := readFileHeader(headers[0])
		if err != nil {
			return service.CallbackPayload{}, err
		}
		part := domain.NewFilePart(headers[0].Filename, headers[0].Header.Get("Content-Type"), content)
		payload.Part = &part
	}
	return payload, nil
}

func readJSONPayload(body io.Reader) (service.CallbackPayload, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return service.CallbackPayload{}, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return service.CallbackPayload{}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return service.CallbackPayload{}, errors.New("body must be a JSON object")
	}
	return service.CallbackPayload{Fields: fields}, nil
}

func formFields(values map[string][]string) map[string]any {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields
}
