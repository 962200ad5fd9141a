package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UploadHandler accepts uploads and hands them to the background dispatch.
type UploadHandler struct {
	uploadService service.UploadService
	logger        *zap.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploadService service.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, logger: logger}
}

// Upload godoc
// @Summary Submit files for processing
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Files to process (repeatable)"
// @Param promptDescription formData string true "What the processor should do"
// @Success 202 {object} domain.UploadReceipt
// @Failure 400 {object} gin.H "Missing files or description"
// @Failure 413 {object} gin.H "Upload too large"
// @Router /upload [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "File size exceeds maximum allowed limit")
			return
		}
		abortWithError(c, http.StatusBadRequest, "Request must be multipart/form-data: "+err.Error())
		return
	}

	files, err := readFileParts(form.File["files"])
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Failed to read uploaded file: "+err.Error())
		return
	}

	receipt, err := h.uploadService.ProcessUpload(c.Request.Context(), files, firstValue(form.Value, "promptDescription"))
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			abortWithError(c, http.StatusBadRequest, verr.Messages()...)
			return
		}
		h.logger.Error("upload failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Failed to process upload request")
		return
	}

	respondData(c, http.StatusAccepted, receipt)
}

func readFileParts(headers []*multipart.FileHeader) ([]domain.FilePart, error) {
	parts := make([]domain.FilePart, 0, len(headers))
	for _, fh := range headers {
		content, err := readFileHeader(fh)
		if err != nil {
			return nil, err
		}
		parts = append(parts, domain.NewFilePart(fh.Filename, fh.Header.Get("Content-Type"), content))
	}
	return parts, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func firstValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
