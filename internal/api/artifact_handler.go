package api

import (
	"errors"
	"net/http"
	"strings"

	"alcyxob/artifact-relay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ArtifactHandler serves lookups of committed artifacts.
type ArtifactHandler struct {
	artifactService service.ArtifactService
	logger          *zap.Logger
}

// NewArtifactHandler creates a new ArtifactHandler.
func NewArtifactHandler(artifactService service.ArtifactService, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{artifactService: artifactService, logger: logger}
}

// FindArtifact reports whether a storage key exists and where it lives.
func (h *ArtifactHandler) FindArtifact(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	found, err := h.artifactService.Find(c.Request.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			abortWithError(c, http.StatusBadRequest, "Invalid artifact key")
		case errors.Is(err, service.ErrArtifactNotFound):
			abortWithError(c, http.StatusNotFound, "Artifact not found")
		default:
			h.logger.Error("artifact lookup failed", zap.String("key", key), zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "Failed to look up artifact")
		}
		return
	}
	respondData(c, http.StatusOK, found)
}

// ArtifactsForRequest lists the artifacts recorded for one request id.
func (h *ArtifactHandler) ArtifactsForRequest(c *gin.Context) {
	requestID := c.Param("requestId")

	artifacts, err := h.artifactService.ForRequest(c.Request.Context(), requestID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLedgerDisabled):
			abortWithError(c, http.StatusNotImplemented, "Artifact ledger is not enabled")
		case errors.Is(err, service.ErrValidation):
			abortWithError(c, http.StatusBadRequest, "Invalid request id")
		default:
			h.logger.Error("ledger lookup failed", zap.String("requestId", requestID), zap.Error(err))
			abortWithError(c, http.StatusInternalServerError, "Failed to list artifacts")
		}
		return
	}
	respondData(c, http.StatusOK, artifacts)
}
