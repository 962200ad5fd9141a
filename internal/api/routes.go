package api

import (
	"net/http"

	"alcyxob/artifact-relay/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig carries the HTTP-level settings of the relay.
type RouterConfig struct {
	// CallbackSecret enables bearer JWT checks on the webhook and the artifact lookups when set.
	CallbackSecret   string
	MaxUploadBytes   int64
	MaxCallbackBytes int64
	AllowedOrigins   []string
	// MetricsHandler is mounted on /metrics when non-nil.
	MetricsHandler http.Handler
}

// NewRouter builds the gin engine with recovery, access logging and optional CORS.
func NewRouter(cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger.Named("http")))

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		router.Use(cors.New(corsConfig))
	}
	return router
}

func SetupRoutes(
	router *gin.Engine,
	cfg RouterConfig,
	logger *zap.Logger,
	uploadService service.UploadService,
	callbackService service.CallbackService,
	artifactService service.ArtifactService,
) {
	uploadHandler := NewUploadHandler(uploadService, logger)
	callbackHandler := NewCallbackHandler(callbackService, logger)
	artifactHandler := NewArtifactHandler(artifactService, logger)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	// Callbacks and artifact lookups share the bearer check; lookups can hand out download links.
	var authenticated []gin.HandlerFunc
	if cfg.CallbackSecret != "" {
		authenticated = append(authenticated, CallbackAuthMiddleware(cfg.CallbackSecret))
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/upload", LimitBody(cfg.MaxUploadBytes), uploadHandler.Upload)

		webhook := apiGroup.Group("/webhook", authenticated...)
		webhook.POST("/n8n-response", LimitBody(cfg.MaxCallbackBytes), callbackHandler.HandleCallback)

		lookup := apiGroup.Group("", authenticated...)
		lookup.GET("/artifacts/*key", artifactHandler.FindArtifact)
		lookup.GET("/requests/:requestId/artifacts", artifactHandler.ArtifactsForRequest)
	}
}
