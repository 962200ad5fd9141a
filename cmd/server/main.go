package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alcyxob/artifact-relay/internal/api"
	"alcyxob/artifact-relay/internal/config"
	"alcyxob/artifact-relay/internal/logging"
	"alcyxob/artifact-relay/internal/repository"
	"alcyxob/artifact-relay/internal/repository/mongo"
	"alcyxob/artifact-relay/internal/service"
	"alcyxob/artifact-relay/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "artifact-relay",
		Short:        "Relay uploads to the n8n processor and store the PDFs it returns",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	rootCmd.AddCommand(newSendCmd(&configPath))
	rootCmd.AddCommand(newTokenCmd(&configPath))
	return rootCmd
}

// loadRuntime reads the configuration and builds the process logger.
func loadRuntime(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting artifact relay", zap.String("address", cfg.Server.Address))

	// --- Storage ---
	fileStorage, err := storage.New(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		logger.Error("storage init failed", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		return err
	}
	suffix, err := storage.NewSuffixGenerator(cfg.Storage.Suffix)
	if err != nil {
		return err
	}

	// --- Optional ledger ---
	var ledger repository.ArtifactRepository
	if cfg.Database.Enabled {
		dbClient, err := mongo.ConnectDB(ctx, cfg.Database.URI)
		if err != nil {
			logger.Error("mongodb connect failed", zap.Error(err))
			return err
		}
		defer func() {
			logger.Info("disconnecting mongodb")
			if err := mongo.DisconnectDB(dbClient); err != nil {
				logger.Error("mongodb disconnect failed", zap.Error(err))
			}
		}()
		appDB := dbClient.Database(cfg.Database.Name)

		go func() {
			indexCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := mongo.EnsureArtifactIndexes(indexCtx, mongo.ArtifactCollection(appDB)); err != nil {
				logger.Warn("artifact index creation failed", zap.Error(err))
			}
		}()
		ledger = mongo.NewMongoArtifactRepository(appDB)
		logger.Info("artifact ledger enabled", zap.String("database", cfg.Database.Name))
	}

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.MustNewMetrics(registry)

	// --- Services ---
	tracker := service.NewTracker(cfg.Correlation, metrics, logger)
	dispatcher := service.NewHTTPDispatcher(cfg.Processor, nil, logger)
	uploadService := service.NewUploadService(
		service.NewIdentityGenerator(),
		dispatcher,
		service.NewLogFailureSink(logger, metrics),
		tracker,
		metrics,
		logger,
	)
	callbackService := service.NewCallbackService(fileStorage, service.CallbackOptions{
		BaseDir: cfg.Storage.BaseDir,
		Suffix:  suffix,
		Ledger:  ledger,
		Tracker: tracker,
		Metrics: metrics,
		Logger:  logger,
	})
	artifactService := service.NewArtifactService(fileStorage, ledger)

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	routerCfg := api.RouterConfig{
		CallbackSecret:   cfg.Callback.JWTSecret,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		MaxCallbackBytes: cfg.Callback.MaxBodyBytes,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}
	router := api.NewRouter(routerCfg, logger)
	api.SetupRoutes(router, routerCfg, logger, uploadService, callbackService, artifactService)
	if cfg.Callback.JWTSecret == "" {
		logger.Warn("callback and artifact endpoints are unauthenticated; set callback.jwt_secret to require a bearer token")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error("http server failed", zap.Error(err))
			return err
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	// Accepted uploads keep forwarding after the listener closes.
	if err := uploadService.Wait(shutdownCtx); err != nil {
		logger.Warn("in-flight dispatches abandoned", zap.Error(err))
	}
	logger.Info("server exiting")
	return nil
}
