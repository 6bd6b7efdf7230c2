package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/infrastructure/config"
	"arbor-backend/infrastructure/secrets"
	"arbor-backend/infrastructure/sessioncache"
	"arbor-backend/interfaces/http/rest"
	"arbor-backend/internal/repository"
	ddbrepo "arbor-backend/internal/repository/ddb"
	memrepo "arbor-backend/internal/repository/memory"
	"arbor-backend/internal/service/tree"
	"arbor-backend/pkg/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	metrics := observability.NewCollector("arbor")

	repo, err := newRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	store := tree.NewService(repo, logger)
	store.SetMaxDepth(cfg.Limits.MaxTreeDepth)

	// One batching context per request; the factory captures shared
	// dependencies, the middleware constructs the per-request state.
	loadersFactory := func() *loaders.Loaders {
		return loaders.New(repo, loaders.Options{
			BatchWindow:  cfg.Loader.BatchWindow,
			MaxBatchSize: cfg.Loader.MaxBatchSize,
			MaxDepth:     cfg.Limits.MaxTreeDepth,
		}, metrics, logger)
	}

	sessions, err := sessioncache.New(sessioncache.Config{
		Path:       cfg.SessionCachePath,
		InMemory:   cfg.SessionCachePath == "",
		DefaultTTL: cfg.SessionTTL,
		GCInterval: 5 * time.Minute,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open session cache", zap.Error(err))
	}
	defer sessions.Close()

	var secretsService *secrets.Service
	if cfg.MasterKey != "" {
		secretsService, err = secrets.NewService(cfg.MasterKey)
		if err != nil {
			logger.Fatal("Failed to initialize secrets service", zap.Error(err))
		}
	} else {
		logger.Info("ARBOR_MASTER_KEY not set, secret endpoints disabled")
	}

	// Dynamic configuration: loader tuning and tree limits pick up file
	// changes without a restart.
	if path := os.Getenv("DYNAMIC_CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, logger)
		if err != nil {
			logger.Warn("Dynamic configuration unavailable", zap.String("path", path), zap.Error(err))
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(dc *config.DynamicConfig) {
				if dc.Limits.MaxTreeDepth > 0 {
					store.SetMaxDepth(dc.Limits.MaxTreeDepth)
				}
				if dc.Loader.BatchWindow > 0 {
					cfg.Loader.BatchWindow = dc.Loader.BatchWindow
				}
				if dc.Loader.MaxBatchSize > 0 {
					cfg.Loader.MaxBatchSize = dc.Loader.MaxBatchSize
				}
			})
		}
	}

	// Create router
	router := rest.NewRouter(cfg, store, loadersFactory, sessions, secretsService, metrics, logger)
	handler := router.Setup()

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("storageEngine", string(cfg.StorageEngine)),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

func newRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.NodeRepository, error) {
	switch cfg.StorageEngine {
	case config.EngineDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return ddbrepo.NewRepository(client, cfg.DynamoDBTable, cfg.TagIndexName, cfg.TreeIndexName, logger), nil
	default:
		return memrepo.NewRepository(), nil
	}
}
