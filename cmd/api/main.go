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

	"github.com/timmy/kmap/internal/api"
	"github.com/timmy/kmap/internal/config"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/service"
	"github.com/timmy/kmap/internal/source/fetch"
	"github.com/timmy/kmap/internal/storage"
)

func main() {
	// CONFIG_PATH selects the config file in production deployments.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		ServiceName: "kmap-api",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	store := repository.NewStore(db)

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if objectStorage == nil {
		appLogger.Info("Object storage not configured, s3:// imports are disabled")
	}
	resolver := fetch.NewResolver(cfg.Import.WorkDir, objectStorage, cfg.Import.DownloadTimeout)

	tracker := service.NewProgressTracker()
	refresher := service.NewRefresher(store)
	importService := service.NewImportService(store, resolver, tracker, refresher, appLogger, service.ImportConfig{
		ClusterColumns:      cfg.Import.ClusterColumns,
		CellTypeColumn:      cfg.Import.CellTypeColumn,
		EmbeddingKey:        cfg.Import.EmbeddingKey,
		CellBatchSize:       cfg.Import.CellBatchSize,
		ExpressionBatchSize: cfg.Import.ExpressionBatchSize,
		DefaultTopGenes:     cfg.Import.DefaultTopGenes,
	})
	queryService, err := service.NewQueryService(store, refresher, cfg.Query.CacheSize, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize query service")
	}

	router := api.SetupRouter(api.Dependencies{
		DB:      db,
		Queries: queryService,
		Imports: importService,
		Logger:  appLogger,
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Imports run inside requests, so give them time to commit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	appLogger.Info("Server exited")
}
