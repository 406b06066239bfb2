package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/kmap/internal/config"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/service"
	"github.com/timmy/kmap/internal/source/fetch"
	"github.com/timmy/kmap/internal/storage"
)

const usage = `Usage: kmap-import <command> [flags]

Commands:
  import   -source <dir|archive|s3://|http(s)://> -name <dataset> [-overwrite] [-expression] [-top-genes N]
  delete   -name <dataset>
  refresh  rebuild the umap_view projection
  status   -name <dataset>

Every command accepts -config <path>.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Dataset name")
	location := fs.String("source", "", "Zarr directory, .tar/.tar.gz/.tar.zst archive, s3:// or http(s):// URL")
	overwrite := fs.Bool("overwrite", false, "Replace an existing dataset of the same name")
	expression := fs.Bool("expression", false, "Import expression values of highly variable genes")
	topGenes := fs.Int("top-genes", 0, "Marker genes kept per cluster (0 uses the configured default)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		ServiceName: "kmap-import",
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
	resolver := fetch.NewResolver(cfg.Import.WorkDir, objectStorage, cfg.Import.DownloadTimeout)

	importService := service.NewImportService(store, resolver, service.NewProgressTracker(), service.NewRefresher(store), appLogger, service.ImportConfig{
		ClusterColumns:      cfg.Import.ClusterColumns,
		CellTypeColumn:      cfg.Import.CellTypeColumn,
		EmbeddingKey:        cfg.Import.EmbeddingKey,
		CellBatchSize:       cfg.Import.CellBatchSize,
		ExpressionBatchSize: cfg.Import.ExpressionBatchSize,
		DefaultTopGenes:     cfg.Import.DefaultTopGenes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "import":
		requireName(appLogger, *name)
		result := importService.Import(ctx, service.ImportRequest{
			Location:         *location,
			Name:             *name,
			Overwrite:        *overwrite,
			ImportExpression: *expression,
			TopGenes:         *topGenes,
		})
		printJSON(result)
		if !result.Success {
			os.Exit(1)
		}

	case "delete":
		requireName(appLogger, *name)
		if err := importService.DeleteDataset(ctx, *name); err != nil {
			appLogger.WithError(err).WithField("dataset", *name).Fatal("Failed to delete dataset")
		}
		appLogger.WithField("dataset", *name).Info("Dataset deleted")

	case "refresh":
		if err := importService.RefreshProjection(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to refresh projection")
		}
		appLogger.Info("Projection refreshed")

	case "status":
		requireName(appLogger, *name)
		status, err := importService.ImportStatus(ctx, *name)
		if err != nil {
			appLogger.WithError(err).WithField("dataset", *name).Fatal("Failed to get import status")
		}
		printJSON(status)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func requireName(log *logger.Logger, name string) {
	if name == "" {
		log.Fatal("-name is required")
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
