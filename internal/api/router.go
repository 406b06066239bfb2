package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/kmap/internal/api/handler"
	"github.com/timmy/kmap/internal/api/middleware"
	"github.com/timmy/kmap/internal/config"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/service"
	"gorm.io/gorm"
)

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	DB      *gorm.DB
	Queries *service.QueryService
	Imports *service.ImportService
	Logger  *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, cfg *config.Config) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.Server.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB)
	datasetHandler := handler.NewDatasetHandler(deps.Queries)
	adminHandler := handler.NewAdminHandler(deps.Imports, deps.Logger)

	r.GET("/health", healthHandler.Health)

	sc := r.Group("/api/v1/sc")
	{
		sc.GET("/datasets", datasetHandler.ListDatasets)
		sc.GET("/datasets/:name", datasetHandler.GetDataset)

		sc.GET("/umap/:name", datasetHandler.UMAP)
		sc.GET("/umap/:name/region", datasetHandler.Region)

		sc.GET("/markers/:name", datasetHandler.Markers)
		sc.GET("/clusters/:name", datasetHandler.Clusters)
		sc.GET("/clusters/:name/:cluster_id/genes", datasetHandler.ClusterGenes)

		sc.GET("/expression/:name/:gene", datasetHandler.Expression)
		sc.GET("/genes/:name/search", datasetHandler.SearchGenes)
	}

	admin := sc.Group("/admin", middleware.AdminToken(cfg.Admin.Token))
	{
		admin.POST("/import", adminHandler.Import)
		admin.POST("/import/overwrite", adminHandler.ImportOverwrite)
		admin.DELETE("/datasets/:name", adminHandler.DeleteDataset)
		admin.GET("/datasets/:name/status", adminHandler.ImportStatus)
		admin.POST("/refresh-view", adminHandler.RefreshView)
	}

	return r
}
