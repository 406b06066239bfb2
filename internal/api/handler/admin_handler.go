package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/service"
)

// AdminHandler handles admin operations.
type AdminHandler struct {
	imports *service.ImportService
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - imports: import service instance.
//   - log: logger instance.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(imports *service.ImportService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		imports: imports,
		logger:  log,
	}
}

// ImportRequest is the body of POST /admin/import. FilePath is accepted as an alias of Location.
type ImportRequest struct {
	Location         string `json:"location"`
	FilePath         string `json:"file_path"`
	DatasetName      string `json:"dataset_name"`
	Name             string `json:"name"`
	ImportExpression bool   `json:"import_expression"`
	NTopGenes        int    `json:"n_top_genes"`
}

// Import handles POST /admin/import.
func (h *AdminHandler) Import(c *gin.Context) {
	h.runImport(c, false)
}

// ImportOverwrite handles POST /admin/import/overwrite.
func (h *AdminHandler) ImportOverwrite(c *gin.Context) {
	h.runImport(c, true)
}

func (h *AdminHandler) runImport(c *gin.Context, overwrite bool) {
	ctx := c.Request.Context()

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid import request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	location := req.Location
	if location == "" {
		location = req.FilePath
	}
	name := req.DatasetName
	if name == "" {
		name = req.Name
	}

	logger.CtxInfo(ctx, "Received import request: dataset=%s, location=%s, overwrite=%v, expression=%v, client_ip=%s",
		name, location, overwrite, req.ImportExpression, c.ClientIP())

	// The import keeps running if the client disconnects; the transaction must not be cut short.
	result := h.imports.Import(context.WithoutCancel(ctx), service.ImportRequest{
		Location:         location,
		Name:             name,
		Overwrite:        overwrite,
		ImportExpression: req.ImportExpression,
		TopGenes:         req.NTopGenes,
	})
	if !result.Success {
		c.JSON(statusFor(result.Err), result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteDataset handles DELETE /admin/datasets/:name.
// A refresh failure after the delete answers 503; the rows are already gone.
func (h *AdminHandler) DeleteDataset(c *gin.Context) {
	name := c.Param("name")
	if err := h.imports.DeleteDataset(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RefreshView handles POST /admin/refresh-view.
func (h *AdminHandler) RefreshView(c *gin.Context) {
	if err := h.imports.RefreshProjection(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Materialized view " + domain.ProjectionName + " refreshed successfully",
	})
}

// ImportStatus handles GET /admin/datasets/:name/status.
func (h *AdminHandler) ImportStatus(c *gin.Context) {
	status, err := h.imports.ImportStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
