package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/service"
)

// DatasetHandler serves the read-only visualization endpoints.
type DatasetHandler struct {
	queries *service.QueryService
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(queries *service.QueryService) *DatasetHandler {
	return &DatasetHandler{queries: queries}
}

// ListDatasets handles GET /datasets.
func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	datasets, err := h.queries.ListDatasets(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, datasets)
}

// GetDataset handles GET /datasets/:name.
func (h *DatasetHandler) GetDataset(c *gin.Context) {
	summary, err := h.queries.Summary(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// UMAP handles GET /umap/:name?cluster_ids=a,b&sample_rate=0.1.
// No cells and no clusters means the dataset does not exist in the projection.
func (h *DatasetHandler) UMAP(c *gin.Context) {
	name := c.Param("name")
	rate, err := queryFloat(c, "sample_rate", 0)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := h.queries.UMAP(c.Request.Context(), service.UMAPQuery{
		DatasetName: name,
		ClusterIDs:  splitList(c.Query("cluster_ids")),
		SampleRate:  rate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if len(data.Cells) == 0 && len(data.Clusters) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Dataset '%s' not found", name)})
		return
	}
	c.JSON(http.StatusOK, data)
}

// Region handles GET /umap/:name/region with inclusive bounds on both axes.
func (h *DatasetHandler) Region(c *gin.Context) {
	var b repository.Bounds
	var err error
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"umap1_min", &b.MinX},
		{"umap1_max", &b.MaxX},
		{"umap2_min", &b.MinY},
		{"umap2_max", &b.MaxY},
	} {
		if *p.dst, err = requiredFloat(c, p.name); err != nil {
			respondError(c, err)
			return
		}
	}

	points, err := h.queries.Region(c.Request.Context(), c.Param("name"), b)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": points, "total_cells": len(points)})
}

// Markers handles GET /markers/:name?cluster_id=&top_n=.
func (h *DatasetHandler) Markers(c *gin.Context) {
	topN, err := queryInt(c, "top_n")
	if err != nil {
		respondError(c, err)
		return
	}
	markers, err := h.queries.Markers(c.Request.Context(), c.Param("name"), c.Query("cluster_id"), topN)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, markers)
}

// Clusters handles GET /clusters/:name.
func (h *DatasetHandler) Clusters(c *gin.Context) {
	rows, err := h.queries.Composition(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ClusterGenes handles GET /clusters/:name/:cluster_id/genes?min_log2fc=&max_pvalue=.
func (h *DatasetHandler) ClusterGenes(c *gin.Context) {
	minFC, err := queryFloat(c, "min_log2fc", service.DefaultMinLog2FC)
	if err != nil {
		respondError(c, err)
		return
	}
	maxP, err := queryFloat(c, "max_pvalue", service.DefaultMaxPValue)
	if err != nil {
		respondError(c, err)
		return
	}

	genes, err := h.queries.ClusterGenes(c.Request.Context(), c.Param("name"), c.Param("cluster_id"), minFC, maxP)
	if err != nil {
		respondError(c, err)
		return
	}
	if genes == nil {
		genes = []repository.MarkerGeneWithMean{}
	}
	c.JSON(http.StatusOK, genes)
}

// Expression handles GET /expression/:name/:gene.
func (h *DatasetHandler) Expression(c *gin.Context) {
	overlay, err := h.queries.Overlay(c.Request.Context(), c.Param("name"), c.Param("gene"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overlay)
}

// SearchGenes handles GET /genes/:name/search?q=&limit=.
func (h *DatasetHandler) SearchGenes(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	genes, err := h.queries.SearchGenes(c.Request.Context(), c.Param("name"), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, genes)
}
