package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/timmy/kmap/internal/cache"
	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
)

// Query limits and defaults.
const (
	DefaultMarkerTopN  = 25
	MaxMarkerTopN      = 200
	DefaultMinLog2FC   = 0.5
	DefaultMaxPValue   = 0.05
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// ClusterComposition is one cluster's share of a dataset.
type ClusterComposition struct {
	ClusterID    string  `json:"cluster_id"`
	CellCount    int     `json:"cell_count"`
	Percentage   float64 `json:"percentage"`
	MeanUMAP1    float64 `json:"mean_umap_1"`
	MeanUMAP2    float64 `json:"mean_umap_2"`
	ClusterColor *string `json:"cluster_color"`
}

// DatasetSummary combines a dataset with its composition and gene counts.
type DatasetSummary struct {
	Dataset             domain.Dataset       `json:"dataset"`
	Clusters            []ClusterComposition `json:"clusters"`
	TotalGenes          int64                `json:"total_genes"`
	HighlyVariableGenes int64                `json:"highly_variable_genes"`
}

// UMAPQuery selects embedding points of a dataset.
type UMAPQuery struct {
	DatasetName string
	ClusterIDs  []string
	// SampleRate in (0,1) keeps each cell independently; 0 and 1 keep every cell.
	SampleRate float64
}

// UMAPData is the visualization payload. Both slices are empty when the dataset is unknown.
type UMAPData struct {
	Cells         []domain.UMAPPoint    `json:"cells"`
	Clusters      []domain.ClusterStats `json:"clusters"`
	TotalCells    int                   `json:"total_cells"`
	QueryDuration time.Duration         `json:"-"`
	QueryTimeMs   float64               `json:"query_time_ms"`
}

// ExpressionOverlay is one gene's value on every cell. Found is false when the
// dataset has no such gene, which is distinct from a gene expressed nowhere.
type ExpressionOverlay struct {
	GeneSymbol string                   `json:"gene_symbol"`
	Found      bool                     `json:"found"`
	Cells      []repository.OverlayCell `json:"cells"`
	Statistics *ExpressionStats         `json:"statistics,omitempty"`
}

// QueryService answers read-only visualization queries.
type QueryService struct {
	store     *repository.Store
	overlays  *cache.Store[*ExpressionOverlay]
	summaries *cache.Store[*DatasetSummary]
	logger    *logger.Logger

	// beforeCache runs between the reads and the cache write; tests use it.
	beforeCache func()
}

// NewQueryService creates a query service whose caches are dropped on every
// projection refresh. cacheSize <= 0 disables caching.
func NewQueryService(store *repository.Store, refresher *Refresher, cacheSize int, log *logger.Logger) (*QueryService, error) {
	overlays, err := cache.New[*ExpressionOverlay](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay cache: %w", err)
	}
	summaries, err := cache.New[*DatasetSummary](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}

	s := &QueryService{
		store:     store,
		overlays:  overlays,
		summaries: summaries,
		logger:    log,
	}
	if refresher != nil {
		refresher.OnRefresh(s.invalidate)
	}
	return s, nil
}

func (s *QueryService) invalidate(dataset string) {
	if dataset == "" {
		s.overlays.Purge()
		s.summaries.Purge()
		return
	}
	s.overlays.InvalidateDataset(dataset)
	s.summaries.InvalidateDataset(dataset)
}

func (s *QueryService) runBeforeCache() {
	if s.beforeCache != nil {
		s.beforeCache()
	}
}

// ListDatasets returns every dataset, newest first.
func (s *QueryService) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	return s.store.Datasets.List(ctx)
}

// Summary returns a dataset with its cluster composition and gene counts.
func (s *QueryService) Summary(ctx context.Context, name string) (*DatasetSummary, error) {
	key := cache.Key(name)
	if cached, ok := s.summaries.Get(key); ok {
		return cached, nil
	}
	gen := s.summaries.Generation()

	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	clusters, err := s.composition(ctx, dataset)
	if err != nil {
		return nil, err
	}
	total, hvg, err := s.store.Genes.Counts(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	summary := &DatasetSummary{
		Dataset:             *dataset,
		Clusters:            clusters,
		TotalGenes:          total,
		HighlyVariableGenes: hvg,
	}
	// Only finished datasets are stable enough to cache.
	if dataset.ProcessingStatus == domain.DatasetStatusCompleted {
		s.runBeforeCache()
		s.summaries.AddIfCurrent(key, summary, gen)
	}
	return summary, nil
}

// Composition returns each cluster's share of the dataset's declared cells.
func (s *QueryService) Composition(ctx context.Context, name string) ([]ClusterComposition, error) {
	summary, err := s.Summary(ctx, name)
	if err != nil {
		return nil, err
	}
	return summary.Clusters, nil
}

func (s *QueryService) composition(ctx context.Context, dataset *domain.Dataset) ([]ClusterComposition, error) {
	stats, err := s.store.Clusters.ListByDataset(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	out := make([]ClusterComposition, 0, len(stats))
	for _, cs := range stats {
		pct := 0.0
		if dataset.NCells > 0 {
			pct = domain.Round2(float64(cs.CellCount) * 100 / float64(dataset.NCells))
		}
		out = append(out, ClusterComposition{
			ClusterID:    cs.ClusterID,
			CellCount:    cs.CellCount,
			Percentage:   pct,
			MeanUMAP1:    cs.MeanUMAP1,
			MeanUMAP2:    cs.MeanUMAP2,
			ClusterColor: cs.ClusterColor,
		})
	}
	return out, nil
}

// UMAP reads embedding points from the projection together with the matching
// cluster summaries. Unknown datasets yield empty slices, not an error.
func (s *QueryService) UMAP(ctx context.Context, q UMAPQuery) (*UMAPData, error) {
	if q.SampleRate < 0 || q.SampleRate > 1 || math.IsNaN(q.SampleRate) {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("sample_rate must be in [0, 1], got %v", q.SampleRate)}
	}

	start := time.Now()
	cells, err := s.store.Projection.Points(ctx, repository.PointsQuery{
		DatasetName: q.DatasetName,
		ClusterIDs:  q.ClusterIDs,
		SampleRate:  q.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	clusters, err := s.store.Clusters.ListByDatasetName(ctx, q.DatasetName, q.ClusterIDs)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	logger.With(logger.Fields{
		logger.FieldDataset: q.DatasetName,
		"sample_rate":       q.SampleRate,
	}).WithCount(len(cells)).WithDuration(start).Debug(ctx, "UMAP query")

	return &UMAPData{
		Cells:         cells,
		Clusters:      clusters,
		TotalCells:    len(cells),
		QueryDuration: elapsed,
		QueryTimeMs:   float64(elapsed.Microseconds()) / 1000,
	}, nil
}

// Region returns the projection points inside an inclusive bounding box.
func (s *QueryService) Region(ctx context.Context, name string, b repository.Bounds) ([]domain.UMAPPoint, error) {
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return nil, &domain.ValidationError{Reason: "region minimum must not exceed maximum"}
	}
	return s.store.Projection.Region(ctx, name, b)
}

// Markers returns ranked marker genes, optionally for one cluster, with rank <= topN.
func (s *QueryService) Markers(ctx context.Context, name, clusterID string, topN int) ([]domain.MarkerGene, error) {
	topN, err := clampLimit("top_n", topN, DefaultMarkerTopN, MaxMarkerTopN)
	if err != nil {
		return nil, err
	}
	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.Markers.List(ctx, dataset.ID, clusterID, topN)
}

// ClusterGenes returns one cluster's markers passing the fold-change and
// adjusted p-value thresholds, strongest first.
func (s *QueryService) ClusterGenes(ctx context.Context, name, clusterID string, minLog2FC, maxPValue float64) ([]repository.MarkerGeneWithMean, error) {
	if maxPValue <= 0 || maxPValue > 1 {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf("max_pvalue must be in (0, 1], got %v", maxPValue)}
	}
	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	genes, err := s.store.Markers.Significant(ctx, dataset.ID, clusterID, minLog2FC, maxPValue)
	if err != nil {
		return nil, err
	}
	if len(genes) == 0 {
		known, err := s.clusterExists(ctx, dataset, clusterID)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, &domain.NotFoundError{Kind: "cluster", Name: clusterID}
		}
	}
	return genes, nil
}

func (s *QueryService) clusterExists(ctx context.Context, dataset *domain.Dataset, clusterID string) (bool, error) {
	stats, err := s.store.Clusters.ListByDatasetName(ctx, dataset.Name, []string{clusterID})
	if err != nil {
		return false, err
	}
	if len(stats) > 0 {
		return true, nil
	}
	markers, err := s.store.Markers.List(ctx, dataset.ID, clusterID, 1)
	if err != nil {
		return false, err
	}
	return len(markers) > 0, nil
}

// Overlay returns a gene's expression on every cell, zero-filled, plus
// statistics over all cells. An unknown gene gives Found=false without error.
func (s *QueryService) Overlay(ctx context.Context, name, symbol string) (*ExpressionOverlay, error) {
	key := cache.Key(name, symbol)
	if cached, ok := s.overlays.Get(key); ok {
		return cached, nil
	}
	gen := s.overlays.Generation()

	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	gene, err := s.store.Genes.GetBySymbol(ctx, dataset.ID, symbol)
	if domain.IsNotFound(err) {
		return &ExpressionOverlay{GeneSymbol: symbol, Found: false, Cells: []repository.OverlayCell{}}, nil
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cells, err := s.store.Expression.Overlay(ctx, dataset.ID, gene.ID)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(cells))
	for i, c := range cells {
		values[i] = c.Expression
	}
	stats := computeExpressionStats(values)

	overlay := &ExpressionOverlay{
		GeneSymbol: gene.GeneSymbol,
		Found:      true,
		Cells:      cells,
		Statistics: &stats,
	}
	if dataset.ProcessingStatus == domain.DatasetStatusCompleted {
		s.runBeforeCache()
		s.overlays.AddIfCurrent(key, overlay, gen)
	}

	logger.With(logger.Fields{logger.FieldDataset: name, "gene": symbol}).
		WithCount(len(cells)).
		WithDuration(start).
		Debug(ctx, "Expression overlay computed")
	return overlay, nil
}

// SearchGenes matches symbols by case-insensitive substring.
func (s *QueryService) SearchGenes(ctx context.Context, name, query string, limit int) ([]domain.Gene, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &domain.ValidationError{Reason: "search query is required"}
	}
	limit, err := clampLimit("limit", limit, DefaultSearchLimit, MaxSearchLimit)
	if err != nil {
		return nil, err
	}
	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.Genes.Search(ctx, dataset.ID, query, limit)
}

// clampLimit applies the default for 0 and rejects values outside 1..upper.
func clampLimit(field string, v, def, upper int) (int, error) {
	if v == 0 {
		return def, nil
	}
	if v < 1 || v > upper {
		return 0, &domain.ValidationError{Reason: fmt.Sprintf("%s must be within 1..%d, got %d", field, upper, v)}
	}
	return v, nil
}
