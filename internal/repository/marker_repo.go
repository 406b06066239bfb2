package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// MarkerGeneRepository handles marker_genes rows.
type MarkerGeneRepository struct {
	db *gorm.DB
}

// NewMarkerGeneRepository creates a new MarkerGeneRepository.
func NewMarkerGeneRepository(db *gorm.DB) *MarkerGeneRepository {
	return &MarkerGeneRepository{db: db}
}

// MarkerGeneWithMean is a marker row joined with the gene's mean expression.
type MarkerGeneWithMean struct {
	domain.MarkerGene
	MeanExpression *float64 `json:"mean_expression"`
}

// CreateBatch inserts marker genes in chunks of batchSize.
func (r *MarkerGeneRepository) CreateBatch(ctx context.Context, markers []domain.MarkerGene, batchSize int) error {
	if len(markers) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&markers, batchSize).Error; err != nil {
		return fmt.Errorf("failed to insert marker genes: %w", err)
	}
	return nil
}

// List returns markers with rank <= topN, ordered by (cluster, rank).
// An empty clusterID selects every cluster.
func (r *MarkerGeneRepository) List(ctx context.Context, datasetID int64, clusterID string, topN int) ([]domain.MarkerGene, error) {
	q := r.db.WithContext(ctx).Where("dataset_id = ? AND rank <= ?", datasetID, topN)
	if clusterID != "" {
		q = q.Where("cluster_id = ?", clusterID)
	}

	var markers []domain.MarkerGene
	if err := q.Order("cluster_id").Order("rank").Find(&markers).Error; err != nil {
		return nil, fmt.Errorf("failed to list marker genes: %w", err)
	}
	return markers, nil
}

// Significant returns the markers of one cluster passing the fold-change and adjusted p-value
// thresholds, strongest fold-change first.
func (r *MarkerGeneRepository) Significant(ctx context.Context, datasetID int64, clusterID string, minLog2FC, maxPValueAdj float64) ([]MarkerGeneWithMean, error) {
	var rows []MarkerGeneWithMean
	err := r.db.WithContext(ctx).
		Table("marker_genes AS mg").
		Select("mg.*, g.mean_expression").
		Joins("LEFT JOIN genes g ON g.dataset_id = mg.dataset_id AND g.gene_symbol = mg.gene_symbol").
		Where("mg.dataset_id = ? AND mg.cluster_id = ?", datasetID, clusterID).
		Where("mg.log2_fold_change >= ? AND mg.pvalue_adj <= ?", minLog2FC, maxPValueAdj).
		Order("mg.log2_fold_change DESC").
		Order("mg.rank").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query significant marker genes: %w", err)
	}
	return rows, nil
}
