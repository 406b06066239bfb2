package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// ExpressionRepository handles the sparse gene_expression fact table.
type ExpressionRepository struct {
	db *gorm.DB
}

// NewExpressionRepository creates a new ExpressionRepository.
func NewExpressionRepository(db *gorm.DB) *ExpressionRepository {
	return &ExpressionRepository{db: db}
}

// OverlayCell is one cell with its expression for a single gene, zero when no row exists.
type OverlayCell struct {
	CellID      int64   `json:"cell_id"`
	CellBarcode string  `json:"cell_barcode"`
	UMAP1       float64 `gorm:"column:umap_1" json:"umap_1"`
	UMAP2       float64 `gorm:"column:umap_2" json:"umap_2"`
	ClusterID   *string `json:"cluster_id"`
	Expression  float64 `json:"expression"`
}

// insertChunk keeps one INSERT under sqlite's bind variable limit (4 columns per row).
const insertChunk = 4000

// CreateBatch inserts one batch of expression rows.
func (r *ExpressionRepository) CreateBatch(ctx context.Context, rows []domain.GeneExpression) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&rows, insertChunk).Error; err != nil {
		return fmt.Errorf("failed to insert gene expression: %w", err)
	}
	return nil
}

// Overlay returns every cell of the dataset with its value for geneID.
// The LEFT JOIN keeps cells without a sparse row; COALESCE turns them into 0.
func (r *ExpressionRepository) Overlay(ctx context.Context, datasetID, geneID int64) ([]OverlayCell, error) {
	var cells []OverlayCell
	err := r.db.WithContext(ctx).
		Table("cells AS c").
		Select("c.id AS cell_id, c.cell_barcode, c.umap_1, c.umap_2, c.cluster_id, COALESCE(ge.expression_value, 0) AS expression").
		Joins("LEFT JOIN gene_expression ge ON ge.cell_id = c.id AND ge.gene_id = ?", geneID).
		Where("c.dataset_id = ?", datasetID).
		Order("c.id").
		Scan(&cells).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expression overlay: %w", err)
	}
	return cells, nil
}

// CountByDataset counts the stored nonzero entries of a dataset.
func (r *ExpressionRepository) CountByDataset(ctx context.Context, datasetID int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.GeneExpression{}).Where("dataset_id = ?", datasetID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count gene expression: %w", err)
	}
	return count, nil
}
