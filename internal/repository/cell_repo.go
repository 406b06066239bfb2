package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// CellRepository handles cells rows.
type CellRepository struct {
	db *gorm.DB
}

// NewCellRepository creates a new CellRepository.
func NewCellRepository(db *gorm.DB) *CellRepository {
	return &CellRepository{db: db}
}

// CreateBatch inserts one batch of cells in a single statement.
func (r *CellRepository) CreateBatch(ctx context.Context, cells []domain.Cell) error {
	if len(cells) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&cells).Error; err != nil {
		return fmt.Errorf("failed to insert cells: %w", err)
	}
	return nil
}

// IDsByBarcode maps every barcode of a dataset to its cell ID.
func (r *CellRepository) IDsByBarcode(ctx context.Context, datasetID int64) (map[string]int64, error) {
	var rows []struct {
		ID          int64
		CellBarcode string
	}
	err := r.db.WithContext(ctx).Model(&domain.Cell{}).
		Select("id", "cell_barcode").
		Where("dataset_id = ?", datasetID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cell ids: %w", err)
	}
	ids := make(map[string]int64, len(rows))
	for _, row := range rows {
		ids[row.CellBarcode] = row.ID
	}
	return ids, nil
}

// ListByDataset returns the cells of a dataset in insertion order.
func (r *CellRepository) ListByDataset(ctx context.Context, datasetID int64) ([]domain.Cell, error) {
	var cells []domain.Cell
	if err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("id").Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	return cells, nil
}

// CountByDataset counts the cells of a dataset.
func (r *CellRepository) CountByDataset(ctx context.Context, datasetID int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Cell{}).Where("dataset_id = ?", datasetID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count cells: %w", err)
	}
	return count, nil
}
