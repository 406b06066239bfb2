package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// DatasetRepository handles sc_datasets rows.
type DatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// Create inserts a new dataset row and fills in its ID.
func (r *DatasetRepository) Create(ctx context.Context, dataset *domain.Dataset) error {
	if err := r.db.WithContext(ctx).Create(dataset).Error; err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

// GetByName retrieves a dataset by its unique name.
// Returns a *domain.NotFoundError when no row matches.
func (r *DatasetRepository) GetByName(ctx context.Context, name string) (*domain.Dataset, error) {
	var dataset domain.Dataset
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&dataset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "dataset", Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return &dataset, nil
}

// ExistsByName checks if a dataset with the given name exists.
func (r *DatasetRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Dataset{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check dataset: %w", err)
	}
	return count > 0, nil
}

// List returns all datasets, newest first.
func (r *DatasetRepository) List(ctx context.Context) ([]domain.Dataset, error) {
	var datasets []domain.Dataset
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

// UpdateProgress stores the running imported_cells counter.
func (r *DatasetRepository) UpdateProgress(ctx context.Context, id int64, importedCells int) error {
	err := r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Where("id = ?", id).
		Update("imported_cells", importedCells).Error
	if err != nil {
		return fmt.Errorf("failed to update import progress: %w", err)
	}
	return nil
}

// UpdateStatus moves the dataset to a new processing status.
func (r *DatasetRepository) UpdateStatus(ctx context.Context, id int64, status domain.DatasetStatus) error {
	err := r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Where("id = ?", id).
		Update("processing_status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update dataset status: %w", err)
	}
	return nil
}

// DeleteByName removes a dataset; foreign keys cascade to every child table.
// Returns a *domain.NotFoundError when nothing was deleted.
func (r *DatasetRepository) DeleteByName(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Where("name = ?", name).Delete(&domain.Dataset{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete dataset: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &domain.NotFoundError{Kind: "dataset", Name: name}
	}
	return nil
}
