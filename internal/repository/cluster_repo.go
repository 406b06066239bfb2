package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// ClusterStatsRepository handles cluster_stats rows.
type ClusterStatsRepository struct {
	db *gorm.DB
}

// NewClusterStatsRepository creates a new ClusterStatsRepository.
func NewClusterStatsRepository(db *gorm.DB) *ClusterStatsRepository {
	return &ClusterStatsRepository{db: db}
}

// CreateBatch inserts the per-cluster summaries of a dataset.
func (r *ClusterStatsRepository) CreateBatch(ctx context.Context, stats []domain.ClusterStats) error {
	if len(stats) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&stats).Error; err != nil {
		return fmt.Errorf("failed to insert cluster stats: %w", err)
	}
	return nil
}

// ListByDataset returns every cluster of a dataset ordered by label.
func (r *ClusterStatsRepository) ListByDataset(ctx context.Context, datasetID int64) ([]domain.ClusterStats, error) {
	var stats []domain.ClusterStats
	if err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("cluster_id").Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to list cluster stats: %w", err)
	}
	return stats, nil
}

// ListByDatasetName resolves the dataset by name and optionally restricts to clusterIDs.
func (r *ClusterStatsRepository) ListByDatasetName(ctx context.Context, name string, clusterIDs []string) ([]domain.ClusterStats, error) {
	q := r.db.WithContext(ctx).
		Table("cluster_stats AS cs").
		Select("cs.*").
		Joins("JOIN sc_datasets d ON d.id = cs.dataset_id").
		Where("d.name = ?", name)
	if len(clusterIDs) > 0 {
		q = q.Where("cs.cluster_id IN ?", clusterIDs)
	}

	var stats []domain.ClusterStats
	if err := q.Order("cs.cluster_id").Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to list cluster stats: %w", err)
	}
	return stats, nil
}
