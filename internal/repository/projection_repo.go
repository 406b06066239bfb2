package repository

import (
	"context"
	"fmt"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// projectionSelect is the join the projection is rebuilt from. It holds no state of its own.
const projectionSelect = `SELECT c.id AS cell_id, c.dataset_id, d.name AS dataset_name, c.cell_barcode,
       c.umap_1, c.umap_2, c.cluster_id, c.cell_type, c.metadata, cs.cluster_color
FROM cells c
JOIN sc_datasets d ON d.id = c.dataset_id
LEFT JOIN cluster_stats cs ON cs.dataset_id = c.dataset_id AND cs.cluster_id = c.cluster_id
WHERE d.processing_status = 'completed'`

const projectionColumns = `cell_id, dataset_id, dataset_name, cell_barcode, umap_1, umap_2, cluster_id, cell_type, metadata, cluster_color`

// The unique cell_id index is what allows REFRESH ... CONCURRENTLY on postgres.
var projectionIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_umap_view_cell_id ON umap_view (cell_id)`,
	`CREATE INDEX IF NOT EXISTS idx_umap_view_dataset_name ON umap_view (dataset_name)`,
	`CREATE INDEX IF NOT EXISTS idx_umap_view_dataset_cluster ON umap_view (dataset_name, cluster_id)`,
	`CREATE INDEX IF NOT EXISTS idx_umap_view_dataset_coords ON umap_view (dataset_name, umap_1, umap_2)`,
}

// ProjectionRepository owns the read-optimized umap_view projection.
// On postgres it is a materialized view; sqlite has none, so it is a table
// rebuilt inside one transaction, which readers see atomically.
type ProjectionRepository struct {
	db *gorm.DB
}

// NewProjectionRepository creates a new ProjectionRepository.
func NewProjectionRepository(db *gorm.DB) *ProjectionRepository {
	return &ProjectionRepository{db: db}
}

// Ensure creates the projection and its indexes if they do not exist yet.
func (r *ProjectionRepository) Ensure(ctx context.Context) error {
	db := r.db.WithContext(ctx)

	var stmts []string
	switch dialect(r.db) {
	case dialectPostgres:
		stmts = append(stmts, "CREATE MATERIALIZED VIEW IF NOT EXISTS umap_view AS "+projectionSelect+" WITH DATA")
	default:
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS umap_view (
	cell_id INTEGER NOT NULL,
	dataset_id INTEGER NOT NULL,
	dataset_name TEXT NOT NULL,
	cell_barcode TEXT NOT NULL,
	umap_1 REAL NOT NULL,
	umap_2 REAL NOT NULL,
	cluster_id TEXT,
	cell_type TEXT,
	metadata JSON,
	cluster_color TEXT
)`)
	}
	stmts = append(stmts, projectionIndexes...)

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create projection: %w", err)
		}
	}
	return nil
}

// Refresh rebuilds the projection from the base tables.
func (r *ProjectionRepository) Refresh(ctx context.Context) error {
	if dialect(r.db) == dialectPostgres {
		return r.db.WithContext(ctx).Exec("REFRESH MATERIALIZED VIEW CONCURRENTLY umap_view").Error
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM umap_view").Error; err != nil {
			return err
		}
		return tx.Exec("INSERT INTO umap_view (" + projectionColumns + ") " + projectionSelect).Error
	})
}

// PointsQuery selects projection rows of one dataset.
type PointsQuery struct {
	DatasetName string
	ClusterIDs  []string
	// SampleRate in (0,1) keeps each row independently with that probability; 0 and 1 keep all.
	SampleRate float64
}

// Points returns the projection rows of a dataset ordered by cell ID.
func (r *ProjectionRepository) Points(ctx context.Context, q PointsQuery) ([]domain.UMAPPoint, error) {
	db := r.db.WithContext(ctx).Where("dataset_name = ?", q.DatasetName)
	if len(q.ClusterIDs) > 0 {
		db = db.Where("cluster_id IN ?", q.ClusterIDs)
	}
	if q.SampleRate > 0 && q.SampleRate < 1 {
		db = db.Where(r.randomFraction()+" < ?", q.SampleRate)
	}

	var points []domain.UMAPPoint
	if err := db.Order("cell_id").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to query projection: %w", err)
	}
	return points, nil
}

// Bounds is an inclusive rectangle in embedding space.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Region returns the projection rows of a dataset inside b.
func (r *ProjectionRepository) Region(ctx context.Context, datasetName string, b Bounds) ([]domain.UMAPPoint, error) {
	var points []domain.UMAPPoint
	err := r.db.WithContext(ctx).
		Where("dataset_name = ?", datasetName).
		Where("umap_1 BETWEEN ? AND ?", b.MinX, b.MaxX).
		Where("umap_2 BETWEEN ? AND ?", b.MinY, b.MaxY).
		Order("cell_id").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query projection region: %w", err)
	}
	return points, nil
}

// CountByDataset counts the projection rows of a dataset.
func (r *ProjectionRepository) CountByDataset(ctx context.Context, datasetName string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.UMAPPoint{}).Where("dataset_name = ?", datasetName).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count projection rows: %w", err)
	}
	return count, nil
}

// randomFraction yields a per-row uniform value in [0,1).
func (r *ProjectionRepository) randomFraction() string {
	if dialect(r.db) == dialectPostgres {
		return "random()"
	}
	return "((ABS(RANDOM()) % 1000000) / 1000000.0)"
}
