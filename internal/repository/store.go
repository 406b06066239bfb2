package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that share one database handle.
// Inside Transaction every repository is bound to the same transaction.
type Store struct {
	db *gorm.DB

	Datasets   *DatasetRepository
	Cells      *CellRepository
	Genes      *GeneRepository
	Markers    *MarkerGeneRepository
	Clusters   *ClusterStatsRepository
	Expression *ExpressionRepository
	Projection *ProjectionRepository
}

// NewStore creates a Store bound to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Datasets:   NewDatasetRepository(db),
		Cells:      NewCellRepository(db),
		Genes:      NewGeneRepository(db),
		Markers:    NewMarkerGeneRepository(db),
		Clusters:   NewClusterStatsRepository(db),
		Expression: NewExpressionRepository(db),
		Projection: NewProjectionRepository(db),
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single transaction.
// A returned error or a panic rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
