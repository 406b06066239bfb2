package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/kmap/internal/domain"
	"gorm.io/gorm"
)

// GeneRepository handles genes rows.
type GeneRepository struct {
	db *gorm.DB
}

// NewGeneRepository creates a new GeneRepository.
func NewGeneRepository(db *gorm.DB) *GeneRepository {
	return &GeneRepository{db: db}
}

// CreateBatch inserts genes in chunks of batchSize.
func (r *GeneRepository) CreateBatch(ctx context.Context, genes []domain.Gene, batchSize int) error {
	if len(genes) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&genes, batchSize).Error; err != nil {
		return fmt.Errorf("failed to insert genes: %w", err)
	}
	return nil
}

// IDsBySymbol maps every persisted gene symbol of a dataset to its gene ID.
func (r *GeneRepository) IDsBySymbol(ctx context.Context, datasetID int64) (map[string]int64, error) {
	var rows []struct {
		ID         int64
		GeneSymbol string
	}
	err := r.db.WithContext(ctx).Model(&domain.Gene{}).
		Select("id", "gene_symbol").
		Where("dataset_id = ?", datasetID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load gene ids: %w", err)
	}
	ids := make(map[string]int64, len(rows))
	for _, row := range rows {
		ids[row.GeneSymbol] = row.ID
	}
	return ids, nil
}

// GetBySymbol finds one gene of a dataset by exact symbol.
func (r *GeneRepository) GetBySymbol(ctx context.Context, datasetID int64, symbol string) (*domain.Gene, error) {
	var gene domain.Gene
	err := r.db.WithContext(ctx).Where("dataset_id = ? AND gene_symbol = ?", datasetID, symbol).First(&gene).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Kind: "gene", Name: symbol}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gene: %w", err)
	}
	return &gene, nil
}

// Search matches symbols case-insensitively by substring, highest mean expression first, nulls last.
func (r *GeneRepository) Search(ctx context.Context, datasetID int64, query string, limit int) ([]domain.Gene, error) {
	op := "LIKE"
	if dialect(r.db) == dialectPostgres {
		op = "ILIKE"
	}
	pattern := "%" + escapeLike(query) + "%"

	var genes []domain.Gene
	err := r.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Where("gene_symbol "+op+" ? ESCAPE '\\'", pattern).
		Order("mean_expression IS NULL").
		Order("mean_expression DESC").
		Order("gene_symbol").
		Limit(limit).
		Find(&genes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search genes: %w", err)
	}
	return genes, nil
}

// Counts returns the total and highly-variable gene counts of a dataset.
func (r *GeneRepository) Counts(ctx context.Context, datasetID int64) (total, highlyVariable int64, err error) {
	var row struct {
		Total int64
		HVG   int64
	}
	err = r.db.WithContext(ctx).Model(&domain.Gene{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN highly_variable THEN 1 ELSE 0 END), 0) AS hvg").
		Where("dataset_id = ?", datasetID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count genes: %w", err)
	}
	return row.Total, row.HVG, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
