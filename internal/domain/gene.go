package domain

// Gene carries the per-gene statistics of a dataset.
type Gene struct {
	ID             int64    `gorm:"primaryKey" json:"id"`
	DatasetID      int64    `gorm:"not null;uniqueIndex:idx_genes_dataset_symbol,priority:1" json:"dataset_id"`
	GeneSymbol     string   `gorm:"type:varchar(100);not null;uniqueIndex:idx_genes_dataset_symbol,priority:2;index:idx_genes_symbol" json:"gene_symbol"`
	EnsemblID      *string  `gorm:"column:gene_id;type:varchar(100)" json:"gene_id"`
	HighlyVariable bool     `gorm:"not null;default:false" json:"highly_variable"`
	MeanExpression *float64 `json:"mean_expression"`
	Dispersion     *float64 `json:"dispersion"`

	Expressions []GeneExpression `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Gene.
func (Gene) TableName() string {
	return "genes"
}

// MarkerGene is one ranked differential expression result for a cluster.
// Rank is 1-based and keeps the order the source reported.
type MarkerGene struct {
	ID             int64    `gorm:"primaryKey" json:"id"`
	DatasetID      int64    `gorm:"not null;uniqueIndex:idx_marker_genes_rank,priority:1" json:"dataset_id"`
	ClusterID      string   `gorm:"type:varchar(100);not null;uniqueIndex:idx_marker_genes_rank,priority:2" json:"cluster_id"`
	GeneSymbol     string   `gorm:"type:varchar(100);not null;index:idx_marker_genes_symbol" json:"gene_symbol"`
	EnsemblID      *string  `gorm:"column:gene_id;type:varchar(100)" json:"gene_id"`
	Log2FoldChange *float64 `gorm:"column:log2_fold_change" json:"log2_fold_change"`
	PValue         *float64 `gorm:"column:pvalue" json:"pvalue"`
	PValueAdj      *float64 `gorm:"column:pvalue_adj" json:"pvalue_adj"`
	Rank           int      `gorm:"not null;uniqueIndex:idx_marker_genes_rank,priority:3" json:"rank"`
}

// TableName returns the database table name for MarkerGene.
func (MarkerGene) TableName() string {
	return "marker_genes"
}

// ClusterStats is the precomputed summary of one cluster label.
type ClusterStats struct {
	ID           int64   `gorm:"primaryKey" json:"id"`
	DatasetID    int64   `gorm:"not null;uniqueIndex:idx_cluster_stats_dataset_cluster,priority:1" json:"dataset_id"`
	ClusterID    string  `gorm:"type:varchar(100);not null;uniqueIndex:idx_cluster_stats_dataset_cluster,priority:2" json:"cluster_id"`
	CellCount    int     `gorm:"not null" json:"cell_count"`
	MeanUMAP1    float64 `gorm:"column:mean_umap_1" json:"mean_umap_1"`
	MeanUMAP2    float64 `gorm:"column:mean_umap_2" json:"mean_umap_2"`
	ClusterColor *string `gorm:"type:varchar(32)" json:"cluster_color"`
}

// TableName returns the database table name for ClusterStats.
func (ClusterStats) TableName() string {
	return "cluster_stats"
}

// GeneExpression is a sparse fact row. A missing (cell, gene) row means zero.
type GeneExpression struct {
	ID              int64   `gorm:"primaryKey" json:"id"`
	DatasetID       int64   `gorm:"not null;index:idx_gene_expression_dataset_gene,priority:1" json:"dataset_id"`
	CellID          int64   `gorm:"not null;uniqueIndex:idx_gene_expression_cell_gene,priority:1" json:"cell_id"`
	GeneID          int64   `gorm:"not null;uniqueIndex:idx_gene_expression_cell_gene,priority:2;index:idx_gene_expression_dataset_gene,priority:2" json:"gene_id"`
	ExpressionValue float64 `gorm:"not null" json:"expression_value"`
}

// TableName returns the database table name for GeneExpression.
func (GeneExpression) TableName() string {
	return "gene_expression"
}
