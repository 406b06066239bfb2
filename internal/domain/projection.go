package domain

import "gorm.io/datatypes"

// ProjectionName is the read-optimized join of cells, datasets and cluster colours.
const ProjectionName = "umap_view"

// UMAPPoint is one row of the read-optimized projection.
type UMAPPoint struct {
	CellID       int64             `gorm:"column:cell_id" json:"cell_id"`
	DatasetID    int64             `gorm:"column:dataset_id" json:"-"`
	DatasetName  string            `gorm:"column:dataset_name" json:"-"`
	CellBarcode  string            `gorm:"column:cell_barcode" json:"cell_barcode"`
	UMAP1        float64           `gorm:"column:umap_1" json:"umap_1"`
	UMAP2        float64           `gorm:"column:umap_2" json:"umap_2"`
	ClusterID    *string           `gorm:"column:cluster_id" json:"cluster_id"`
	CellType     *string           `gorm:"column:cell_type" json:"cell_type"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	ClusterColor *string           `gorm:"column:cluster_color" json:"cluster_color"`
}

// TableName returns the projection name for GORM reads.
func (UMAPPoint) TableName() string {
	return ProjectionName
}
