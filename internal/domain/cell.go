package domain

import "gorm.io/datatypes"

// Cell is one observation of a dataset with its 2-D embedding coordinates.
// ClusterID is an opaque label, not a reference to ClusterStats.
type Cell struct {
	ID          int64             `gorm:"primaryKey" json:"id"`
	DatasetID   int64             `gorm:"not null;uniqueIndex:idx_cells_dataset_barcode,priority:1;index:idx_cells_dataset_cluster,priority:1" json:"dataset_id"`
	CellBarcode string            `gorm:"type:varchar(255);not null;uniqueIndex:idx_cells_dataset_barcode,priority:2" json:"cell_barcode"`
	UMAP1       float64           `gorm:"column:umap_1;not null" json:"umap_1"`
	UMAP2       float64           `gorm:"column:umap_2;not null" json:"umap_2"`
	ClusterID   *string           `gorm:"type:varchar(100);index:idx_cells_dataset_cluster,priority:2" json:"cluster_id"`
	CellType    *string           `gorm:"type:varchar(100)" json:"cell_type"`
	Metadata    datatypes.JSONMap `json:"metadata"`

	Expressions []GeneExpression `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Cell.
func (Cell) TableName() string {
	return "cells"
}
