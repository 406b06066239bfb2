package domain

import "time"

// DatasetStatus represents the processing status of an imported dataset.
// Values move forward only: DatasetStatusPending, DatasetStatusImporting, DatasetStatusCompleted.
type DatasetStatus string

const (
	DatasetStatusPending   DatasetStatus = "pending"
	DatasetStatusImporting DatasetStatus = "importing"
	DatasetStatusCompleted DatasetStatus = "completed"
)

// Dataset is the parent of every imported row. Deleting it cascades to all children.
type Dataset struct {
	ID               int64         `gorm:"primaryKey" json:"id"`
	Name             string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_sc_datasets_name" json:"name"`
	OriginalFilename string        `gorm:"type:varchar(500)" json:"original_filename"`
	NCells           int           `gorm:"column:n_cells;not null" json:"n_cells"`
	NGenes           int           `gorm:"column:n_genes;not null" json:"n_genes"`
	ProcessingStatus DatasetStatus `gorm:"type:varchar(20);not null;default:pending" json:"processing_status"`
	ImportedCells    int           `gorm:"not null;default:0" json:"imported_cells"`
	CreatedAt        time.Time     `gorm:"index:idx_sc_datasets_created_at" json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Cells        []Cell           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Genes        []Gene           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	MarkerGenes  []MarkerGene     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ClusterStats []ClusterStats   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Expressions  []GeneExpression `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Dataset.
func (Dataset) TableName() string {
	return "sc_datasets"
}

// ProgressPercent reports imported cells as a percentage of declared cells, rounded to two decimals.
func ProgressPercent(imported, declared int) float64 {
	if declared <= 0 {
		return 0
	}
	return Round2(float64(imported) / float64(declared) * 100)
}
