// Package source adapts annotated single-cell matrices to the import pipeline.
package source

import (
	"errors"
	"math"
	"strconv"
)

// ErrMissing is returned when a requested element is absent from the source.
var ErrMissing = errors.New("element not present in source")

// Matrix is the read side of an annotated cell-by-gene dataset: per-cell
// annotations (obs), per-gene annotations (var), embeddings (obsm),
// unstructured results (uns) and the expression values.
type Matrix interface {
	// NumCells returns the number of observations.
	NumCells() int

	// NumGenes returns the number of variables.
	NumGenes() int

	// CellBarcodes returns the observation index, one barcode per cell.
	// Returns:
	//   - []string: barcodes in source order.
	//   - error: non-nil if the index cannot be read.
	CellBarcodes() ([]string, error)

	// GeneSymbols returns the variable index, one symbol per gene.
	GeneSymbols() ([]string, error)

	// Embeddings lists the available embedding keys, e.g. "X_umap".
	Embeddings() []string

	// Embedding returns the first two coordinates of every cell.
	// Parameters:
	//   - key: embedding key.
	// Returns:
	//   - [][2]float64: coordinates in cell order.
	//   - error: non-nil if the key is missing or has fewer than two dimensions.
	Embedding(key string) ([][2]float64, error)

	// ObsColumns lists per-cell annotation columns in source order.
	ObsColumns() []string

	// ObsColumn reads one per-cell annotation column.
	ObsColumn(name string) (*Column, error)

	// VarColumns lists per-gene annotation columns in source order.
	VarColumns() []string

	// VarColumn reads one per-gene annotation column.
	VarColumn(name string) (*Column, error)

	// Palette returns the display colours stored for a categorical column,
	// parallel to its categories. Returns nil, nil when there is none.
	Palette(column string) ([]string, error)

	// RankedGenes returns per-cluster differential expression results.
	// Returns nil, nil when the source has none.
	RankedGenes() (*RankedGenes, error)

	// Expression returns the nonzero entries of the expression matrix restricted to genes.
	// Parameters:
	//   - genes: gene indices into GeneSymbols.
	// Returns:
	//   - *SparseMatrix: rows are cell indices, columns are positions in genes.
	//   - error: non-nil if the matrix cannot be read.
	Expression(genes []int) (*SparseMatrix, error)

	// Close releases resources held by the adapter.
	Close() error
}

// ColumnKind identifies how a Column stores its values.
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindBool        ColumnKind = "bool"
	KindString      ColumnKind = "string"
	KindCategorical ColumnKind = "categorical"
)

// Column is one annotation column. Categorical columns keep their decoded
// values in Strings and their levels in Categories.
type Column struct {
	Name       string
	Kind       ColumnKind
	Integer    bool
	Numbers    []float64
	Bools      []bool
	Strings    []string
	Categories []string
	// Missing marks null entries; nil means none are missing.
	Missing []bool
}

// Len returns the number of entries.
func (c *Column) Len() int {
	switch c.Kind {
	case KindNumeric:
		return len(c.Numbers)
	case KindBool:
		return len(c.Bools)
	default:
		return len(c.Strings)
	}
}

// IsMissing reports whether entry i is null.
func (c *Column) IsMissing(i int) bool {
	return c.Missing != nil && c.Missing[i]
}

// Value returns entry i as a JSON scalar: float64, int64, bool, string or nil.
func (c *Column) Value(i int) any {
	if c.IsMissing(i) {
		return nil
	}
	switch c.Kind {
	case KindNumeric:
		v := c.Numbers[i]
		if c.Integer && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return int64(v)
		}
		return v
	case KindBool:
		return c.Bools[i]
	default:
		return c.Strings[i]
	}
}

// Label returns entry i as a string label; ok is false for null entries.
func (c *Column) Label(i int) (label string, ok bool) {
	if c.IsMissing(i) {
		return "", false
	}
	switch c.Kind {
	case KindNumeric:
		v := c.Numbers[i]
		if math.IsNaN(v) {
			return "", false
		}
		if c.Integer {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case KindBool:
		return strconv.FormatBool(c.Bools[i]), true
	default:
		return c.Strings[i], true
	}
}

// Number returns entry i as a float; ok is false for null or non-numeric entries.
func (c *Column) Number(i int) (float64, bool) {
	if c.IsMissing(i) {
		return 0, false
	}
	switch c.Kind {
	case KindNumeric:
		return c.Numbers[i], true
	case KindBool:
		if c.Bools[i] {
			return 1, true
		}
		return 0, true
	default:
		f, err := strconv.ParseFloat(c.Strings[i], 64)
		return f, err == nil
	}
}

// Truthy reports whether entry i is set; null and zero are false.
func (c *Column) Truthy(i int) bool {
	if c.IsMissing(i) {
		return false
	}
	switch c.Kind {
	case KindBool:
		return c.Bools[i]
	case KindNumeric:
		return c.Numbers[i] != 0 && !math.IsNaN(c.Numbers[i])
	default:
		s := c.Strings[i]
		return s == "True" || s == "true" || s == "1"
	}
}

// Levels returns the distinct labels in palette order: the categories of a
// categorical column, else labels in order of first appearance.
func (c *Column) Levels() []string {
	if c.Kind == KindCategorical && c.Categories != nil {
		return c.Categories
	}
	seen := make(map[string]bool)
	var levels []string
	for i := 0; i < c.Len(); i++ {
		label, ok := c.Label(i)
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		levels = append(levels, label)
	}
	return levels
}

// RankedGenes holds per-cluster differential expression results, best first.
// The numeric maps may lack a cluster, and values may be NaN.
type RankedGenes struct {
	Groups         []string
	Names          map[string][]string
	LogFoldChanges map[string][]float64
	PValues        map[string][]float64
	PValuesAdj     map[string][]float64
}

// SparseMatrix is a coordinate-format matrix.
type SparseMatrix struct {
	NumRows int
	NumCols int
	Rows    []int
	Cols    []int
	Values  []float64
}

// NNZ returns the number of stored entries.
func (m *SparseMatrix) NNZ() int {
	return len(m.Values)
}

// Append stores one entry.
func (m *SparseMatrix) Append(row, col int, value float64) {
	m.Rows = append(m.Rows, row)
	m.Cols = append(m.Cols, col)
	m.Values = append(m.Values, value)
}
