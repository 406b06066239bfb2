// Package memory provides a Matrix held entirely in memory. It backs programmatic
// imports and tests.
package memory

import (
	"fmt"

	"github.com/timmy/kmap/internal/source"
)

// Matrix is an in-memory source.Matrix.
type Matrix struct {
	barcodes   []string
	symbols    []string
	embeddings map[string][][2]float64
	embedOrder []string
	obs        []*source.Column
	vars       []*source.Column
	palettes   map[string][]string
	ranked     *source.RankedGenes
	// x is dense, cells by genes.
	x [][]float64
}

var _ source.Matrix = (*Matrix)(nil)

// New creates a Matrix with the given cell and gene indexes.
func New(barcodes, symbols []string) *Matrix {
	return &Matrix{
		barcodes:   barcodes,
		symbols:    symbols,
		embeddings: make(map[string][][2]float64),
		palettes:   make(map[string][]string),
	}
}

// WithEmbedding adds an embedding.
func (m *Matrix) WithEmbedding(key string, coords [][2]float64) *Matrix {
	if _, ok := m.embeddings[key]; !ok {
		m.embedOrder = append(m.embedOrder, key)
	}
	m.embeddings[key] = coords
	return m
}

// WithObs adds a per-cell column.
func (m *Matrix) WithObs(col *source.Column) *Matrix {
	m.obs = append(m.obs, col)
	return m
}

// WithVar adds a per-gene column.
func (m *Matrix) WithVar(col *source.Column) *Matrix {
	m.vars = append(m.vars, col)
	return m
}

// WithPalette stores the colours of a categorical column.
func (m *Matrix) WithPalette(column string, colors []string) *Matrix {
	m.palettes[column] = colors
	return m
}

// WithRankedGenes stores differential expression results.
func (m *Matrix) WithRankedGenes(r *source.RankedGenes) *Matrix {
	m.ranked = r
	return m
}

// WithExpression stores a dense cells by genes matrix.
func (m *Matrix) WithExpression(x [][]float64) *Matrix {
	m.x = x
	return m
}

func (m *Matrix) NumCells() int { return len(m.barcodes) }

func (m *Matrix) NumGenes() int { return len(m.symbols) }

func (m *Matrix) CellBarcodes() ([]string, error) { return m.barcodes, nil }

func (m *Matrix) GeneSymbols() ([]string, error) { return m.symbols, nil }

func (m *Matrix) Embeddings() []string { return m.embedOrder }

func (m *Matrix) Embedding(key string) ([][2]float64, error) {
	coords, ok := m.embeddings[key]
	if !ok {
		return nil, fmt.Errorf("%w: obsm/%s", source.ErrMissing, key)
	}
	if len(coords) != len(m.barcodes) {
		return nil, fmt.Errorf("embedding %s has %d rows, expected %d", key, len(coords), len(m.barcodes))
	}
	return coords, nil
}

func (m *Matrix) ObsColumns() []string { return names(m.obs) }

func (m *Matrix) ObsColumn(name string) (*source.Column, error) {
	return find(m.obs, "obs", name)
}

func (m *Matrix) VarColumns() []string { return names(m.vars) }

func (m *Matrix) VarColumn(name string) (*source.Column, error) {
	return find(m.vars, "var", name)
}

func (m *Matrix) Palette(column string) ([]string, error) {
	return m.palettes[column], nil
}

func (m *Matrix) RankedGenes() (*source.RankedGenes, error) {
	return m.ranked, nil
}

// Expression scans the dense matrix column-wise for the requested genes.
func (m *Matrix) Expression(genes []int) (*source.SparseMatrix, error) {
	out := &source.SparseMatrix{NumRows: len(m.barcodes), NumCols: len(genes)}
	if m.x == nil {
		return nil, fmt.Errorf("%w: X", source.ErrMissing)
	}
	for row, values := range m.x {
		for pos, gene := range genes {
			if gene < 0 || gene >= len(values) {
				return nil, fmt.Errorf("gene index %d out of range", gene)
			}
			if v := values[gene]; v != 0 {
				out.Append(row, pos, v)
			}
		}
	}
	return out, nil
}

func (m *Matrix) Close() error { return nil }

func names(cols []*source.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func find(cols []*source.Column, axis, name string) (*source.Column, error) {
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", source.ErrMissing, axis, name)
}
