package zarr

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/timmy/kmap/internal/source"
)

const (
	rankGenesGroups = "uns/rank_genes_groups"
	rawMatrix       = "raw/X"
	rawVar          = "raw/var"
)

// Matrix is a source.Matrix over an AnnData store:
// obs/var dataframes, obsm embeddings, uns results and X (dense or CSR/CSC).
type Matrix struct {
	store    *Store
	path     string
	barcodes []string
	symbols  []string
	obsOrder []string
	varOrder []string
}

var _ source.Matrix = (*Matrix)(nil)

// Open reads the obs and var indexes of the AnnData store at path.
func Open(path string) (*Matrix, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}

	m := &Matrix{store: store, path: path}
	if m.barcodes, m.obsOrder, err = m.readFrame("obs"); err != nil {
		store.Close()
		return nil, err
	}
	if m.symbols, m.varOrder, err = m.readFrame("var"); err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

// readFrame returns a dataframe's index and column order.
func (m *Matrix) readFrame(frame string) ([]string, []string, error) {
	if !m.store.exists(frame) {
		return nil, nil, fmt.Errorf("%w: %s", source.ErrMissing, frame)
	}
	meta, err := m.store.meta(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", frame, err)
	}
	if enc := meta.attr("encoding-type"); enc != "" && enc != "dataframe" {
		return nil, nil, fmt.Errorf("%s has encoding-type %q, expected dataframe", frame, enc)
	}

	indexName := meta.attr("_index")
	if indexName == "" {
		indexName = "_index"
	}
	index, err := m.store.readArray(frame + "/" + indexName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s index: %w", frame, err)
	}

	order := meta.attrStrings("column-order")
	if order == nil {
		children, err := m.store.children(frame)
		if err != nil {
			return nil, nil, err
		}
		for _, c := range children {
			if c != indexName {
				order = append(order, c)
			}
		}
	}
	return labels(index), order, nil
}

func (m *Matrix) NumCells() int { return len(m.barcodes) }

func (m *Matrix) NumGenes() int { return len(m.symbols) }

func (m *Matrix) CellBarcodes() ([]string, error) { return m.barcodes, nil }

func (m *Matrix) GeneSymbols() ([]string, error) { return m.symbols, nil }

func (m *Matrix) Embeddings() []string {
	keys, err := m.store.children("obsm")
	if err != nil {
		return nil
	}
	return keys
}

func (m *Matrix) Embedding(key string) ([][2]float64, error) {
	path := "obsm/" + key
	if !m.store.exists(path) {
		return nil, fmt.Errorf("%w: %s", source.ErrMissing, path)
	}
	arr, err := m.store.readArray(path)
	if err != nil {
		return nil, err
	}
	if arr.isString() || len(arr.shape) != 2 || arr.shape[1] < 2 {
		return nil, fmt.Errorf("%s must be a numeric [n_obs, >=2] array, got shape %v", path, arr.shape)
	}
	if arr.shape[0] != len(m.barcodes) {
		return nil, fmt.Errorf("%s has %d rows, expected %d", path, arr.shape[0], len(m.barcodes))
	}

	dims := arr.shape[1]
	coords := make([][2]float64, arr.shape[0])
	for i := range coords {
		coords[i] = [2]float64{arr.numbers[i*dims], arr.numbers[i*dims+1]}
	}
	return coords, nil
}

func (m *Matrix) ObsColumns() []string { return m.obsOrder }

func (m *Matrix) ObsColumn(name string) (*source.Column, error) {
	return m.readColumn("obs", name, len(m.barcodes))
}

func (m *Matrix) VarColumns() []string { return m.varOrder }

func (m *Matrix) VarColumn(name string) (*source.Column, error) {
	return m.readColumn("var", name, len(m.symbols))
}

// readColumn decodes plain arrays and the categorical / nullable encodings.
func (m *Matrix) readColumn(frame, name string, n int) (*source.Column, error) {
	path := frame + "/" + name
	if !m.store.exists(path) {
		return nil, fmt.Errorf("%w: %s", source.ErrMissing, path)
	}
	meta, err := m.store.meta(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var col *source.Column
	if meta.isArray() {
		arr, err := m.store.readArray(path)
		if err != nil {
			return nil, err
		}
		col = columnFromArray(name, arr)
	} else {
		switch enc := meta.attr("encoding-type"); enc {
		case "categorical":
			col, err = m.readCategorical(path, name)
		case "nullable-integer", "nullable-boolean", "nullable-string-array":
			col, err = m.readNullable(path, name, enc)
		default:
			return nil, fmt.Errorf("%s: unsupported encoding-type %q", path, enc)
		}
		if err != nil {
			return nil, err
		}
	}

	if col.Len() != n {
		return nil, fmt.Errorf("%s has %d entries, expected %d", path, col.Len(), n)
	}
	return col, nil
}

func (m *Matrix) readCategorical(path, name string) (*source.Column, error) {
	codes, err := m.store.readArray(path + "/codes")
	if err != nil {
		return nil, err
	}
	cats, err := m.store.readArray(path + "/categories")
	if err != nil {
		return nil, err
	}
	if codes.isString() {
		return nil, fmt.Errorf("%s/codes must be integers", path)
	}

	categories := labels(cats)
	col := &source.Column{
		Name:       name,
		Kind:       source.KindCategorical,
		Categories: categories,
		Strings:    make([]string, codes.len()),
	}
	for i, c := range codes.numbers {
		code := int(c)
		// -1 marks a missing value.
		if code < 0 || code >= len(categories) {
			if col.Missing == nil {
				col.Missing = make([]bool, codes.len())
			}
			col.Missing[i] = true
			continue
		}
		col.Strings[i] = categories[code]
	}
	return col, nil
}

func (m *Matrix) readNullable(path, name, enc string) (*source.Column, error) {
	values, err := m.store.readArray(path + "/values")
	if err != nil {
		return nil, err
	}
	col := columnFromArray(name, values)
	if enc == "nullable-boolean" && col.Kind == source.KindNumeric {
		col = boolColumn(name, values.numbers)
	}

	if m.store.exists(path + "/mask") {
		mask, err := m.store.readArray(path + "/mask")
		if err != nil {
			return nil, err
		}
		col.Missing = make([]bool, mask.len())
		for i, v := range mask.numbers {
			col.Missing[i] = v != 0
		}
	}
	return col, nil
}

func (m *Matrix) Palette(column string) ([]string, error) {
	path := "uns/" + column + "_colors"
	if !m.store.exists(path) {
		return nil, nil
	}
	arr, err := m.store.readArray(path)
	if err != nil {
		return nil, err
	}
	return labels(arr), nil
}

// RankedGenes reads uns/rank_genes_groups, stored as one array per cluster
// under names, logfoldchanges, pvals and pvals_adj.
func (m *Matrix) RankedGenes() (*source.RankedGenes, error) {
	namesPath := rankGenesGroups + "/names"
	if !m.store.exists(namesPath) {
		return nil, nil
	}
	meta, err := m.store.meta(namesPath)
	if err != nil {
		return nil, err
	}
	if meta.isArray() {
		return nil, fmt.Errorf("%s: record arrays are not supported, expected one array per group", namesPath)
	}

	groups := meta.attrStrings("column-order")
	if groups == nil {
		if groups, err = m.store.children(namesPath); err != nil {
			return nil, err
		}
		sortNatural(groups)
	}

	ranked := &source.RankedGenes{
		Groups:         groups,
		Names:          make(map[string][]string, len(groups)),
		LogFoldChanges: make(map[string][]float64),
		PValues:        make(map[string][]float64),
		PValuesAdj:     make(map[string][]float64),
	}
	fields := map[string]map[string][]float64{
		"logfoldchanges": ranked.LogFoldChanges,
		"pvals":          ranked.PValues,
		"pvals_adj":      ranked.PValuesAdj,
	}

	for _, g := range groups {
		arr, err := m.store.readArray(namesPath + "/" + g)
		if err != nil {
			return nil, err
		}
		ranked.Names[g] = labels(arr)

		for field, dst := range fields {
			path := rankGenesGroups + "/" + field + "/" + g
			if !m.store.exists(path) {
				continue
			}
			arr, err := m.store.readArray(path)
			if err != nil {
				return nil, err
			}
			if !arr.isString() {
				dst[g] = arr.numbers
			}
		}
	}
	return ranked, nil
}

// Expression reads raw/X when present (matching genes by symbol), else X.
func (m *Matrix) Expression(genes []int) (*source.SparseMatrix, error) {
	want := make(map[int]int, len(genes))
	matrixPath := "X"

	if m.store.exists(rawMatrix) && m.store.exists(rawVar) {
		rawSymbols, _, err := m.readFrame(rawVar)
		if err != nil {
			return nil, err
		}
		pos := make(map[string]int, len(rawSymbols))
		for i, s := range rawSymbols {
			pos[s] = i
		}
		for p, g := range genes {
			if j, ok := pos[m.symbols[g]]; ok {
				want[j] = p
			}
		}
		matrixPath = rawMatrix
	} else {
		for p, g := range genes {
			want[g] = p
		}
	}

	if !m.store.exists(matrixPath) {
		return nil, fmt.Errorf("%w: %s", source.ErrMissing, matrixPath)
	}
	out := &source.SparseMatrix{NumRows: len(m.barcodes), NumCols: len(genes)}
	if err := m.readMatrix(matrixPath, want, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Matrix) readMatrix(path string, want map[int]int, out *source.SparseMatrix) error {
	meta, err := m.store.meta(path)
	if err != nil {
		return err
	}

	if meta.isArray() {
		arr, err := m.store.readArray(path)
		if err != nil {
			return err
		}
		if len(arr.shape) != 2 || arr.isString() {
			return fmt.Errorf("%s must be a numeric 2-D array", path)
		}
		nCols := arr.shape[1]
		cols := sortedKeys(want)
		for r := 0; r < arr.shape[0]; r++ {
			for _, c := range cols {
				if v := arr.numbers[r*nCols+c]; v != 0 {
					out.Append(r, want[c], v)
				}
			}
		}
		return nil
	}

	enc := meta.attr("encoding-type")
	if enc != "csr_matrix" && enc != "csc_matrix" {
		return fmt.Errorf("%s: unsupported encoding-type %q", path, enc)
	}
	data, err := m.store.readArray(path + "/data")
	if err != nil {
		return err
	}
	indices, err := m.store.readArray(path + "/indices")
	if err != nil {
		return err
	}
	indptr, err := m.store.readArray(path + "/indptr")
	if err != nil {
		return err
	}
	if data.len() != indices.len() {
		return fmt.Errorf("%s: data and indices lengths differ", path)
	}

	if enc == "csr_matrix" {
		for r := 0; r+1 < indptr.len(); r++ {
			for k := int(indptr.numbers[r]); k < int(indptr.numbers[r+1]); k++ {
				if p, ok := want[int(indices.numbers[k])]; ok && data.numbers[k] != 0 {
					out.Append(r, p, data.numbers[k])
				}
			}
		}
		return nil
	}

	for _, c := range sortedKeys(want) {
		if c+1 >= indptr.len() {
			continue
		}
		for k := int(indptr.numbers[c]); k < int(indptr.numbers[c+1]); k++ {
			if v := data.numbers[k]; v != 0 {
				out.Append(int(indices.numbers[k]), want[c], v)
			}
		}
	}
	return nil
}

// Close releases the store.
func (m *Matrix) Close() error {
	m.store.Close()
	return nil
}

func columnFromArray(name string, arr *array) *source.Column {
	if arr.isString() {
		return &source.Column{Name: name, Kind: source.KindString, Strings: arr.strings}
	}
	dtype := arr.meta.dtype()
	if dtype == "bool" {
		return boolColumn(name, arr.numbers)
	}
	return &source.Column{Name: name, Kind: source.KindNumeric, Integer: isIntegerType(dtype), Numbers: arr.numbers}
}

func boolColumn(name string, values []float64) *source.Column {
	bools := make([]bool, len(values))
	for i, v := range values {
		bools[i] = v != 0
	}
	return &source.Column{Name: name, Kind: source.KindBool, Bools: bools}
}

// labels renders an array as strings; integer arrays print without a fraction.
func labels(arr *array) []string {
	if arr.isString() {
		return arr.strings
	}
	integer := isIntegerType(arr.meta.dtype())
	out := make([]string, len(arr.numbers))
	for i, v := range arr.numbers {
		if integer {
			out[i] = strconv.FormatInt(int64(v), 10)
		} else {
			out[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return out
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// sortNatural orders numeric labels by value and puts them before other labels.
func sortNatural(s []string) {
	sort.SliceStable(s, func(i, j int) bool {
		a, errA := strconv.Atoi(s[i])
		b, errB := strconv.Atoi(s[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return s[i] < s[j]
		}
	})
}
