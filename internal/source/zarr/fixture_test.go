package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// storeWriter writes a minimal Zarr v3 hierarchy for tests.
type storeWriter struct {
	t     *testing.T
	root  string
	codec string // "zstd", "gzip" or ""
	keyV2 bool
}

func newStoreWriter(t *testing.T) *storeWriter {
	t.Helper()
	w := &storeWriter{t: t, root: filepath.Join(t.TempDir(), "adata.zarr"), codec: "zstd"}
	w.group("", map[string]interface{}{"encoding-type": "anndata"})
	return w
}

func (w *storeWriter) writeJSON(path string, v interface{}) {
	w.t.Helper()
	dir := filepath.Join(w.root, filepath.FromSlash(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		w.t.Fatalf("write meta: %v", err)
	}
}

func (w *storeWriter) group(path string, attrs map[string]interface{}) {
	w.writeJSON(path, map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "group",
		"attributes":  attrs,
	})
}

func (w *storeWriter) meta(dtype string, shape, chunks []int, fill interface{}, arrayCodec map[string]interface{}, attrs map[string]interface{}) map[string]interface{} {
	codecs := []interface{}{arrayCodec}
	if w.codec != "" {
		codecs = append(codecs, map[string]interface{}{"name": w.codec, "configuration": map[string]interface{}{"level": 1}})
	}
	keyEncoding := map[string]interface{}{"name": "default", "configuration": map[string]interface{}{"separator": "/"}}
	if w.keyV2 {
		keyEncoding = map[string]interface{}{"name": "v2", "configuration": map[string]interface{}{"separator": "."}}
	}
	return map[string]interface{}{
		"zarr_format":        3,
		"node_type":          "array",
		"shape":              shape,
		"data_type":          dtype,
		"chunk_grid":         map[string]interface{}{"name": "regular", "configuration": map[string]interface{}{"chunk_shape": chunks}},
		"chunk_key_encoding": keyEncoding,
		"fill_value":         fill,
		"codecs":             codecs,
		"attributes":         attrs,
	}
}

// numbers writes a numeric array, splitting it into full-size (padded) chunks.
func (w *storeWriter) numbers(path, dtype string, shape, chunks []int, values []float64, attrs map[string]interface{}) {
	w.t.Helper()
	w.writeJSON(path, w.meta(dtype, shape, chunks, 0, map[string]interface{}{"name": "bytes", "configuration": map[string]interface{}{"endian": "little"}}, attrs))
	w.chunks(path, shape, chunks, func(flat []int) []byte {
		var buf bytes.Buffer
		for _, f := range flat {
			v := 0.0
			if f >= 0 {
				v = values[f]
			}
			encodeNumber(&buf, dtype, v)
		}
		return buf.Bytes()
	})
}

// strs writes a 1-D vlen-utf8 string array.
func (w *storeWriter) strs(path string, values []string, chunk int, attrs map[string]interface{}) {
	w.t.Helper()
	shape := []int{len(values)}
	w.writeJSON(path, w.meta("string", shape, []int{chunk}, "", map[string]interface{}{"name": "vlen-utf8"}, attrs))
	w.chunks(path, shape, []int{chunk}, func(flat []int) []byte {
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, uint32(len(flat)))
		for _, f := range flat {
			s := ""
			if f >= 0 {
				s = values[f]
			}
			binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
			buf.WriteString(s)
		}
		return buf.Bytes()
	})
}

// chunks iterates chunk grid positions; flat holds source offsets or -1 for padding.
func (w *storeWriter) chunks(path string, shape, chunks []int, encode func(flat []int) []byte) {
	w.t.Helper()
	grid := make([]int, len(shape))
	for d := range shape {
		grid[d] = ceilDiv(shape[d], chunks[d])
	}
	idx := make([]int, len(shape))
	for {
		var flat []int
		local := make([]int, len(shape))
		for e := 0; e < product(chunks); e++ {
			rem := e
			for d := len(shape) - 1; d >= 0; d-- {
				local[d] = rem % chunks[d]
				rem /= chunks[d]
			}
			off, inside := 0, true
			for d := range shape {
				g := idx[d]*chunks[d] + local[d]
				if g >= shape[d] {
					inside = false
				}
				off = off*shape[d] + g
			}
			if !inside {
				off = -1
			}
			flat = append(flat, off)
		}
		w.writeChunk(path, idx, w.compress(encode(flat)))
		if !nextIndex(idx, grid) {
			break
		}
	}
}

func (w *storeWriter) compress(raw []byte) []byte {
	w.t.Helper()
	switch w.codec {
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			w.t.Fatalf("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil)
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write(raw)
		zw.Close()
		return buf.Bytes()
	default:
		return raw
	}
}

func (w *storeWriter) writeChunk(path string, idx []int, data []byte) {
	w.t.Helper()
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	var rel string
	if w.keyV2 {
		rel = strings.Join(parts, ".")
	} else {
		rel = filepath.Join(append([]string{"c"}, parts...)...)
	}
	full := filepath.Join(w.root, filepath.FromSlash(path), rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		w.t.Fatalf("mkdir chunk: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		w.t.Fatalf("write chunk: %v", err)
	}
}

func encodeNumber(buf *bytes.Buffer, dtype string, v float64) {
	le := binary.LittleEndian
	switch dtype {
	case "bool", "uint8":
		buf.WriteByte(byte(v))
	case "int8":
		buf.WriteByte(byte(int8(v)))
	case "int32":
		binary.Write(buf, le, int32(v))
	case "int64":
		binary.Write(buf, le, int64(v))
	case "float32":
		binary.Write(buf, le, math.Float32bits(float32(v)))
	case "float64":
		binary.Write(buf, le, math.Float64bits(v))
	}
}

func (w *storeWriter) frame(path string, index []string, columns []string) {
	w.group(path, map[string]interface{}{
		"encoding-type":    "dataframe",
		"encoding-version": "0.2.0",
		"_index":           "_index",
		"column-order":     columns,
	})
	w.strs(path+"/_index", index, 2, map[string]interface{}{"encoding-type": "string-array"})
}

func (w *storeWriter) categorical(path string, categories []string, codes []float64) {
	w.group(path, map[string]interface{}{"encoding-type": "categorical", "ordered": false})
	w.strs(path+"/categories", categories, 4, nil)
	w.numbers(path+"/codes", "int8", []int{len(codes)}, []int{4}, codes, nil)
}

// writePBMC writes three cells (two clusters) and two genes with a CSR matrix.
func writePBMC(t *testing.T) string {
	w := newStoreWriter(t)

	w.frame("obs", []string{"AAA", "CCC", "GGG"}, []string{"leiden", "cell_type", "n_counts", "is_doublet"})
	w.categorical("obs/leiden", []string{"0", "1"}, []float64{0, 0, 1})
	w.categorical("obs/cell_type", []string{"T", "B"}, []float64{0, -1, 1})
	w.numbers("obs/n_counts", "float32", []int{3}, []int{2}, []float64{100, math.NaN(), 300}, nil)
	w.numbers("obs/is_doublet", "bool", []int{3}, []int{3}, []float64{0, 1, 0}, nil)

	w.frame("var", []string{"CD3E", "MS4A1"}, []string{"highly_variable", "means", "dispersions"})
	w.numbers("var/highly_variable", "bool", []int{2}, []int{2}, []float64{1, 0}, nil)
	w.numbers("var/means", "float64", []int{2}, []int{2}, []float64{1.5, 0.2}, nil)
	w.numbers("var/dispersions", "float64", []int{2}, []int{2}, []float64{2.1, 0.9}, nil)

	w.group("obsm", nil)
	w.numbers("obsm/X_umap", "float32", []int{3, 2}, []int{2, 2}, []float64{0, 0, 1, 1, 5, 5}, nil)

	w.group("uns", nil)
	w.strs("uns/leiden_colors", []string{"#1f77b4", "#ff7f0e"}, 2, nil)
	w.group("uns/rank_genes_groups", nil)
	w.group("uns/rank_genes_groups/names", map[string]interface{}{"column-order": []string{"0", "1"}})
	w.strs("uns/rank_genes_groups/names/0", []string{"CD3E", "MS4A1"}, 2, nil)
	w.strs("uns/rank_genes_groups/names/1", []string{"MS4A1", "CD3E"}, 2, nil)
	w.group("uns/rank_genes_groups/logfoldchanges", nil)
	w.numbers("uns/rank_genes_groups/logfoldchanges/0", "float32", []int{2}, []int{2}, []float64{2, -1}, nil)
	w.numbers("uns/rank_genes_groups/logfoldchanges/1", "float32", []int{2}, []int{2}, []float64{3, -2}, nil)
	w.group("uns/rank_genes_groups/pvals_adj", nil)
	w.numbers("uns/rank_genes_groups/pvals_adj/0", "float64", []int{2}, []int{2}, []float64{0.001, 0.5}, nil)

	w.group("X", map[string]interface{}{"encoding-type": "csr_matrix", "encoding-version": "0.1.0", "shape": []int{3, 2}})
	w.numbers("X/data", "float32", []int{3}, []int{2}, []float64{1.5, 2, 3}, nil)
	w.numbers("X/indices", "int32", []int{3}, []int{2}, []float64{0, 0, 1}, nil)
	w.numbers("X/indptr", "int64", []int{4}, []int{4}, []float64{0, 1, 2, 3}, nil)

	return w.root
}
