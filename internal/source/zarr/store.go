// Package zarr reads AnnData stores written in the Zarr v3 format.
package zarr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const metadataFile = "zarr.json"

// nodeMeta is the zarr.json of a group or an array.
type nodeMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	NodeType   string          `json:"node_type"`
	Shape      []int           `json:"shape"`
	DataType   json.RawMessage `json:"data_type"`
	ChunkGrid  struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue  interface{}            `json:"fill_value"`
	Codecs     []codecSpec            `json:"codecs"`
	Attributes map[string]interface{} `json:"attributes"`
}

type codecSpec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
}

func (m *nodeMeta) isArray() bool { return m.NodeType == "array" }

func (m *nodeMeta) dtype() string {
	var s string
	if err := json.Unmarshal(m.DataType, &s); err != nil {
		return string(m.DataType)
	}
	return s
}

func (m *nodeMeta) attr(key string) string {
	s, _ := m.Attributes[key].(string)
	return s
}

func (m *nodeMeta) attrStrings(key string) []string {
	raw, ok := m.Attributes[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// array is a fully decoded array. Exactly one of numbers and strings is set.
type array struct {
	meta    *nodeMeta
	shape   []int
	numbers []float64
	strings []string
}

func (a *array) isString() bool { return a.strings != nil }

func (a *array) len() int {
	if a.strings != nil {
		return len(a.strings)
	}
	return len(a.numbers)
}

// Store reads nodes below a root directory.
type Store struct {
	root    string
	decoder *zstd.Decoder
}

// OpenStore opens the Zarr store at root.
func OpenStore(root string) (*Store, error) {
	meta, err := readMeta(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open zarr store %s: %w", root, err)
	}
	if meta.ZarrFormat != 3 {
		return nil, fmt.Errorf("unsupported zarr_format %d, expected 3", meta.ZarrFormat)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{root: root, decoder: decoder}, nil
}

// Close releases the decoder.
func (s *Store) Close() {
	s.decoder.Close()
}

func (s *Store) nodePath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// exists reports whether a node lives at path.
func (s *Store) exists(path string) bool {
	_, err := os.Stat(filepath.Join(s.nodePath(path), metadataFile))
	return err == nil
}

func (s *Store) meta(path string) (*nodeMeta, error) {
	return readMeta(s.nodePath(path))
}

func readMeta(dir string) (*nodeMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta nodeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metadataFile, err)
	}
	return &meta, nil
}

// children lists the child nodes of a group, sorted by name.
func (s *Store) children(path string) ([]string, error) {
	entries, err := os.ReadDir(s.nodePath(path))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := path + "/" + e.Name()
		if path == "" {
			child = e.Name()
		}
		if s.exists(child) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// readArray reads and decodes every chunk of the array at path.
func (s *Store) readArray(path string) (*array, error) {
	meta, err := s.meta(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !meta.isArray() {
		return nil, fmt.Errorf("%s is a %s, expected an array", path, meta.NodeType)
	}
	if meta.ChunkGrid.Name != "" && meta.ChunkGrid.Name != "regular" {
		return nil, fmt.Errorf("%s: unsupported chunk grid %q", path, meta.ChunkGrid.Name)
	}
	chunkShape := meta.ChunkGrid.Configuration.ChunkShape
	if len(chunkShape) != len(meta.Shape) {
		return nil, fmt.Errorf("%s: shape dims (%d) != chunk dims (%d)", path, len(meta.Shape), len(chunkShape))
	}

	dtype := meta.dtype()
	out := &array{meta: meta, shape: meta.Shape}
	total := product(meta.Shape)
	if dtype == "string" {
		out.strings = make([]string, total)
	} else {
		if _, err := dtypeSize(dtype); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out.numbers = make([]float64, total)
	}
	if total == 0 {
		return out, nil
	}

	grid := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		if chunkShape[d] <= 0 {
			return nil, fmt.Errorf("%s: invalid chunk shape at dim %d: %d", path, d, chunkShape[d])
		}
		grid[d] = ceilDiv(meta.Shape[d], chunkShape[d])
	}

	idx := make([]int, len(grid))
	for {
		chunk, err := s.readChunk(path, meta, idx)
		if err != nil {
			return nil, err
		}
		if err := place(out, chunk, idx, chunkShape); err != nil {
			return nil, fmt.Errorf("%s chunk %v: %w", path, idx, err)
		}
		if !nextIndex(idx, grid) {
			break
		}
	}
	return out, nil
}

// decoded holds one chunk's elements.
type decoded struct {
	numbers []float64
	strings []string
}

func (d *decoded) len() int {
	if d.strings != nil {
		return len(d.strings)
	}
	return len(d.numbers)
}

func (s *Store) readChunk(path string, meta *nodeMeta, idx []int) (*decoded, error) {
	chunkPath := filepath.Join(s.nodePath(path), filepath.FromSlash(chunkKey(meta, idx)))
	raw, err := os.ReadFile(chunkPath)
	if errors.Is(err, os.ErrNotExist) {
		// An absent chunk holds only the fill value.
		return fillChunk(meta, product(meta.ChunkGrid.Configuration.ChunkShape))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", chunkPath, err)
	}
	chunk, err := s.decode(raw, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk %s: %w", chunkPath, err)
	}
	return chunk, nil
}

// chunkKey encodes chunk coordinates per the array's chunk_key_encoding.
func chunkKey(meta *nodeMeta, idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}

	if meta.ChunkKeyEncoding.Name == "v2" {
		sep := meta.ChunkKeyEncoding.Configuration.Separator
		if sep == "" {
			sep = "."
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, sep)
	}

	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	return strings.Join(append([]string{"c"}, parts...), sep)
}

// place copies a chunk into the output at its grid position, clipping edge chunks.
func place(out *array, chunk *decoded, idx, chunkShape []int) error {
	shape := out.shape
	cshape := chunkShape

	// Zarr pads edge chunks to the full chunk shape; accept truncated ones too.
	if n := chunk.len(); n != product(chunkShape) {
		clipped := make([]int, len(shape))
		for d := range shape {
			clipped[d] = min(chunkShape[d], shape[d]-idx[d]*chunkShape[d])
		}
		if n != product(clipped) {
			return fmt.Errorf("chunk has %d elements, expected %d", n, product(chunkShape))
		}
		cshape = clipped
	}

	if len(shape) == 1 {
		start := idx[0] * chunkShape[0]
		n := min(cshape[0], shape[0]-start)
		if out.strings != nil {
			copy(out.strings[start:start+n], chunk.strings[:n])
		} else {
			copy(out.numbers[start:start+n], chunk.numbers[:n])
		}
		return nil
	}

	local := make([]int, len(shape))
	for e := 0; e < chunk.len(); e++ {
		rem := e
		for d := len(shape) - 1; d >= 0; d-- {
			local[d] = rem % cshape[d]
			rem /= cshape[d]
		}
		flat, inside := 0, true
		for d := range shape {
			g := idx[d]*chunkShape[d] + local[d]
			if g >= shape[d] {
				inside = false
				break
			}
			flat = flat*shape[d] + g
		}
		if !inside {
			continue
		}
		if out.strings != nil {
			out.strings[flat] = chunk.strings[e]
		} else {
			out.numbers[flat] = chunk.numbers[e]
		}
	}
	return nil
}

func fillChunk(meta *nodeMeta, n int) (*decoded, error) {
	if meta.dtype() == "string" {
		fill, _ := meta.FillValue.(string)
		out := make([]string, n)
		for i := range out {
			out[i] = fill
		}
		return &decoded{strings: out}, nil
	}

	fill, err := numericFill(meta.FillValue)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if fill != 0 {
		for i := range out {
			out[i] = fill
		}
	}
	return &decoded{numbers: out}, nil
}

func numericFill(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unsupported fill_value %q", t)
	default:
		return 0, fmt.Errorf("unsupported fill_value type %T", v)
	}
}

// nextIndex advances idx through grid in row-major order; false once exhausted.
func nextIndex(idx, grid []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < grid[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
