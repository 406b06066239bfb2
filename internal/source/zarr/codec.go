package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// decode runs the codec chain backwards: bytes-to-bytes codecs first, then the
// single array-to-bytes codec.
func (s *Store) decode(raw []byte, meta *nodeMeta) (*decoded, error) {
	if len(meta.Codecs) == 0 {
		return nil, fmt.Errorf("array has no codecs")
	}

	data := raw
	arrayCodec := -1
	for i := len(meta.Codecs) - 1; i >= 0; i-- {
		c := meta.Codecs[i]
		switch c.Name {
		case "zstd":
			out, err := s.decoder.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("zstd decompress failed: %w", err)
			}
			data = out
		case "gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
			out, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("gzip decompress failed: %w", err)
			}
			data = out
		case "crc32c":
			if len(data) < 4 {
				return nil, fmt.Errorf("crc32c: chunk too short")
			}
			body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
			if crc32.Checksum(body, castagnoli) != sum {
				return nil, fmt.Errorf("crc32c checksum mismatch")
			}
			data = body
		case "bytes", "vlen-utf8", "vlen-bytes":
			arrayCodec = i
		default:
			return nil, fmt.Errorf("unsupported codec %q", c.Name)
		}
		if arrayCodec >= 0 {
			break
		}
	}
	if arrayCodec < 0 {
		return nil, fmt.Errorf("no array-to-bytes codec")
	}
	for _, c := range meta.Codecs[:arrayCodec] {
		if c.Name != "transpose" || !identityOrder(c.Configuration["order"]) {
			return nil, fmt.Errorf("unsupported array-to-array codec %q", c.Name)
		}
	}

	c := meta.Codecs[arrayCodec]
	if c.Name == "bytes" {
		order := binary.ByteOrder(binary.LittleEndian)
		if endian, _ := c.Configuration["endian"].(string); endian == "big" {
			order = binary.BigEndian
		}
		nums, err := decodeNumbers(data, meta.dtype(), order)
		if err != nil {
			return nil, err
		}
		return &decoded{numbers: nums}, nil
	}

	strs, err := decodeVLen(data)
	if err != nil {
		return nil, err
	}
	return &decoded{strings: strs}, nil
}

func identityOrder(v interface{}) bool {
	order, ok := v.([]interface{})
	if !ok {
		return false
	}
	for i, o := range order {
		if f, ok := o.(float64); !ok || int(f) != i {
			return false
		}
	}
	return true
}

// decodeVLen reads the vlen-utf8 layout: u32 count, then u32 length + bytes per item.
func decodeVLen(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vlen: chunk too short")
	}
	n := int(binary.LittleEndian.Uint32(data))
	pos := 4
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("vlen: truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+l > len(data) {
			return nil, fmt.Errorf("vlen: truncated at item %d", i)
		}
		out[i] = string(data[pos : pos+l])
		pos += l
	}
	return out, nil
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "bool", "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dtype)
	}
}

func isIntegerType(dtype string) bool {
	switch dtype {
	case "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		return true
	}
	return false
}

func decodeNumbers(data []byte, dtype string, order binary.ByteOrder) ([]float64, error) {
	size, err := dtypeSize(dtype)
	if err != nil {
		return nil, err
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("chunk length %d is not a multiple of %s size", len(data), dtype)
	}

	n := len(data) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*size : (i+1)*size]
		switch dtype {
		case "bool", "uint8":
			out[i] = float64(b[0])
		case "int8":
			out[i] = float64(int8(b[0]))
		case "int16":
			out[i] = float64(int16(order.Uint16(b)))
		case "uint16":
			out[i] = float64(order.Uint16(b))
		case "int32":
			out[i] = float64(int32(order.Uint32(b)))
		case "uint32":
			out[i] = float64(order.Uint32(b))
		case "int64":
			out[i] = float64(int64(order.Uint64(b)))
		case "uint64":
			out[i] = float64(order.Uint64(b))
		case "float32":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "float64":
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}
