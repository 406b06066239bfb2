package domain

import (
	"math"

	"gorm.io/datatypes"
)

// SanitizeMetadata builds the per-cell annotation bag. Non-finite floats become null;
// other scalars (numbers, booleans, strings, nil) pass through unchanged.
func SanitizeMetadata(values map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(values))
	for k, v := range values {
		out[k] = SanitizeScalar(v)
	}
	return out
}

// SanitizeScalar normalizes one metadata value.
func SanitizeScalar(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	default:
		return v
	}
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
