package service

import (
	"math"
	"sort"
)

// ExpressionStats summarizes one gene over every cell of a dataset, zeros included.
type ExpressionStats struct {
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	PctExpressing float64 `json:"pct_expressing"`
}

// computeExpressionStats treats values as the full population of cells.
// PctExpressing is exactly count(v > 0) / len(values) * 100.
func computeExpressionStats(values []float64) ExpressionStats {
	if len(values) == 0 {
		return ExpressionStats{}
	}

	stats := ExpressionStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	expressing := 0
	for _, v := range values {
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
		sum += v
		if v > 0 {
			expressing++
		}
	}
	stats.Mean = sum / float64(len(values))
	stats.PctExpressing = float64(expressing) / float64(len(values)) * 100

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		stats.Median = sorted[mid]
	} else {
		stats.Median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return stats
}
