package service

import (
	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/source"
)

// MissingClusterLabel is stored for cells whose cluster label is null.
const MissingClusterLabel = "nan"

type clusterSum struct {
	count      int
	sumX, sumY float64
}

// clusterAccumulator groups imported cell coordinates by cluster label.
type clusterAccumulator struct {
	// levels is the palette order: categories of a categorical column, else first appearance.
	levels []string
	// seen holds every accumulated label in order of first appearance.
	seen []string
	sums map[string]*clusterSum
}

func newClusterAccumulator(col *source.Column) *clusterAccumulator {
	return &clusterAccumulator{
		levels: col.Levels(),
		sums:   make(map[string]*clusterSum),
	}
}

func (a *clusterAccumulator) add(label string, xy [2]float64) {
	s, ok := a.sums[label]
	if !ok {
		s = &clusterSum{}
		a.sums[label] = s
		a.seen = append(a.seen, label)
	}
	s.count++
	s.sumX += xy[0]
	s.sumY += xy[1]
}

// rows returns one ClusterStats per label holding cells: levels first, then
// labels outside the levels (such as MissingClusterLabel) in order of appearance.
// The colour is palette[i] for the label's level index i, when the palette is long enough.
func (a *clusterAccumulator) rows(datasetID int64, palette []string) []domain.ClusterStats {
	rows := make([]domain.ClusterStats, 0, len(a.sums))
	emitted := make(map[string]bool, len(a.sums))
	for i, label := range a.levels {
		s, ok := a.sums[label]
		if !ok || emitted[label] {
			continue
		}
		emitted[label] = true
		row := a.row(datasetID, label, s)
		if i < len(palette) && palette[i] != "" {
			color := palette[i]
			row.ClusterColor = &color
		}
		rows = append(rows, row)
	}
	for _, label := range a.seen {
		if emitted[label] {
			continue
		}
		emitted[label] = true
		rows = append(rows, a.row(datasetID, label, a.sums[label]))
	}
	return rows
}

func (a *clusterAccumulator) row(datasetID int64, label string, s *clusterSum) domain.ClusterStats {
	return domain.ClusterStats{
		DatasetID: datasetID,
		ClusterID: label,
		CellCount: s.count,
		MeanUMAP1: s.sumX / float64(s.count),
		MeanUMAP2: s.sumY / float64(s.count),
	}
}
