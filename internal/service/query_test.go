package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/repository"
)

func importedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", ImportExpression: true})
	return f
}

func TestSummaryComposition(t *testing.T) {
	f := importedFixture(t)

	summary, err := f.queries.Summary(context.Background(), "pbmc3k")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalGenes != 1 || summary.HighlyVariableGenes != 1 {
		t.Errorf("gene counts = %d/%d, want 1/1", summary.TotalGenes, summary.HighlyVariableGenes)
	}
	if len(summary.Clusters) != 2 {
		t.Fatalf("clusters = %+v", summary.Clusters)
	}
	if summary.Clusters[0].Percentage != 66.67 || summary.Clusters[1].Percentage != 33.33 {
		t.Errorf("percentages = %v, %v", summary.Clusters[0].Percentage, summary.Clusters[1].Percentage)
	}

	if _, err := f.queries.Summary(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Summary(missing) err = %v", err)
	}
}

func TestUMAP(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	data, err := f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k"})
	if err != nil {
		t.Fatalf("UMAP: %v", err)
	}
	if data.TotalCells != 3 || len(data.Clusters) != 2 {
		t.Fatalf("UMAP = %d cells, %d clusters", data.TotalCells, len(data.Clusters))
	}
	if data.Cells[0].ClusterColor == nil || *data.Cells[0].ClusterColor != "#1f77b4" {
		t.Errorf("first cell colour = %v", data.Cells[0].ClusterColor)
	}

	data, err = f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k", ClusterIDs: []string{"1"}})
	if err != nil {
		t.Fatalf("UMAP: %v", err)
	}
	if len(data.Cells) != 1 || data.Cells[0].CellBarcode != "GGG" || len(data.Clusters) != 1 {
		t.Errorf("cluster filter returned %+v", data)
	}

	for _, rate := range []float64{-0.5, 1.5} {
		if _, err := f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k", SampleRate: rate}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("sample_rate %v err = %v, want validation", rate, err)
		}
	}

	data, err = f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k", SampleRate: 1})
	if err != nil {
		t.Fatalf("UMAP with sample_rate 1: %v", err)
	}
	if data.TotalCells != 3 {
		t.Errorf("sample_rate 1 returned %d cells, want all 3", data.TotalCells)
	}

	data, err = f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k", SampleRate: 0.5})
	if err != nil {
		t.Fatalf("sampled UMAP: %v", err)
	}
	if len(data.Cells) > 3 {
		t.Errorf("sampling returned %d cells", len(data.Cells))
	}
}

func TestRegion(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	points, err := f.queries.Region(ctx, "pbmc3k", repository.Bounds{MinX: 0, MaxX: 2, MinY: 0, MaxY: 2})
	if err != nil {
		t.Fatalf("Region: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("region points = %d, want 2 (bounds are inclusive)", len(points))
	}

	if _, err := f.queries.Region(ctx, "pbmc3k", repository.Bounds{MinX: 3, MaxX: 2}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("inverted bounds err = %v", err)
	}
}

func TestClusterGenes(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	genes, err := f.queries.ClusterGenes(ctx, "pbmc3k", "0", DefaultMinLog2FC, DefaultMaxPValue)
	if err != nil {
		t.Fatalf("ClusterGenes: %v", err)
	}
	if len(genes) != 1 || genes[0].GeneSymbol != "CD3E" {
		t.Fatalf("genes = %+v, want CD3E only", genes)
	}
	if genes[0].MeanExpression == nil || *genes[0].MeanExpression != 1.5 {
		t.Errorf("MeanExpression = %v", genes[0].MeanExpression)
	}

	// Cluster 1 has no adjusted p-values, so nothing passes, but it exists.
	genes, err = f.queries.ClusterGenes(ctx, "pbmc3k", "1", DefaultMinLog2FC, DefaultMaxPValue)
	if err != nil || len(genes) != 0 {
		t.Errorf("ClusterGenes(1) = %v, %v", genes, err)
	}

	if _, err := f.queries.ClusterGenes(ctx, "pbmc3k", "9", DefaultMinLog2FC, DefaultMaxPValue); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown cluster err = %v", err)
	}
	if _, err := f.queries.ClusterGenes(ctx, "pbmc3k", "0", 0.5, 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("max_pvalue 0 err = %v", err)
	}
}

func TestMarkersTopN(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	markers, err := f.queries.Markers(ctx, "pbmc3k", "", 1)
	if err != nil {
		t.Fatalf("Markers: %v", err)
	}
	if len(markers) != 2 || markers[0].ClusterID != "0" || markers[1].ClusterID != "1" {
		t.Fatalf("markers = %+v", markers)
	}
	for _, m := range markers {
		if m.Rank != 1 {
			t.Errorf("rank = %d, want 1", m.Rank)
		}
	}
	if markers[0].EnsemblID == nil || *markers[0].EnsemblID != "CD3E" {
		t.Errorf("gene id should fall back to the symbol, got %v", markers[0].EnsemblID)
	}

	for _, n := range []int{-1, MaxMarkerTopN + 1} {
		if _, err := f.queries.Markers(ctx, "pbmc3k", "", n); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("top_n %d err = %v", n, err)
		}
	}
}

func TestOverlay(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	overlay, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E")
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if !overlay.Found || len(overlay.Cells) != 3 {
		t.Fatalf("overlay = %+v", overlay)
	}
	want := []float64{1.5, 0, 0}
	for i, c := range overlay.Cells {
		if c.Expression != want[i] {
			t.Errorf("cell %d expression = %v, want %v", i, c.Expression, want[i])
		}
	}
	st := overlay.Statistics
	if st.Max != 1.5 || st.Min != 0 || st.Mean != 0.5 || st.Median != 0 {
		t.Errorf("statistics = %+v", st)
	}
	if math.Abs(st.PctExpressing-100.0/3) > 1e-9 {
		t.Errorf("PctExpressing = %v, want %v", st.PctExpressing, 100.0/3)
	}

	overlay, err = f.queries.Overlay(ctx, "pbmc3k", "XIST")
	if err != nil {
		t.Fatalf("Overlay(XIST): %v", err)
	}
	if overlay.Found || overlay.Cells == nil || len(overlay.Cells) != 0 || overlay.Statistics != nil {
		t.Errorf("unknown gene overlay = %+v", overlay)
	}

	if _, err := f.queries.Overlay(ctx, "missing", "CD3E"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown dataset err = %v", err)
	}
}

func TestOverlayCacheInvalidatedByOverwrite(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	if _, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E"); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if f.queries.overlays.Len() != 1 {
		t.Fatalf("overlay was not cached")
	}

	m := pbmcMatrix().WithExpression([][]float64{{5, 0}, {0, 2}, {0, 3}})
	f.mustImport(t, ImportRequest{Matrix: m, Name: "pbmc3k", Overwrite: true, ImportExpression: true})

	overlay, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E")
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if overlay.Cells[0].Expression != 5 {
		t.Errorf("stale overlay served after overwrite: %v", overlay.Cells[0].Expression)
	}

	if err := f.imports.DeleteDataset(ctx, "pbmc3k"); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	if f.queries.overlays.Len() != 0 {
		t.Errorf("overlay cache holds %d entries after delete", f.queries.overlays.Len())
	}
	if _, err := f.queries.Summary(ctx, "pbmc3k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Summary after delete err = %v", err)
	}
}

func TestSearchGenes(t *testing.T) {
	f := newFixture(t)
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	ctx := context.Background()

	genes, err := f.queries.SearchGenes(ctx, "pbmc3k", "cd", 0)
	if err != nil {
		t.Fatalf("SearchGenes: %v", err)
	}
	if len(genes) != 1 || genes[0].GeneSymbol != "CD3E" {
		t.Errorf("genes = %+v", genes)
	}

	genes, _ = f.queries.SearchGenes(ctx, "pbmc3k", "S", 0)
	if len(genes) != 1 || genes[0].GeneSymbol != "MS4A1" {
		t.Errorf("genes = %+v", genes)
	}
	genes, _ = f.queries.SearchGenes(ctx, "pbmc3k", "e", 0)
	if len(genes) != 1 || genes[0].GeneSymbol != "CD3E" {
		t.Errorf("genes = %+v", genes)
	}

	if _, err := f.queries.SearchGenes(ctx, "pbmc3k", " ", 0); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty query err = %v", err)
	}
	if _, err := f.queries.SearchGenes(ctx, "pbmc3k", "cd", MaxSearchLimit+1); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("limit too large err = %v", err)
	}
}

func TestDeleteDuringReadIsNotCached(t *testing.T) {
	f := importedFixture(t)
	ctx := context.Background()

	deleted := false
	f.queries.beforeCache = func() {
		if deleted {
			return
		}
		deleted = true
		if err := f.imports.DeleteDataset(ctx, "pbmc3k"); err != nil {
			t.Fatalf("DeleteDataset: %v", err)
		}
	}

	if _, err := f.queries.Summary(ctx, "pbmc3k"); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if f.queries.summaries.Len() != 0 {
		t.Error("summary read before the delete was cached")
	}
	if _, err := f.queries.Summary(ctx, "pbmc3k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Summary after delete err = %v, want not found", err)
	}

	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", ImportExpression: true})
	deleted = false
	if _, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E"); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if f.queries.overlays.Len() != 0 {
		t.Error("overlay read before the delete was cached")
	}
	if _, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Overlay after delete err = %v, want not found", err)
	}

	f.queries.beforeCache = nil
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", ImportExpression: true})
	if _, err := f.queries.Overlay(ctx, "pbmc3k", "CD3E"); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if f.queries.overlays.Len() != 1 {
		t.Errorf("undisturbed overlay not cached, Len = %d", f.queries.overlays.Len())
	}
}
