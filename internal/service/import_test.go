package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/repository/testutil"
	"github.com/timmy/kmap/internal/source"
	"github.com/timmy/kmap/internal/source/memory"
	"gorm.io/gorm"
)

type fixture struct {
	store   *repository.Store
	tracker *ProgressTracker
	imports *ImportService
	queries *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewStore(testutil.SQLite(t))
	tracker := NewProgressTracker()
	refresher := NewRefresher(store)

	imports := NewImportService(store, nil, tracker, refresher, logger.GetDefault(), ImportConfig{
		ClusterColumns:      []string{"leiden", "louvain", "cluster"},
		CellTypeColumn:      "cell_type",
		EmbeddingKey:        "X_umap",
		CellBatchSize:       2,
		ExpressionBatchSize: 2,
		DefaultTopGenes:     100,
	})
	queries, err := NewQueryService(store, refresher, 16, logger.GetDefault())
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}
	return &fixture{store: store, tracker: tracker, imports: imports, queries: queries}
}

// pbmcMatrix has 3 cells in 2 clusters and 2 genes, CD3E highly variable.
func pbmcMatrix() *memory.Matrix {
	return memory.New([]string{"AAA", "CCC", "GGG"}, []string{"CD3E", "MS4A1"}).
		WithEmbedding("X_umap", [][2]float64{{0, 0}, {2, 2}, {10, 10}}).
		WithObs(memory.Categorical("leiden", []string{"0", "1"}, []string{"0", "0", "1"})).
		WithObs(memory.Strings("cell_type", []string{"T", "T", "B"})).
		WithObs(memory.Numbers("n_counts", []float64{100, math.NaN(), 300})).
		WithObs(memory.Bools("is_doublet", []bool{false, true, false})).
		WithVar(memory.Bools("highly_variable", []bool{true, false})).
		WithVar(memory.Numbers("means", []float64{1.5, 0.2})).
		WithVar(memory.Numbers("dispersions", []float64{2.1, math.Inf(1)})).
		WithPalette("leiden", []string{"#1f77b4", "#ff7f0e"}).
		WithRankedGenes(&source.RankedGenes{
			Groups:         []string{"0", "1"},
			Names:          map[string][]string{"0": {"CD3E", "MS4A1"}, "1": {"MS4A1", "CD3E"}},
			LogFoldChanges: map[string][]float64{"0": {2, -1}, "1": {3, -2}},
			PValues:        map[string][]float64{"0": {0.0001, 0.4}},
			PValuesAdj:     map[string][]float64{"0": {0.001, 0.5}},
		}).
		WithExpression([][]float64{
			{1.5, 0},
			{0, 2},
			{0, 3},
		})
}

func (f *fixture) mustImport(t *testing.T, req ImportRequest) *ImportResult {
	t.Helper()
	res := f.imports.Import(context.Background(), req)
	if !res.Success {
		t.Fatalf("Import(%s) failed: %s", req.Name, res.Message)
	}
	return res
}

func TestImportScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", OriginalFilename: "pbmc3k.zarr", ImportExpression: true})

	want := ImportStats{Genes: 1, Cells: 3, Clusters: 2, MarkerGenes: 4, ExpressionRows: 1}
	got := res.Stats
	got.DurationMs = 0
	if got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
	if !res.ProjectionRefreshed {
		t.Error("projection was not refreshed")
	}
	if res.NCells != 3 || res.NGenes != 2 || res.ImportID == "" {
		t.Errorf("result = %+v", res)
	}

	dataset, err := f.store.Datasets.GetByName(ctx, "pbmc3k")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if dataset.ProcessingStatus != domain.DatasetStatusCompleted || dataset.ImportedCells != 3 {
		t.Errorf("dataset = %+v", dataset)
	}
	if dataset.OriginalFilename != "pbmc3k.zarr" {
		t.Errorf("OriginalFilename = %q, want pbmc3k.zarr", dataset.OriginalFilename)
	}

	stats, err := f.store.Clusters.ListByDataset(ctx, dataset.ID)
	if err != nil {
		t.Fatalf("ListByDataset: %v", err)
	}
	sum := 0
	for _, cs := range stats {
		sum += cs.CellCount
	}
	if len(stats) != 2 || sum != 3 {
		t.Fatalf("cluster stats = %+v, want 2 rows summing to 3", stats)
	}
	if stats[0].ClusterID != "0" || stats[0].MeanUMAP1 != 1 || *stats[0].ClusterColor != "#1f77b4" {
		t.Errorf("cluster 0 = %+v", stats[0])
	}
	if *stats[1].ClusterColor != "#ff7f0e" {
		t.Errorf("cluster 1 colour = %v", *stats[1].ClusterColor)
	}

	cells, err := f.store.Cells.ListByDataset(ctx, dataset.ID)
	if err != nil {
		t.Fatalf("cells: %v", err)
	}
	for _, c := range cells {
		if c.ClusterID == nil {
			t.Fatalf("cell %s has no cluster", c.CellBarcode)
		}
		if _, ok := c.Metadata["n_counts"]; !ok {
			t.Errorf("cell %s metadata lacks n_counts: %v", c.CellBarcode, c.Metadata)
		}
		if _, ok := c.Metadata["cell_type"]; ok {
			t.Errorf("cell_type must not be duplicated into metadata")
		}
	}
	if cells[1].Metadata["n_counts"] != nil {
		t.Errorf("NaN n_counts should be stored as null, got %v", cells[1].Metadata["n_counts"])
	}
	if cells[2].CellType == nil || *cells[2].CellType != "B" {
		t.Errorf("cell_type of GGG = %v", cells[2].CellType)
	}

	gene, err := f.store.Genes.GetBySymbol(ctx, dataset.ID, "CD3E")
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if !gene.HighlyVariable || *gene.MeanExpression != 1.5 {
		t.Errorf("gene = %+v", gene)
	}
	if _, err := f.store.Genes.GetBySymbol(ctx, dataset.ID, "MS4A1"); !domain.IsNotFound(err) {
		t.Errorf("non-variable gene should be skipped with expression import, err = %v", err)
	}
}

func TestImportWithoutExpressionKeepsAllGenes(t *testing.T) {
	f := newFixture(t)
	res := f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	if res.Stats.Genes != 2 || res.Stats.ExpressionRows != 0 {
		t.Errorf("Stats = %+v", res.Stats)
	}

	dataset, _ := f.store.Datasets.GetByName(context.Background(), "pbmc3k")
	gene, err := f.store.Genes.GetBySymbol(context.Background(), dataset.ID, "MS4A1")
	if err != nil {
		t.Fatalf("GetBySymbol: %v", err)
	}
	if gene.Dispersion != nil {
		t.Errorf("infinite dispersion should be null, got %v", *gene.Dispersion)
	}
}

func TestMarkerRanksAreContiguous(t *testing.T) {
	f := newFixture(t)
	m := pbmcMatrix()
	m.WithRankedGenes(&source.RankedGenes{
		Groups: []string{"0", "1"},
		Names: map[string][]string{
			"0": {"CD3E", "", "MS4A1", "NKG7"},
			"1": {"MS4A1"},
		},
	})
	f.mustImport(t, ImportRequest{Matrix: m, Name: "pbmc3k", TopGenes: 2})

	markers, err := f.queries.Markers(context.Background(), "pbmc3k", "", 200)
	if err != nil {
		t.Fatalf("Markers: %v", err)
	}
	var got []string
	for _, mg := range markers {
		got = append(got, fmt.Sprintf("%s/%d/%s", mg.ClusterID, mg.Rank, mg.GeneSymbol))
		if mg.Log2FoldChange != nil {
			t.Errorf("absent fold change stored as %v", *mg.Log2FoldChange)
		}
	}
	want := []string{"0/1/CD3E", "0/2/MS4A1", "1/1/MS4A1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("markers = %v, want %v", got, want)
	}
}

func TestImportValidationListsEveryMissingField(t *testing.T) {
	f := newFixture(t)
	m := memory.New([]string{"AAA"}, []string{"CD3E"}).
		WithObs(memory.Strings("sample", []string{"s1"}))

	res := f.imports.Import(context.Background(), ImportRequest{Matrix: m, Name: "broken"})
	if res.Success {
		t.Fatal("import should fail")
	}
	var ve *domain.ValidationError
	if !errors.As(res.Err, &ve) {
		t.Fatalf("Err = %v, want *ValidationError", res.Err)
	}
	if len(ve.Missing) != 2 {
		t.Errorf("Missing = %v, want embedding and cluster column", ve.Missing)
	}
	if exists, _ := f.store.Datasets.ExistsByName(context.Background(), "broken"); exists {
		t.Error("validation failure must not create a dataset")
	}
	if f.tracker.Running("broken") {
		t.Error("tracker still holds the name")
	}
}

func TestImportRequestValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  ImportRequest
	}{
		{"empty name", ImportRequest{Matrix: pbmcMatrix(), Name: "  "}},
		{"no source", ImportRequest{Name: "pbmc3k"}},
		{"top genes too large", ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", TopGenes: 5001}},
		{"negative top genes", ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", TopGenes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.imports.Import(context.Background(), tt.req)
			if res.Success || !errors.Is(res.Err, domain.ErrValidation) {
				t.Errorf("result = %+v, want validation failure", res)
			}
		})
	}
}

func TestImportConflict(t *testing.T) {
	f := newFixture(t)
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})

	res := f.imports.Import(context.Background(), ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	if res.Success || !errors.Is(res.Err, domain.ErrConflict) {
		t.Fatalf("second import = %+v, want conflict", res)
	}

	if err := f.tracker.Begin("pbmc-running", "other"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	res = f.imports.Import(context.Background(), ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc-running", Overwrite: true})
	var ce *domain.ConflictError
	if !errors.As(res.Err, &ce) || !ce.Running {
		t.Errorf("concurrent import Err = %v, want running conflict", res.Err)
	}
}

type cellRow struct {
	Barcode        string
	UMAP1, UMAP2   float64
	Cluster, Type  string
	MetadataString string
}

func snapshot(t *testing.T, f *fixture, name string) ([]cellRow, []domain.ClusterStats, []string) {
	t.Helper()
	ctx := context.Background()
	dataset, err := f.store.Datasets.GetByName(ctx, name)
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}

	cells, _ := f.store.Cells.ListByDataset(ctx, dataset.ID)
	rows := make([]cellRow, len(cells))
	for i, c := range cells {
		rows[i] = cellRow{
			Barcode:        c.CellBarcode,
			UMAP1:          c.UMAP1,
			UMAP2:          c.UMAP2,
			Cluster:        deref(c.ClusterID),
			Type:           deref(c.CellType),
			MetadataString: fmt.Sprint(c.Metadata),
		}
	}

	stats, _ := f.store.Clusters.ListByDataset(ctx, dataset.ID)
	for i := range stats {
		stats[i].ID, stats[i].DatasetID = 0, 0
	}

	genes, _ := f.store.Genes.Search(ctx, dataset.ID, "", 100)
	var symbols []string
	for _, g := range genes {
		symbols = append(symbols, g.GeneSymbol)
	}
	return rows, stats, symbols
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestOverwriteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req := ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", ImportExpression: true}
	f.mustImport(t, req)
	cells1, stats1, genes1 := snapshot(t, f, "pbmc3k")

	req.Overwrite = true
	f.mustImport(t, req)
	cells2, stats2, genes2 := snapshot(t, f, "pbmc3k")

	if !reflect.DeepEqual(cells1, cells2) {
		t.Errorf("cells differ after overwrite:\n%+v\n%+v", cells1, cells2)
	}
	if !reflect.DeepEqual(stats1, stats2) {
		t.Errorf("cluster stats differ after overwrite:\n%+v\n%+v", stats1, stats2)
	}
	if !reflect.DeepEqual(genes1, genes2) {
		t.Errorf("genes differ after overwrite: %v vs %v", genes1, genes2)
	}

	datasets, _ := f.queries.ListDatasets(context.Background())
	if len(datasets) != 1 {
		t.Errorf("datasets = %d, want 1", len(datasets))
	}
}

func TestFailedImportRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No X: the expression phase fails after cells were written.
	noX := memory.New([]string{"AAA", "CCC"}, []string{"CD3E"}).
		WithEmbedding("X_umap", [][2]float64{{0, 0}, {1, 1}}).
		WithObs(memory.Strings("cluster", []string{"a", "b"})).
		WithVar(memory.Bools("highly_variable", []bool{true}))

	res := f.imports.Import(ctx, ImportRequest{Matrix: noX, Name: "partial", ImportExpression: true})
	if res.Success || !errors.Is(res.Err, domain.ErrImportFailed) {
		t.Fatalf("result = %+v, want import failure", res)
	}
	var ie *domain.ImportError
	if errors.As(res.Err, &ie) && ie.Phase != PhaseExpression {
		t.Errorf("failed phase = %q, want %q", ie.Phase, PhaseExpression)
	}
	if exists, _ := f.store.Datasets.ExistsByName(ctx, "partial"); exists {
		t.Error("failed import left a dataset row")
	}
	var cells int64
	f.store.DB().Model(&domain.Cell{}).Count(&cells)
	if cells != 0 {
		t.Errorf("failed import left %d cells", cells)
	}

	// A failed overwrite keeps the previous dataset.
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	res = f.imports.Import(ctx, ImportRequest{Matrix: noX, Name: "pbmc3k", Overwrite: true, ImportExpression: true})
	if res.Success {
		t.Fatal("overwrite with a broken source should fail")
	}
	data, err := f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k"})
	if err != nil {
		t.Fatalf("UMAP: %v", err)
	}
	if len(data.Cells) != 3 {
		t.Errorf("previous dataset has %d cells after failed overwrite, want 3", len(data.Cells))
	}
}

// orphanMatrix adds an expression entry for a cell that does not exist.
type orphanMatrix struct {
	*memory.Matrix
}

func (m orphanMatrix) Expression(genes []int) (*source.SparseMatrix, error) {
	sp, err := m.Matrix.Expression(genes)
	if err != nil {
		return nil, err
	}
	sp.Append(99, 0, 4.2)
	sp.Append(0, 0, -1)
	return sp, nil
}

func TestSkippedExpressionIsCounted(t *testing.T) {
	f := newFixture(t)
	res := f.mustImport(t, ImportRequest{Matrix: orphanMatrix{pbmcMatrix()}, Name: "pbmc3k", ImportExpression: true})
	if res.Stats.SkippedExpression != 1 {
		t.Errorf("SkippedExpression = %d, want 1 (negative values are dropped, not skipped)", res.Stats.SkippedExpression)
	}
	if res.Stats.ExpressionRows != 1 {
		t.Errorf("ExpressionRows = %d, want 1", res.Stats.ExpressionRows)
	}
}

type panicMatrix struct {
	*memory.Matrix
}

func (panicMatrix) RankedGenes() (*source.RankedGenes, error) {
	panic("corrupt uns")
}

func TestPanicBecomesFailureResult(t *testing.T) {
	f := newFixture(t)
	res := f.imports.Import(context.Background(), ImportRequest{Matrix: panicMatrix{pbmcMatrix()}, Name: "pbmc3k"})
	if res.Success || !errors.Is(res.Err, domain.ErrImportFailed) {
		t.Fatalf("result = %+v, want import failure", res)
	}
	if exists, _ := f.store.Datasets.ExistsByName(context.Background(), "pbmc3k"); exists {
		t.Error("panicking import left a dataset row")
	}
	if f.tracker.Running("pbmc3k") {
		t.Error("tracker still holds the name after a panic")
	}
}

func TestImportStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.imports.ImportStatus(ctx, "pbmc3k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("status of unknown dataset err = %v", err)
	}

	f.tracker.Begin("pbmc3k", "import-1")
	f.tracker.SetDeclared("pbmc3k", 8)
	f.tracker.SetImported("pbmc3k", 2)
	f.tracker.SetImported("pbmc3k", 1)
	status, err := f.imports.ImportStatus(ctx, "pbmc3k")
	if err != nil {
		t.Fatalf("ImportStatus: %v", err)
	}
	if status.ProcessingStatus != domain.DatasetStatusImporting || status.ImportedCells != 2 || status.ProgressPercent != 25 {
		t.Errorf("running status = %+v", status)
	}
	f.tracker.End("pbmc3k")

	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	status, err = f.imports.ImportStatus(ctx, "pbmc3k")
	if err != nil {
		t.Fatalf("ImportStatus: %v", err)
	}
	if status.ProcessingStatus != domain.DatasetStatusCompleted || status.ProgressPercent != 100 {
		t.Errorf("completed status = %+v", status)
	}
}

func TestDeleteDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k", ImportExpression: true})

	if err := f.imports.DeleteDataset(ctx, "pbmc3k"); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	data, err := f.queries.UMAP(ctx, UMAPQuery{DatasetName: "pbmc3k"})
	if err != nil {
		t.Fatalf("UMAP: %v", err)
	}
	if len(data.Cells) != 0 || len(data.Clusters) != 0 {
		t.Errorf("deleted dataset still visible: %d cells, %d clusters", len(data.Cells), len(data.Clusters))
	}
	if err := f.imports.DeleteDataset(ctx, "pbmc3k"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}

func TestClusterCountsCoverEveryCell(t *testing.T) {
	nullLabel := memory.Categorical("leiden", []string{"0", "1"}, []string{"0", "", "1"})
	nullLabel.Missing = []bool{false, true, false}

	tests := []struct {
		name   string
		column *source.Column
		want   []string
	}{
		{"null label", nullLabel, []string{"0", "1", MissingClusterLabel}},
		{"label outside categories", memory.Categorical("leiden", []string{"0", "1"}, []string{"0", "2", "1"}), []string{"0", "1", "2"}},
		{"numeric nan label", memory.Numbers("leiden", []float64{0, math.NaN(), 1}), []string{"0", "1", MissingClusterLabel}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			m := memory.New([]string{"AAA", "CCC", "GGG"}, []string{"CD3E"}).
				WithEmbedding("X_umap", [][2]float64{{0, 0}, {2, 2}, {10, 10}}).
				WithObs(tt.column).
				WithPalette("leiden", []string{"#1f77b4", "#ff7f0e"})
			res := f.mustImport(t, ImportRequest{Matrix: m, Name: "pbmc3k"})

			dataset, err := f.store.Datasets.GetByName(ctx, "pbmc3k")
			if err != nil {
				t.Fatalf("GetByName: %v", err)
			}
			stats, err := f.store.Clusters.ListByDataset(ctx, dataset.ID)
			if err != nil {
				t.Fatalf("ListByDataset: %v", err)
			}
			sum := 0
			var ids []string
			for _, cs := range stats {
				sum += cs.CellCount
				ids = append(ids, cs.ClusterID)
			}
			if sum != dataset.ImportedCells || sum != res.Stats.Cells {
				t.Errorf("sum(cell_count) = %d, imported cells = %d", sum, dataset.ImportedCells)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Fatalf("clusters = %v, want %v", ids, tt.want)
			}
			if stats[2].ClusterColor != nil {
				t.Errorf("cluster %s outside the palette got colour %s", stats[2].ClusterID, *stats[2].ClusterColor)
			}

			cells, err := f.store.Cells.ListByDataset(ctx, dataset.ID)
			if err != nil {
				t.Fatalf("cells: %v", err)
			}
			if got := deref(cells[1].ClusterID); got != tt.want[2] {
				t.Errorf("CCC cluster = %q, want %q", got, tt.want[2])
			}
		})
	}
}

func TestRefreshFailureKeepsCommittedImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.DB().Exec("DROP TABLE umap_view").Error; err != nil {
		t.Fatalf("drop projection: %v", err)
	}

	res := f.imports.Import(ctx, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})
	if !res.Success || res.ProjectionRefreshed {
		t.Fatalf("result = %+v, want success without projection refresh", res)
	}
	if !strings.Contains(res.Message, "retry") {
		t.Errorf("message %q does not suggest a retry", res.Message)
	}
	if exists, _ := f.store.Datasets.ExistsByName(ctx, "pbmc3k"); !exists {
		t.Fatal("committed dataset is missing after a failed refresh")
	}

	err := f.imports.RefreshProjection(ctx)
	var re *domain.RefreshError
	if !errors.As(err, &re) || !errors.Is(err, domain.ErrRefreshFailed) {
		t.Errorf("RefreshProjection err = %v, want *domain.RefreshError", err)
	}

	err = f.imports.DeleteDataset(ctx, "pbmc3k")
	if !errors.As(err, &re) {
		t.Errorf("DeleteDataset err = %v, want *domain.RefreshError", err)
	}
	if exists, _ := f.store.Datasets.ExistsByName(ctx, "pbmc3k"); exists {
		t.Error("delete must commit even when the refresh fails")
	}

	if err := f.store.Projection.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := f.imports.RefreshProjection(ctx); err != nil {
		t.Errorf("retried refresh: %v", err)
	}
}

func TestImportReportsProgressPerBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen []ImportStatus
	err := f.store.DB().Callback().Create().Before("gorm:create").Register("kmap_test:progress", func(tx *gorm.DB) {
		if tx.Statement.Table != "cells" {
			return
		}
		status, err := f.imports.ImportStatus(ctx, "pbmc3k")
		if err != nil {
			t.Errorf("ImportStatus during import: %v", err)
			return
		}
		seen = append(seen, *status)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	f.mustImport(t, ImportRequest{Matrix: pbmcMatrix(), Name: "pbmc3k"})

	// CellBatchSize is 2, so the second batch starts after two cells.
	if len(seen) != 2 {
		t.Fatalf("observed %d cell batches, want 2", len(seen))
	}
	for i, want := range []int{0, 2} {
		st := seen[i]
		if st.ProcessingStatus != domain.DatasetStatusImporting || st.ImportedCells != want || st.DeclaredCells != 3 {
			t.Errorf("batch %d status = %+v, want %d of 3 importing", i, st, want)
		}
	}
	if seen[1].ProgressPercent != domain.ProgressPercent(2, 3) {
		t.Errorf("progress = %v", seen[1].ProgressPercent)
	}
}
