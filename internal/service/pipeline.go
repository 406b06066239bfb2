package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/source"
)

// importRun holds the state shared by the phases of one import.
type importRun struct {
	svc           *ImportService
	req           ImportRequest
	matrix        source.Matrix
	clusterColumn string
	topGenes      int
	filename      string
	stats         *ImportStats

	dataset  *domain.Dataset
	barcodes []string
	symbols  []string
	// persisted holds the source indexes of the genes written in the genes phase.
	persisted []int
	ensembl   map[string]string
	clusters  *clusterAccumulator
}

// execute runs every phase in order on tx. Each phase finishes before the next
// starts, since later phases look up IDs written by earlier ones.
func (r *importRun) execute(ctx context.Context, tx *repository.Store) error {
	phases := []struct {
		name string
		fn   func(context.Context, *repository.Store) error
	}{
		{PhaseMetadata, r.importMetadata},
		{PhaseGenes, r.importGenes},
		{PhaseCells, r.importCells},
		{PhaseClusters, r.importClusterStats},
		{PhaseMarkers, r.importMarkerGenes},
		{PhaseExpression, r.importExpression},
		{PhaseCommit, r.complete},
	}

	for _, p := range phases {
		r.svc.tracker.SetPhase(r.req.Name, p.name)
		start := time.Now()
		if err := p.fn(ctx, tx); err != nil {
			return &domain.ImportError{Phase: p.name, Err: err}
		}
		logger.With(logger.Fields{logger.FieldPhase: p.name}).
			WithDuration(start).
			Debug(ctx, "Import phase completed")
	}
	return nil
}

func (r *importRun) importMetadata(ctx context.Context, tx *repository.Store) error {
	barcodes, err := r.matrix.CellBarcodes()
	if err != nil {
		return fmt.Errorf("failed to read cell barcodes: %w", err)
	}
	symbols, err := r.matrix.GeneSymbols()
	if err != nil {
		return fmt.Errorf("failed to read gene symbols: %w", err)
	}
	r.barcodes, r.symbols = barcodes, symbols

	r.dataset = &domain.Dataset{
		Name:             r.req.Name,
		OriginalFilename: r.filename,
		NCells:           r.matrix.NumCells(),
		NGenes:           r.matrix.NumGenes(),
		ProcessingStatus: domain.DatasetStatusImporting,
	}
	return tx.Datasets.Create(ctx, r.dataset)
}

// importGenes writes gene rows. With expression import only highly variable genes are kept.
func (r *importRun) importGenes(ctx context.Context, tx *repository.Store) error {
	hvg := r.optionalVar(ctx, varHighlyVariable)
	means := r.optionalVar(ctx, varMeans)
	dispersions := r.optionalVar(ctx, varDispersions)
	geneIDs := r.optionalVar(ctx, varGeneIDs)

	r.ensembl = make(map[string]string, len(r.symbols))
	genes := make([]domain.Gene, 0, len(r.symbols))
	for i, symbol := range r.symbols {
		highlyVariable := hvg != nil && hvg.Truthy(i)

		// The ensembl column falls back to the symbol, as upstream tools do.
		ensemblID := symbol
		if geneIDs != nil {
			if id, ok := geneIDs.Label(i); ok && id != "" {
				ensemblID = id
			}
		}
		if _, ok := r.ensembl[symbol]; !ok {
			r.ensembl[symbol] = ensemblID
		}

		if r.req.ImportExpression && !highlyVariable {
			continue
		}

		id := ensemblID
		genes = append(genes, domain.Gene{
			DatasetID:      r.dataset.ID,
			GeneSymbol:     symbol,
			EnsemblID:      &id,
			HighlyVariable: highlyVariable,
			MeanExpression: columnNumber(means, i),
			Dispersion:     columnNumber(dispersions, i),
		})
		r.persisted = append(r.persisted, i)
	}

	if err := tx.Genes.CreateBatch(ctx, genes, geneBatchSize); err != nil {
		return err
	}
	r.stats.Genes = len(genes)
	logger.With(logger.Fields{logger.FieldPhase: PhaseGenes}).WithCount(len(genes)).Info(ctx, "Genes imported")
	return nil
}

// importCells writes cells in batches, advancing imported_cells after each one.
func (r *importRun) importCells(ctx context.Context, tx *repository.Store) error {
	cfg := r.svc.cfg
	coords, err := r.matrix.Embedding(cfg.EmbeddingKey)
	if err != nil {
		return fmt.Errorf("failed to read embedding %s: %w", cfg.EmbeddingKey, err)
	}
	if len(coords) != len(r.barcodes) {
		return fmt.Errorf("embedding has %d rows for %d cells", len(coords), len(r.barcodes))
	}

	clusterCol, err := r.matrix.ObsColumn(r.clusterColumn)
	if err != nil {
		return fmt.Errorf("failed to read cluster column %s: %w", r.clusterColumn, err)
	}

	var typeCol *source.Column
	var metaCols []*source.Column
	for _, name := range r.matrix.ObsColumns() {
		if name == r.clusterColumn {
			continue
		}
		col, err := r.matrix.ObsColumn(name)
		if err != nil {
			return fmt.Errorf("failed to read obs column %s: %w", name, err)
		}
		if name == cfg.CellTypeColumn {
			typeCol = col
			continue
		}
		metaCols = append(metaCols, col)
	}

	r.clusters = newClusterAccumulator(clusterCol)
	batch := make([]domain.Cell, 0, cfg.CellBatchSize)
	imported := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := tx.Cells.CreateBatch(ctx, batch); err != nil {
			return err
		}
		imported += len(batch)
		batch = batch[:0]

		if err := tx.Datasets.UpdateProgress(ctx, r.dataset.ID, imported); err != nil {
			return err
		}
		r.svc.tracker.SetImported(r.req.Name, imported)
		logger.With(logger.Fields{logger.FieldPhase: PhaseCells}).WithCount(imported).Debug(ctx, "Cell batch imported")
		return nil
	}

	for i, barcode := range r.barcodes {
		cell := domain.Cell{
			DatasetID:   r.dataset.ID,
			CellBarcode: barcode,
			UMAP1:       coords[i][0],
			UMAP2:       coords[i][1],
		}
		label, ok := clusterCol.Label(i)
		if !ok {
			label = MissingClusterLabel
		}
		cell.ClusterID = &label
		r.clusters.add(label, coords[i])
		if typeCol != nil {
			if label, ok := typeCol.Label(i); ok {
				cell.CellType = &label
			}
		}
		if len(metaCols) > 0 {
			values := make(map[string]any, len(metaCols))
			for _, col := range metaCols {
				values[col.Name] = col.Value(i)
			}
			cell.Metadata = domain.SanitizeMetadata(values)
		}

		batch = append(batch, cell)
		if len(batch) >= cfg.CellBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	r.stats.Cells = imported
	logger.With(logger.Fields{logger.FieldPhase: PhaseCells}).WithCount(imported).Info(ctx, "Cells imported")
	return nil
}

func (r *importRun) importClusterStats(ctx context.Context, tx *repository.Store) error {
	palette, err := r.matrix.Palette(r.clusterColumn)
	if err != nil {
		return fmt.Errorf("failed to read palette: %w", err)
	}

	stats := r.clusters.rows(r.dataset.ID, palette)
	if err := tx.Clusters.CreateBatch(ctx, stats); err != nil {
		return err
	}
	r.stats.Clusters = len(stats)
	logger.With(logger.Fields{logger.FieldPhase: PhaseClusters}).WithCount(len(stats)).Info(ctx, "Cluster stats imported")
	return nil
}

// importMarkerGenes keeps the top-N ranked genes of every group with 1-based ranks.
func (r *importRun) importMarkerGenes(ctx context.Context, tx *repository.Store) error {
	ranked, err := r.matrix.RankedGenes()
	if err != nil {
		return fmt.Errorf("failed to read ranked genes: %w", err)
	}
	if ranked == nil {
		r.svc.log(ctx).Info("No ranked genes in source, skipping marker genes")
		return nil
	}

	var markers []domain.MarkerGene
	for _, group := range ranked.Groups {
		names := ranked.Names[group]
		rank := 0
		for j := 0; j < len(names) && rank < r.topGenes; j++ {
			if names[j] == "" {
				continue
			}
			rank++
			m := domain.MarkerGene{
				DatasetID:      r.dataset.ID,
				ClusterID:      group,
				GeneSymbol:     names[j],
				Log2FoldChange: valueAt(ranked.LogFoldChanges[group], j),
				PValue:         valueAt(ranked.PValues[group], j),
				PValueAdj:      valueAt(ranked.PValuesAdj[group], j),
				Rank:           rank,
			}
			if id, ok := r.ensembl[names[j]]; ok {
				m.EnsemblID = &id
			}
			markers = append(markers, m)
		}
	}

	if err := tx.Markers.CreateBatch(ctx, markers, markerBatchSize); err != nil {
		return err
	}
	r.stats.MarkerGenes = len(markers)
	logger.With(logger.Fields{logger.FieldPhase: PhaseMarkers}).WithCount(len(markers)).Info(ctx, "Marker genes imported")
	return nil
}

// importExpression writes every strictly positive entry of the highly variable
// genes. Entries whose cell or gene was not persisted are counted and skipped.
func (r *importRun) importExpression(ctx context.Context, tx *repository.Store) error {
	if !r.req.ImportExpression {
		return nil
	}
	if len(r.persisted) == 0 {
		r.svc.log(ctx).Warn("No highly variable genes, skipping expression import")
		return nil
	}

	sparse, err := r.matrix.Expression(r.persisted)
	if err != nil {
		return fmt.Errorf("failed to read expression matrix: %w", err)
	}
	cellIDs, err := tx.Cells.IDsByBarcode(ctx, r.dataset.ID)
	if err != nil {
		return err
	}
	geneIDs, err := tx.Genes.IDsBySymbol(ctx, r.dataset.ID)
	if err != nil {
		return err
	}

	size := r.svc.cfg.ExpressionBatchSize
	batch := make([]domain.GeneExpression, 0, min(size, sparse.NNZ()))
	written, skipped := 0, 0

	for k := 0; k < sparse.NNZ(); k++ {
		v := sparse.Values[k]
		if !(v > 0) {
			continue
		}
		row, col := sparse.Rows[k], sparse.Cols[k]
		if row < 0 || row >= len(r.barcodes) || col < 0 || col >= len(r.persisted) {
			skipped++
			continue
		}
		cellID, okCell := cellIDs[r.barcodes[row]]
		geneID, okGene := geneIDs[r.symbols[r.persisted[col]]]
		if !okCell || !okGene {
			skipped++
			continue
		}

		batch = append(batch, domain.GeneExpression{
			DatasetID:       r.dataset.ID,
			CellID:          cellID,
			GeneID:          geneID,
			ExpressionValue: v,
		})
		if len(batch) >= size {
			if err := tx.Expression.CreateBatch(ctx, batch); err != nil {
				return err
			}
			written += len(batch)
			batch = batch[:0]
		}
	}
	if err := tx.Expression.CreateBatch(ctx, batch); err != nil {
		return err
	}
	written += len(batch)

	r.stats.ExpressionRows = written
	r.stats.SkippedExpression = skipped
	entry := logger.With(logger.Fields{logger.FieldPhase: PhaseExpression, "skipped": skipped}).WithCount(written)
	if skipped > 0 {
		entry.Warn(ctx, "Expression imported with unresolved entries skipped")
	} else {
		entry.Info(ctx, "Expression imported")
	}
	return nil
}

func (r *importRun) complete(ctx context.Context, tx *repository.Store) error {
	return tx.Datasets.UpdateStatus(ctx, r.dataset.ID, domain.DatasetStatusCompleted)
}

// optionalVar returns a var column, or nil when the source does not carry it.
func (r *importRun) optionalVar(ctx context.Context, name string) *source.Column {
	if !contains(r.matrix.VarColumns(), name) {
		return nil
	}
	col, err := r.matrix.VarColumn(name)
	if err != nil {
		r.svc.log(ctx).WithError(err).WithField("column", name).Warn("Ignoring unreadable var column")
		return nil
	}
	return col
}

func columnNumber(col *source.Column, i int) *float64 {
	if col == nil {
		return nil
	}
	v, ok := col.Number(i)
	if !ok {
		return nil
	}
	return finite(v)
}

func valueAt(values []float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return finite(values[i])
}
