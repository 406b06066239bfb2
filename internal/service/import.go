package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
	"github.com/timmy/kmap/internal/source"
	"github.com/timmy/kmap/internal/source/fetch"
	"github.com/timmy/kmap/internal/source/zarr"
)

const (
	maxTopGenes     = 5000
	markerBatchSize = 1000
	geneBatchSize   = 1000

	varHighlyVariable = "highly_variable"
	varMeans          = "means"
	varDispersions    = "dispersions"
	varGeneIDs        = "gene_ids"
)

// ImportConfig holds configuration for the import pipeline.
type ImportConfig struct {
	// ClusterColumns is the priority list of obs columns; the first present wins.
	ClusterColumns      []string
	CellTypeColumn      string
	EmbeddingKey        string
	CellBatchSize       int
	ExpressionBatchSize int
	DefaultTopGenes     int
}

// ImportRequest describes one import. Exactly one of Location and Matrix is set.
type ImportRequest struct {
	// Location is resolved by the fetcher: a directory, an archive, s3:// or http(s)://.
	Location string
	// Matrix is an already opened source. The caller keeps ownership.
	Matrix source.Matrix

	Name             string
	OriginalFilename string
	Overwrite        bool
	ImportExpression bool
	// TopGenes is the per-cluster marker limit; 0 means the configured default.
	TopGenes int
}

// ImportStats counts the rows written by each phase.
type ImportStats struct {
	Genes             int   `json:"genes"`
	Cells             int   `json:"cells"`
	Clusters          int   `json:"clusters"`
	MarkerGenes       int   `json:"marker_genes"`
	ExpressionRows    int   `json:"expression_rows"`
	SkippedExpression int   `json:"skipped_expression"`
	DurationMs        int64 `json:"duration_ms"`
}

// ImportResult is the structured outcome of an import. Import never returns an error.
type ImportResult struct {
	Success             bool        `json:"success"`
	Message             string      `json:"message"`
	ImportID            string      `json:"import_id"`
	DatasetName         string      `json:"dataset_name"`
	NCells              int         `json:"n_cells,omitempty"`
	NGenes              int         `json:"n_genes,omitempty"`
	Stats               ImportStats `json:"stats"`
	ProjectionRefreshed bool        `json:"projection_refreshed"`

	// Err is the typed failure, matching one of the domain sentinels.
	Err error `json:"-"`
}

// ImportStatus is what a status poller sees.
type ImportStatus struct {
	DatasetName      string               `json:"dataset_name"`
	ProcessingStatus domain.DatasetStatus `json:"processing_status"`
	ImportedCells    int                  `json:"imported_cells"`
	DeclaredCells    int                  `json:"n_cells"`
	ProgressPercent  float64              `json:"progress_percent"`
	Phase            string               `json:"phase,omitempty"`
	ImportID         string               `json:"import_id,omitempty"`
}

// OpenFunc opens a fetched store directory as a source matrix.
type OpenFunc func(path string) (source.Matrix, error)

// ImportService runs the phased import pipeline and the admin operations around it.
type ImportService struct {
	store     *repository.Store
	resolver  *fetch.Resolver
	tracker   *ProgressTracker
	refresher *Refresher
	open      OpenFunc
	logger    *logger.Logger
	cfg       ImportConfig
}

// NewImportService creates a new import service. resolver may be nil when only
// ImportRequest.Matrix is used.
func NewImportService(
	store *repository.Store,
	resolver *fetch.Resolver,
	tracker *ProgressTracker,
	refresher *Refresher,
	log *logger.Logger,
	cfg ImportConfig,
) *ImportService {
	if cfg.CellBatchSize <= 0 {
		cfg.CellBatchSize = 2000
	}
	if cfg.ExpressionBatchSize <= 0 {
		cfg.ExpressionBatchSize = 10000
	}
	if cfg.DefaultTopGenes <= 0 {
		cfg.DefaultTopGenes = 100
	}
	if cfg.EmbeddingKey == "" {
		cfg.EmbeddingKey = "X_umap"
	}
	return &ImportService{
		store:     store,
		resolver:  resolver,
		tracker:   tracker,
		refresher: refresher,
		open:      func(path string) (source.Matrix, error) { return zarr.Open(path) },
		logger:    log,
		cfg:       cfg,
	}
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *ImportService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Import runs the whole pipeline synchronously. Every failure, including a
// panic in a phase, is turned into a result with Success=false; no partial
// dataset is ever committed.
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (result *ImportResult) {
	start := time.Now()
	result = &ImportResult{
		ImportID:    uuid.NewString(),
		DatasetName: req.Name,
	}
	ctx = logger.SetImportID(ctx, result.ImportID)
	ctx = logger.SetDataset(ctx, req.Name)
	ctx = logger.SetComponent(ctx, "import")

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, result, &domain.ImportError{Err: fmt.Errorf("panic: %v", r)})
		}
		result.Stats.DurationMs = time.Since(start).Milliseconds()
	}()

	topGenes, err := s.validateRequest(&req)
	if err != nil {
		s.fail(ctx, result, err)
		return result
	}

	if err := s.tracker.Begin(req.Name, result.ImportID); err != nil {
		s.fail(ctx, result, err)
		return result
	}
	defer s.tracker.End(req.Name)

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldSource: req.Location,
		"overwrite":        req.Overwrite,
		"expression":       req.ImportExpression,
		"top_genes":        topGenes,
	}).Info("Starting import")

	matrix, filename, closeFn, err := s.openSource(ctx, &req)
	if err != nil {
		s.fail(ctx, result, err)
		return result
	}
	defer closeFn()
	result.NCells, result.NGenes = matrix.NumCells(), matrix.NumGenes()
	s.tracker.SetDeclared(req.Name, matrix.NumCells())

	s.tracker.SetPhase(req.Name, PhaseValidate)
	clusterColumn, err := s.validateSource(matrix)
	if err != nil {
		s.fail(ctx, result, err)
		return result
	}

	exists, err := s.store.Datasets.ExistsByName(ctx, req.Name)
	if err != nil {
		s.fail(ctx, result, &domain.ImportError{Phase: PhaseValidate, Err: err})
		return result
	}
	if exists && !req.Overwrite {
		s.fail(ctx, result, &domain.ConflictError{Name: req.Name})
		return result
	}

	run := &importRun{
		svc:           s,
		req:           req,
		matrix:        matrix,
		clusterColumn: clusterColumn,
		topGenes:      topGenes,
		filename:      filename,
		stats:         &result.Stats,
	}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if exists {
			// Inside the transaction: a failed overwrite keeps the previous dataset.
			if err := tx.Datasets.DeleteByName(ctx, req.Name); err != nil {
				return &domain.ImportError{Phase: PhaseMetadata, Err: err}
			}
			s.log(ctx).Info("Deleted existing dataset for overwrite")
		}
		return run.execute(ctx, tx)
	})
	if err != nil {
		var ie *domain.ImportError
		if !errors.As(err, &ie) {
			err = &domain.ImportError{Phase: PhaseCommit, Err: err}
		}
		s.fail(ctx, result, err)
		return result
	}

	result.Success = true
	result.Message = fmt.Sprintf("Successfully imported dataset '%s'", req.Name)

	s.tracker.SetPhase(req.Name, PhaseRefresh)
	if err := s.refresher.Refresh(ctx, req.Name); err != nil {
		result.Message += fmt.Sprintf("; %v (retry with a projection refresh)", err)
	} else {
		result.ProjectionRefreshed = true
	}

	logger.With(logger.Fields{
		logger.FieldStatus: "completed",
		"cells":            result.Stats.Cells,
		"genes":            result.Stats.Genes,
		"clusters":         result.Stats.Clusters,
		"marker_genes":     result.Stats.MarkerGenes,
		"expression_rows":  result.Stats.ExpressionRows,
		"skipped":          result.Stats.SkippedExpression,
	}).WithDuration(start).Info(ctx, "Import completed")
	return result
}

func (s *ImportService) fail(ctx context.Context, result *ImportResult, err error) {
	result.Success = false
	result.Err = err
	result.Message = err.Error()

	var ie *domain.ImportError
	if errors.As(err, &ie) {
		result.Message = fmt.Sprintf("Error importing dataset: %v", err)
	}
	s.log(ctx).WithError(err).WithField(logger.FieldStatus, "failed").Warn("Import failed")
}

func (s *ImportService) validateRequest(req *ImportRequest) (int, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return 0, &domain.ValidationError{Reason: "dataset name is required"}
	}
	if req.Matrix == nil && strings.TrimSpace(req.Location) == "" {
		return 0, &domain.ValidationError{Reason: "a source location is required"}
	}

	topGenes := req.TopGenes
	if topGenes == 0 {
		topGenes = s.cfg.DefaultTopGenes
	}
	if topGenes < 1 || topGenes > maxTopGenes {
		return 0, &domain.ValidationError{Reason: fmt.Sprintf("top_genes must be within 1..%d, got %d", maxTopGenes, req.TopGenes)}
	}
	return topGenes, nil
}

// openSource returns the matrix to import and a func releasing everything it opened.
func (s *ImportService) openSource(ctx context.Context, req *ImportRequest) (source.Matrix, string, func(), error) {
	if req.Matrix != nil {
		return req.Matrix, req.OriginalFilename, func() {}, nil
	}
	if s.resolver == nil {
		return nil, "", nil, &domain.ImportError{Phase: PhaseOpen, Err: errors.New("no source resolver configured")}
	}

	local, err := s.resolver.Resolve(ctx, req.Location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("file not found: %s", req.Location)
		}
		return nil, "", nil, &domain.ImportError{Phase: PhaseOpen, Err: err}
	}

	matrix, err := s.open(local.Path)
	if err != nil {
		local.Close()
		return nil, "", nil, &domain.ImportError{Phase: PhaseOpen, Err: err}
	}

	filename := req.OriginalFilename
	if filename == "" {
		filename = local.Filename
	}
	closeFn := func() {
		matrix.Close()
		if err := local.Close(); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to remove fetched source")
		}
	}
	return matrix, filepath.Base(filename), closeFn, nil
}

// validateSource checks the embedding and cluster labels, listing everything missing.
func (s *ImportService) validateSource(m source.Matrix) (string, error) {
	var missing []string

	if !contains(m.Embeddings(), s.cfg.EmbeddingKey) {
		missing = append(missing, fmt.Sprintf("obsm['%s']", s.cfg.EmbeddingKey))
	}

	clusterColumn := ""
	obs := m.ObsColumns()
	for _, c := range s.cfg.ClusterColumns {
		if contains(obs, c) {
			clusterColumn = c
			break
		}
	}
	if clusterColumn == "" {
		missing = append(missing, fmt.Sprintf("obs clustering column (%s)", strings.Join(s.cfg.ClusterColumns, "/")))
	}

	if len(missing) > 0 {
		return "", &domain.ValidationError{Missing: missing}
	}
	return clusterColumn, nil
}

// DeleteDataset removes a dataset and everything under it, then refreshes the
// projection. A refresh failure is returned as *domain.RefreshError after the
// delete has been committed.
func (s *ImportService) DeleteDataset(ctx context.Context, name string) error {
	ctx = logger.SetDataset(ctx, name)
	if s.tracker.Running(name) {
		return &domain.ConflictError{Name: name, Running: true}
	}
	if err := s.store.Datasets.DeleteByName(ctx, name); err != nil {
		return err
	}
	s.log(ctx).Info("Dataset deleted")
	return s.refresher.Refresh(ctx, name)
}

// RefreshProjection forces a full projection rebuild.
func (s *ImportService) RefreshProjection(ctx context.Context) error {
	return s.refresher.Refresh(ctx, "")
}

// ImportStatus reports progress for a running import, else the stored dataset state.
func (s *ImportService) ImportStatus(ctx context.Context, name string) (*ImportStatus, error) {
	if p, ok := s.tracker.Get(name); ok {
		return &ImportStatus{
			DatasetName:      name,
			ProcessingStatus: domain.DatasetStatusImporting,
			ImportedCells:    p.ImportedCells,
			DeclaredCells:    p.DeclaredCells,
			ProgressPercent:  domain.ProgressPercent(p.ImportedCells, p.DeclaredCells),
			Phase:            p.Phase,
			ImportID:         p.ImportID,
		}, nil
	}

	dataset, err := s.store.Datasets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ImportStatus{
		DatasetName:      dataset.Name,
		ProcessingStatus: dataset.ProcessingStatus,
		ImportedCells:    dataset.ImportedCells,
		DeclaredCells:    dataset.NCells,
		ProgressPercent:  domain.ProgressPercent(dataset.ImportedCells, dataset.NCells),
	}, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// finite returns nil for NaN and infinities.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
