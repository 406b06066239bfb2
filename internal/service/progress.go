package service

import (
	"sync"
	"time"

	"github.com/timmy/kmap/internal/domain"
)

// Import phases, in execution order.
const (
	PhaseOpen       = "open"
	PhaseValidate   = "validate"
	PhaseMetadata   = "metadata"
	PhaseGenes      = "genes"
	PhaseCells      = "cells"
	PhaseClusters   = "cluster_stats"
	PhaseMarkers    = "marker_genes"
	PhaseExpression = "expression"
	PhaseCommit     = "commit"
	PhaseRefresh    = "refresh"
)

// ImportProgress is a snapshot of one running import.
type ImportProgress struct {
	ImportID      string
	DatasetName   string
	Phase         string
	ImportedCells int
	DeclaredCells int
	StartedAt     time.Time
}

// ProgressTracker serializes imports per dataset name and exposes their progress.
// The dataset row carries the same counter, but inside an uncommitted
// transaction, so pollers read it from here while an import runs.
type ProgressTracker struct {
	mu      sync.RWMutex
	running map[string]*ImportProgress
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{running: make(map[string]*ImportProgress)}
}

// Begin claims name for importID. A second claim fails until End is called.
func (t *ProgressTracker) Begin(name, importID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.running[name]; ok {
		return &domain.ConflictError{Name: name, Running: true}
	}
	t.running[name] = &ImportProgress{
		ImportID:    importID,
		DatasetName: name,
		Phase:       PhaseOpen,
		StartedAt:   time.Now(),
	}
	return nil
}

// End releases name.
func (t *ProgressTracker) End(name string) {
	t.mu.Lock()
	delete(t.running, name)
	t.mu.Unlock()
}

func (t *ProgressTracker) update(name string, fn func(p *ImportProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.running[name]; ok {
		fn(p)
	}
}

// SetPhase records the phase an import entered.
func (t *ProgressTracker) SetPhase(name, phase string) {
	t.update(name, func(p *ImportProgress) { p.Phase = phase })
}

// SetDeclared records the declared cell count of the source.
func (t *ProgressTracker) SetDeclared(name string, cells int) {
	t.update(name, func(p *ImportProgress) { p.DeclaredCells = cells })
}

// SetImported records the running imported cell count. It never decreases.
func (t *ProgressTracker) SetImported(name string, cells int) {
	t.update(name, func(p *ImportProgress) {
		if cells > p.ImportedCells {
			p.ImportedCells = cells
		}
	})
}

// Get returns a copy of the progress of a running import.
func (t *ProgressTracker) Get(name string) (ImportProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.running[name]
	if !ok {
		return ImportProgress{}, false
	}
	return *p, true
}

// Running reports whether an import of name is in flight.
func (t *ProgressTracker) Running(name string) bool {
	_, ok := t.Get(name)
	return ok
}
