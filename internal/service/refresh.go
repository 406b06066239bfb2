package service

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/kmap/internal/domain"
	"github.com/timmy/kmap/internal/logger"
	"github.com/timmy/kmap/internal/repository"
)

// Refresher rebuilds the read-optimized projection after any write to the base
// tables and drops the cached reads derived from them.
type Refresher struct {
	store *repository.Store

	mu          sync.Mutex
	invalidates []func(dataset string)
}

// NewRefresher creates a Refresher over store.
func NewRefresher(store *repository.Store) *Refresher {
	return &Refresher{store: store}
}

// OnRefresh registers fn to run after every refresh attempt.
// dataset is the written dataset, or "" for a full refresh.
func (r *Refresher) OnRefresh(fn func(dataset string)) {
	r.mu.Lock()
	r.invalidates = append(r.invalidates, fn)
	r.mu.Unlock()
}

// Refresh rebuilds the projection. Refreshes are serialized. Caches are
// invalidated even when the rebuild fails, since the base tables already changed.
// Failures are returned as *domain.RefreshError.
func (r *Refresher) Refresh(ctx context.Context, dataset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	err := r.store.Projection.Refresh(ctx)
	for _, fn := range r.invalidates {
		fn(dataset)
	}

	entry := logger.With(logger.Fields{
		logger.FieldComponent: "projection",
		logger.FieldDataset:   dataset,
	}).WithDuration(start)
	if err != nil {
		entry.Error(ctx, "Projection refresh failed: %v", err)
		return &domain.RefreshError{Err: err}
	}
	entry.Info(ctx, "Projection refreshed")
	return nil
}
