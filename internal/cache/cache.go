// Package cache holds read-side results keyed by dataset.
package cache

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const sep = "\x00"

// Store is a size-bounded LRU of values for one query kind.
// Keys always start with the dataset name so a dataset can be evicted as a unit.
type Store[V any] struct {
	lru *lru.Cache[string, V]

	// gen advances on every invalidation; mu orders it against AddIfCurrent.
	mu  sync.Mutex
	gen uint64
}

// New creates a Store holding at most size entries. size <= 0 disables caching.
func New[V any](size int) (*Store[V], error) {
	if size <= 0 {
		return &Store[V]{}, nil
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Store[V]{lru: c}, nil
}

// Key builds a cache key for dataset plus any query parameters.
func Key(dataset string, parts ...string) string {
	return dataset + sep + strings.Join(parts, sep)
}

func (s *Store[V]) Get(key string) (V, bool) {
	if s.lru == nil {
		var zero V
		return zero, false
	}
	return s.lru.Get(key)
}

func (s *Store[V]) Add(key string, v V) {
	if s.lru != nil {
		s.lru.Add(key, v)
	}
}

// Generation returns the current invalidation generation. Capture it before
// reading the values that will be cached.
func (s *Store[V]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// AddIfCurrent caches v only if no invalidation happened since gen was taken.
func (s *Store[V]) AddIfCurrent(key string, v V, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.Add(key, v)
	return true
}

// Len reports the number of cached entries.
func (s *Store[V]) Len() int {
	if s.lru == nil {
		return 0
	}
	return s.lru.Len()
}

// InvalidateDataset drops every entry for dataset.
func (s *Store[V]) InvalidateDataset(dataset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.lru == nil {
		return 0
	}
	prefix := dataset + sep
	n := 0
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) && s.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Purge drops everything.
func (s *Store[V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.lru != nil {
		s.lru.Purge()
	}
}
