package view

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps views in a map.
type MemoryStore[V any] struct {
	mu    sync.RWMutex
	views map[string]V
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{views: make(map[string]V)}
}

// Find implements Store.
func (s *MemoryStore[V]) Find(ctx context.Context, viewID string) (V, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[viewID]
	return v, ok, nil
}

// Save implements Store.
func (s *MemoryStore[V]) Save(ctx context.Context, viewID string, view V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[viewID] = view
	return nil
}

// List implements Lister.
func (s *MemoryStore[V]) List(ctx context.Context, q Query[V]) (Paged[V], error) {
	s.mu.RLock()
	views := make([]keyed[V], 0, len(s.views))
	for id, v := range s.views {
		views = append(views, keyed[V]{id: id, view: v})
	}
	s.mu.RUnlock()

	return runQuery(views, q)
}

// Delete removes a view.
func (s *MemoryStore[V]) Delete(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, viewID)
}

// IDs returns the stored view ids, sorted.
func (s *MemoryStore[V]) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored views.
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}
