package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var _ VectorIndex = (*MemoryIndex)(nil)

// MemoryIndex is an in-memory vector index using brute-force inner product search.
type MemoryIndex struct {
	dimensions int
	entries    []Entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Dimensions returns the vector length accepted by the index.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add appends entries. Either all entries are added or none.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("%w: %s has %d, index expects %d", ErrDimensionMismatch, e.ID, len(e.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, m.dimensions)
		copy(vec, e.Vector)
		m.entries = append(m.entries, Entry{ID: e.ID, Owner: e.Owner, Vector: vec})
	}
	return nil
}

// Search returns up to k entries by descending inner product. A non-empty
// owner restricts the search to that owner's entries. Ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, owner string) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	scores := make([]Result, 0, len(m.entries))
	for _, e := range m.entries {
		if owner != "" && e.Owner != owner {
			continue
		}
		scores = append(scores, Result{ID: e.ID, Score: InnerProduct(query, e.Vector)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k < len(scores) {
		scores = scores[:k]
	}
	return scores, nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
