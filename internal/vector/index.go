// Package vector provides nearest-neighbour search over fragment embeddings.
package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndex stores fragment vectors and answers top-k similarity queries.
type VectorIndex interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, owner string) ([]Result, error)
	Size() int
	Close() error
}

// Entry is one indexed vector. Owner is empty when fragments are not tenant-scoped.
type Entry struct {
	ID     string
	Owner  string
	Vector []float32
}

// Result is a single search hit; ID is the fragment ID.
type Result struct {
	ID    string
	Score float64 // inner product, equal to cosine similarity for normalized vectors
}
