// Package store persists fragments with their embeddings and answers
// similarity queries over them.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrModelMismatch is returned when a database was written by a different
// embedding model than the one configured.
var ErrModelMismatch = errors.New("embedding model mismatch")

// FragmentStore is an append-only collection of embedded fragments.
// Implementations are safe for concurrent use.
type FragmentStore interface {
	// Add persists fragments atomically: all of them or none.
	Add(ctx context.Context, fragments []*models.Fragment) error
	// Query returns up to k fragments by descending similarity to vector.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]models.ScoredFragment, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Filter restricts a query. An empty Owner matches every fragment.
type Filter struct {
	Owner string
}

// Error is returned for failures to persist or query fragments.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fragment store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
