// Package embedding turns text into unit-length vectors for similarity search.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector
// per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ServiceError reports a failure of the embedding backend.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &ServiceError{Op: "embed", Err: fmt.Errorf("got %d embeddings for 1 text", len(vecs))}
	}
	return vecs[0], nil
}
