// Package keyword provides a full-text (BM25) index over fragments, used to
// complement vector similarity in hybrid retrieval.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// SearchOptions tunes keyword scoring. Nil means defaults.
type SearchOptions struct {
	// SourceBoost multiplies matches in the source filename. Values <= 1 disable it.
	SourceBoost float64
	// PhraseBoost multiplies the score of fragments containing the query as a phrase.
	PhraseBoost float64
	// Fuzzy enables typo-tolerant term matching within Fuzziness edits (default 1).
	Fuzzy     bool
	Fuzziness int
}

// KeywordIndex indexes fragment text for term search.
type KeywordIndex interface {
	IndexFragments(ctx context.Context, fragments []*models.Fragment) error
	// Search returns up to limit fragment IDs by descending score. A non-empty
	// owner restricts results to that owner's fragments.
	Search(ctx context.Context, query string, limit int, owner string, opts *SearchOptions) ([]Result, error)
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword hit; ID is the fragment ID.
type Result struct {
	ID    string
	Score float64
}
