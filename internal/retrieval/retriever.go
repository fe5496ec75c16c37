// Package retrieval finds the fragments most relevant to a question.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

const (
	DefaultKeywordWeight  = 0.3
	DefaultSemanticWeight = 0.7
)

// FragmentLoader loads fragments by ID; keyword-only hits are hydrated through it.
type FragmentLoader interface {
	Fragments(ctx context.Context, ids []string) (map[string]*models.Fragment, error)
}

// Retriever embeds a question and queries the fragment store, optionally
// fusing in keyword matches.
type Retriever struct {
	embedder embedding.Embedder
	store    store.FragmentStore
	logger   *zap.Logger

	keyword        keyword.KeywordIndex
	loader         FragmentLoader
	keywordOpts    *keyword.SearchOptions
	keywordWeight  float64
	semanticWeight float64
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithHybrid enables keyword+semantic fusion. Non-positive weights fall back to defaults.
func WithHybrid(idx keyword.KeywordIndex, loader FragmentLoader, keywordWeight, semanticWeight float64) Option {
	return func(r *Retriever) {
		r.keyword = idx
		r.loader = loader
		r.keywordWeight = keywordWeight
		r.semanticWeight = semanticWeight
		if keywordWeight <= 0 && semanticWeight <= 0 {
			r.keywordWeight, r.semanticWeight = DefaultKeywordWeight, DefaultSemanticWeight
		}
	}
}

// WithKeywordOptions tunes the keyword side of hybrid retrieval.
func WithKeywordOptions(opts *keyword.SearchOptions) Option {
	return func(r *Retriever) { r.keywordOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// NewRetriever returns a Retriever over s using e for question embeddings.
func NewRetriever(e embedding.Embedder, s store.FragmentStore, opts ...Option) *Retriever {
	r := &Retriever{embedder: e, store: s}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hybrid reports whether keyword fusion is enabled.
func (r *Retriever) Hybrid() bool {
	return r.keyword != nil && r.loader != nil
}

// Retrieve returns up to k fragments most relevant to question, most relevant
// first. A non-empty owner restricts candidates to that owner's fragments.
// An empty store yields an empty result and no error.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, owner string) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	candidates := k
	if r.Hybrid() {
		candidates = k * 2
	}
	semantic, err := r.store.Query(ctx, vec, candidates, store.Filter{Owner: owner})
	if err != nil {
		return nil, err
	}
	if !r.Hybrid() {
		return truncate(semantic, k), nil
	}
	return r.fuse(ctx, question, semantic, k, candidates, owner)
}

func (r *Retriever) fuse(ctx context.Context, question string, semantic []models.ScoredFragment, k, candidates int, owner string) (models.RetrievalResult, error) {
	kwHits, err := r.keyword.Search(ctx, question, candidates, owner, r.keywordOpts)
	if err != nil {
		// keyword search is supplementary; fall back to similarity alone
		if r.logger != nil {
			r.logger.Warn("keyword search failed", zap.Error(err))
		}
		return truncate(semantic, k), nil
	}

	fragments := make(map[string]*models.Fragment, len(semantic)+len(kwHits))
	for _, s := range semantic {
		fragments[s.Fragment.ID] = s.Fragment
	}
	var missing []string
	for _, h := range kwHits {
		if _, ok := fragments[h.ID]; !ok {
			missing = append(missing, h.ID)
		}
	}
	if len(missing) > 0 {
		loaded, err := r.loader.Fragments(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, f := range loaded {
			fragments[id] = f
		}
	}

	fused := Fuse(NormalizeKeywordScores(kwHits), SemanticScores(semantic), r.keywordWeight, r.semanticWeight)
	out := make(models.RetrievalResult, 0, min(k, len(fused)))
	for _, f := range fused {
		if len(out) == k {
			break
		}
		frag, ok := fragments[f.ID]
		if !ok {
			continue
		}
		out = append(out, models.ScoredFragment{Fragment: frag, Score: f.Score})
	}
	if r.logger != nil {
		r.logger.Debug("hybrid retrieval",
			zap.Int("semantic", len(semantic)),
			zap.Int("keyword", len(kwHits)),
			zap.Int("returned", len(out)))
	}
	return out, nil
}

func truncate(results []models.ScoredFragment, k int) models.RetrievalResult {
	if len(results) > k {
		results = results[:k]
	}
	return models.RetrievalResult(results)
}
