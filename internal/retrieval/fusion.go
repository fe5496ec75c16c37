package retrieval

import (
	"sort"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
)

// FusedResult holds a fragment ID with its fused keyword and semantic scores.
type FusedResult struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores scales keyword scores to [0,1] by the maximum.
func NormalizeKeywordScores(results []keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	var maxScore float64
	for _, r := range results {
		maxScore = max(maxScore, r.Score)
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// SemanticScores maps fragment ID to similarity (already in [-1,1] for cosine).
func SemanticScores(results []models.ScoredFragment) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.Fragment.ID] = r.Score
	}
	return scores
}

// Fuse merges keyword and semantic score maps with weights. Results are
// sorted by fused score, ties broken by ID so the order is total.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []FusedResult {
	byID := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		byID[id] = &FusedResult{ID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if r, ok := byID[id]; ok {
			r.SemanticScore = score
		} else {
			byID[id] = &FusedResult{ID: id, SemanticScore: score}
		}
	}
	results := make([]FusedResult, 0, len(byID))
	for _, r := range byID {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
