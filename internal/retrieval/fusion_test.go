package retrieval

import (
	"testing"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
)

func TestNormalizeKeywordScores(t *testing.T) {
	m := NormalizeKeywordScores([]keyword.Result{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	})
	if m["b"] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m["b"])
	}
	if m["a"] != 0.5 {
		t.Errorf("a should be 0.5, got %f", m["a"])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("nil input should give an empty map")
	}
}

func TestSemanticScores(t *testing.T) {
	m := SemanticScores([]models.ScoredFragment{
		{Fragment: &models.Fragment{ID: "c1"}, Score: 0.9},
		{Fragment: &models.Fragment{ID: "c2"}, Score: 0.5},
	})
	if m["c1"] != 0.9 || m["c2"] != 0.5 {
		t.Errorf("unexpected map %v", m)
	}
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"d1": 1.0, "d3": 0.2}
	sem := map[string]float64{"d1": 0.5, "d2": 1.0}
	results := Fuse(kw, sem, 0.3, 0.7)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// d1: 0.3 + 0.35 = 0.65, d2: 0.7, d3: 0.06
	want := []string{"d2", "d1", "d3"}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].ID, id)
		}
	}
	if results[1].KeywordScore != 1.0 || results[1].SemanticScore != 0.5 {
		t.Errorf("component scores lost: %+v", results[1])
	}
}

func TestFuse_tiesOrderedByID(t *testing.T) {
	results := Fuse(nil, map[string]float64{"b": 0.5, "a": 0.5, "c": 0.5}, 0.3, 0.7)
	for i, id := range []string{"a", "b", "c"} {
		if results[i].ID != id {
			t.Fatalf("got %+v", results)
		}
	}
}
