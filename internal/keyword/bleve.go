package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kotae/internal/models"
)

const (
	fieldText   = "text"
	fieldSource = "source"
	fieldOwner  = "owner"
)

// fragmentDoc is the indexed form of a fragment.
type fragmentDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Owner  string `json:"owner"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func fragmentMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// standard analyzer: lowercase + tokenize without stemming, so exact words match
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt(fieldText, text)
	doc.AddFieldMappingsAt(fieldSource, text)

	owner := bleve.NewTextFieldMapping()
	owner.Analyzer = keywordanalyzer.Name
	doc.AddFieldMappingsAt(fieldOwner, owner)

	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path
// creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(fragmentMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, fragmentMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexFragments adds fragments in one batch.
func (b *BleveIndex) IndexFragments(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for _, f := range fragments {
		doc := fragmentDoc{Text: f.Text, Source: f.SourceFilename, Owner: f.OwnerIdentity}
		if err := batch.Index(f.ID, doc); err != nil {
			return fmt.Errorf("batch fragment %s: %w", f.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search scores fragments by text match (plus boosted source filename matches),
// then penalizes fragments that match only some of the query terms and
// rewards phrase matches.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, owner string, opts *SearchOptions) ([]Result, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	if o.Fuzzy && o.Fuzziness <= 0 {
		o.Fuzziness = 1
	}

	reqSize := max(limit*2, 50)
	base, err := b.run(b.matchQuery(query, terms, &o), owner, reqSize)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return nil, nil
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		for _, term := range terms {
			hits, err := b.run(b.termQuery(term, fieldText, &o), owner, reqSize)
			if err != nil {
				return nil, err
			}
			for id := range hits {
				coverage[id]++
			}
		}
	}
	phrase := map[string]float64{}
	if o.PhraseBoost > 1 && len(terms) > 1 {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField(fieldText)
		if phrase, err = b.run(pq, owner, reqSize); err != nil {
			return nil, err
		}
	}

	out := make([]Result, 0, len(base))
	for id, score := range base {
		if len(terms) > 1 {
			// squared so partial matches fall well below full matches
			c := float64(max(coverage[id], 1)) / float64(len(terms))
			score *= c * c
		}
		if _, ok := phrase[id]; ok {
			score *= o.PhraseBoost
		}
		out = append(out, Result{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BleveIndex) matchQuery(query string, terms []string, o *SearchOptions) blevequery.Query {
	var text blevequery.Query
	if o.Fuzzy {
		parts := make([]blevequery.Query, 0, len(terms))
		for _, t := range terms {
			parts = append(parts, b.termQuery(t, fieldText, o))
		}
		text = bleve.NewDisjunctionQuery(parts...)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldText)
		text = mq
	}
	if o.SourceBoost <= 1 {
		return text
	}
	sq := bleve.NewMatchQuery(query)
	sq.SetField(fieldSource)
	sq.SetBoost(o.SourceBoost)
	return bleve.NewDisjunctionQuery(text, sq)
}

func (b *BleveIndex) termQuery(term, field string, o *SearchOptions) blevequery.Query {
	if o.Fuzzy {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		fq.SetField(field)
		return fq
	}
	mq := bleve.NewMatchQuery(term)
	mq.SetField(field)
	return mq
}

// run executes q restricted to owner and returns hit scores by fragment ID.
func (b *BleveIndex) run(q blevequery.Query, owner string, size int) (map[string]float64, error) {
	if owner != "" {
		oq := bleve.NewTermQuery(owner)
		oq.SetField(fieldOwner)
		q = bleve.NewConjunctionQuery(q, oq)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make(map[string]float64, len(res.Hits))
	for _, h := range res.Hits {
		hits[h.ID] = h.Score
	}
	return hits, nil
}

// tokenizeQuery splits query into lowercase terms, dropping surrounding punctuation.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// DocCount returns the number of indexed fragments.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
