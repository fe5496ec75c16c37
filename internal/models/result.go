package models

// ScoredFragment pairs a fragment with its relevance to a query. Higher is more relevant.
type ScoredFragment struct {
	Fragment *Fragment `json:"fragment"`
	Score    float64   `json:"score"`
}

// RetrievalResult is ordered by descending Score.
type RetrievalResult []ScoredFragment

// AnsweredQuery is the response to a question. Sources holds the distinct
// source filenames of the fragments placed in the grounding context.
type AnsweredQuery struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
}

// IngestResult is the outcome of ingesting one document. Err is nil on success;
// a document with no extractable text succeeds with FragmentCount 0.
type IngestResult struct {
	Filename      string
	FragmentCount int
	Err           error
}

// OK reports whether the document was ingested without error.
func (r IngestResult) OK() bool {
	return r.Err == nil
}

// BatchReport collects per-document results in input order.
type BatchReport struct {
	Results []IngestResult
}

// Succeeded returns the results of documents ingested without error.
func (b *BatchReport) Succeeded() []IngestResult {
	var out []IngestResult
	for _, r := range b.Results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the results of documents that could not be ingested.
func (b *BatchReport) Failed() []IngestResult {
	var out []IngestResult
	for _, r := range b.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// TotalFragments is the number of fragments stored across the batch.
func (b *BatchReport) TotalFragments() int {
	n := 0
	for _, r := range b.Results {
		n += r.FragmentCount
	}
	return n
}
