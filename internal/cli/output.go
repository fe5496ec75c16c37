// Package cli provides output writers for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFromFlag returns OutputJSON when asJSON is set.
func FormatFromFlag(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

// Status summarizes the fragment store and active configuration.
type Status struct {
	Fragments         int64  `json:"fragments"`
	Sources           int64  `json:"sources"`
	DiskUsageBytes    int64  `json:"disk_usage_bytes"`
	DatabasePath      string `json:"database_path"`
	EmbeddingProvider string `json:"embedding_provider"`
	Dimensions        int    `json:"embedding_dimensions"`
	CompletionModel   string `json:"completion_model"`
	ChunkSize         int    `json:"chunk_size"`
	ChunkOverlap      int    `json:"chunk_overlap"`
	TopK              int    `json:"top_k"`
	Hybrid            bool   `json:"hybrid"`
}

type ingestFileJSON struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

type ingestReportJSON struct {
	Uploaded []ingestFileJSON `json:"uploaded_files"`
	Failed   []ingestFileJSON `json:"failed_files"`
	Total    int              `json:"total_fragments"`
}

// WriteIngestReport writes the per-file outcome of an ingest batch.
func WriteIngestReport(w io.Writer, report *models.BatchReport, format OutputFormat) error {
	if format == OutputJSON {
		out := ingestReportJSON{Uploaded: []ingestFileJSON{}, Failed: []ingestFileJSON{}, Total: report.TotalFragments()}
		for _, r := range report.Results {
			if r.OK() {
				out.Uploaded = append(out.Uploaded, ingestFileJSON{Filename: r.Filename, Chunks: r.FragmentCount})
			} else {
				out.Failed = append(out.Failed, ingestFileJSON{Filename: r.Filename, Error: r.Err.Error()})
			}
		}
		return writeJSON(w, out)
	}

	for _, r := range report.Results {
		if r.OK() {
			fmt.Fprintf(w, "  ok    %s (%d chunks)\n", r.Filename, r.FragmentCount)
		} else {
			fmt.Fprintf(w, "  FAIL  %s: %v\n", r.Filename, r.Err)
		}
	}
	fmt.Fprintf(w, "\n%d ingested, %d failed, %d fragments stored\n",
		len(report.Succeeded()), len(report.Failed()), report.TotalFragments())
	return nil
}

// WriteAnswer writes an answered question with its sources.
func WriteAnswer(w io.Writer, answered *models.AnsweredQuery, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answered)
	}
	fmt.Fprintf(w, "\nQ: %s\n\n%s\n", answered.Question, strings.TrimSpace(answered.Answer))
	if len(answered.Sources) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, s := range answered.Sources {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	return nil
}

// WriteRetrieval writes the fragments retrieved for a question, best first.
func WriteRetrieval(w io.Writer, results models.RetrievalResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = models.RetrievalResult{}
		}
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No fragments found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s #%d | Score: %.4f\n", i+1, r.Fragment.SourceFilename, r.Fragment.SequenceIndex, r.Score)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Fragment.Text, 200))
	}
	return nil
}

// WriteStatus writes store statistics and the active configuration.
func WriteStatus(w io.Writer, s Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Fragments:   %d (from %d sources)\n", s.Fragments, s.Sources)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(s.DiskUsageBytes))
	fmt.Fprintf(w, "Database:    %s\n", s.DatabasePath)
	fmt.Fprintf(w, "Embedding:   %s (%d dims)\n", s.EmbeddingProvider, s.Dimensions)
	fmt.Fprintf(w, "Completion:  %s\n", s.CompletionModel)
	fmt.Fprintf(w, "Chunking:    %d/%d\n", s.ChunkSize, s.ChunkOverlap)
	mode := "semantic"
	if s.Hybrid {
		mode = "hybrid"
	}
	fmt.Fprintf(w, "Retrieval:   top %d, %s\n", s.TopK, mode)
	return nil
}

// FormatBytes renders n bytes with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
