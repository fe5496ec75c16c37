// Package extract provides text extraction from uploaded document bytes.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Extractor extracts plain text from document bytes, dispatching on the
// filename extension.
type Extractor struct {
	allowed map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithAllowedExtensions restricts accepted files to the given extensions
// (with or without the leading dot, case-insensitive). An empty list accepts everything.
func WithAllowedExtensions(exts []string) Option {
	return func(e *Extractor) {
		if len(exts) == 0 {
			e.allowed = nil
			return
		}
		e.allowed = make(map[string]bool, len(exts))
		for _, ext := range exts {
			e.allowed[normalizeExt(ext)] = true
		}
	}
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Format returns the lower-cased extension of filename without the dot, or "" if it has none.
func Format(filename string) string {
	return normalizeExt(filepath.Ext(filename))
}

// Extract returns the text content of a document.
// PDF, DOCX/DOC, XLSX, ODT and RTF are decoded with their structured parsers;
// any other extension is read as UTF-8 with invalid bytes replaced.
// Parser failures are returned as *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, content []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format := Format(filename)
	if e.allowed != nil && !e.allowed[format] {
		return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, format, filename)
	}
	var (
		text string
		err  error
	)
	switch format {
	case "pdf":
		text, err = extractPDF(ctx, content)
	case "docx", "doc":
		text, err = extractDOCX(content)
	case "xlsx":
		text, err = extractExcel(content)
	case "odt", "rtf":
		text, err = extractWithCat(content)
	default:
		text = extractPlain(content)
	}
	if err != nil {
		return "", &ExtractionError{Filename: filename, Format: format, Err: err}
	}
	return text, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
