// Package ingest turns uploaded documents into stored, embedded fragments.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

// TextExtractor returns the plain text of a document.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte, filename string) (string, error)
}

// Pipeline runs extract, chunk, embed and store for each document of a batch.
// A failing document never affects the others.
type Pipeline struct {
	extractor TextExtractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	store     store.FragmentStore
	workers   int
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many documents are processed concurrently (default 1).
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline returns a Pipeline.
func NewPipeline(x TextExtractor, c *chunker.Chunker, e embedding.Embedder, s store.FragmentStore, opts ...Option) *Pipeline {
	p := &Pipeline{extractor: x, chunker: c, embedder: e, store: s, workers: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes docs and reports one result per document, in input order.
// Fragments are tagged with owner when it is non-empty. Once ctx is done,
// documents not yet started are reported with the context error.
func (p *Pipeline) Ingest(ctx context.Context, docs []models.Document, owner string) *models.BatchReport {
	report := &models.BatchReport{Results: make([]models.IngestResult, len(docs))}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			report.Results[i] = models.IngestResult{Filename: doc.Filename, Err: err}
			continue
		}
		g.Go(func() error {
			report.Results[i] = p.ingestOne(ctx, doc, owner)
			return nil
		})
	}
	_ = g.Wait()
	if p.logger != nil {
		p.logger.Info("batch ingested",
			zap.Int("documents", len(docs)),
			zap.Int("failed", len(report.Failed())),
			zap.Int("fragments", report.TotalFragments()))
	}
	return report
}

// IngestFile reads the file at path and ingests it as a single document named
// after its base name.
func (p *Pipeline) IngestFile(ctx context.Context, path, owner string) models.IngestResult {
	name := filepath.Base(path)
	content, err := os.ReadFile(path)
	if err != nil {
		return models.IngestResult{Filename: name, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return p.Ingest(ctx, []models.Document{{Filename: name, Content: content}}, owner).Results[0]
}

func (p *Pipeline) ingestOne(ctx context.Context, doc models.Document, owner string) models.IngestResult {
	start := time.Now()
	n, err := p.process(ctx, doc, owner)
	res := models.IngestResult{Filename: doc.Filename, FragmentCount: n, Err: err}
	if p.logger != nil {
		fields := []zap.Field{
			zap.String("filename", doc.Filename),
			zap.Int("fragments", n),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			p.logger.Warn("document ingestion failed", append(fields, zap.Error(err))...)
		} else {
			p.logger.Info("document ingested", fields...)
		}
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, doc models.Document, owner string) (int, error) {
	text, err := p.extractor.Extract(ctx, doc.Content, doc.Filename)
	if err != nil {
		return 0, err
	}
	texts := p.chunker.Chunk(text)
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("got %d embeddings for %d fragments", len(vecs), len(texts))
	}
	if err != nil {
		var se *embedding.ServiceError
		if !errors.As(err, &se) {
			err = &embedding.ServiceError{Op: "embed", Err: err}
		}
		return 0, err
	}

	now := time.Now().UTC()
	fragments := make([]*models.Fragment, len(texts))
	for i, t := range texts {
		fragments[i] = &models.Fragment{
			ID:             uuid.NewString(),
			Text:           t,
			SourceFilename: doc.Filename,
			SequenceIndex:  i,
			OwnerIdentity:  owner,
			Embedding:      vecs[i],
			CreatedAt:      now,
		}
	}
	if err := p.store.Add(ctx, fragments); err != nil {
		var se *store.Error
		if !errors.As(err, &se) {
			err = &store.Error{Op: "add", Err: err}
		}
		return 0, err
	}
	return len(fragments), nil
}
