package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

// memStore records added fragments.
type memStore struct {
	mu        sync.Mutex
	fragments []*models.Fragment
	err       error
}

func (m *memStore) Add(_ context.Context, f []*models.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.fragments = append(m.fragments, f...)
	return nil
}

func (m *memStore) Query(context.Context, []float32, int, store.Filter) ([]models.ScoredFragment, error) {
	return nil, nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.fragments)), nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) bySource(name string) []*models.Fragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fragment
	for _, f := range m.fragments {
		if f.SourceFilename == name {
			out = append(out, f)
		}
	}
	return out
}

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func newPipeline(t *testing.T, s store.FragmentStore, e embedding.Embedder, opts ...Option) *Pipeline {
	t.Helper()
	c, err := chunker.New(10, 3)
	require.NoError(t, err)
	if e == nil {
		e = embedding.NewHashEmbedder(32)
	}
	opts = append(opts, WithLogger(zap.NewNop()))
	return NewPipeline(extract.NewExtractor(), c, e, s, opts...)
}

func TestIngest_failingMiddleDocument(t *testing.T) {
	s := &memStore{}
	p := newPipeline(t, s, nil)

	report := p.Ingest(context.Background(), []models.Document{
		{Filename: "a.txt", Content: []byte("abcdefghijklmno")},
		{Filename: "broken.docx", Content: []byte("this is not a zip archive")},
		{Filename: "c.txt", Content: []byte("hello world")},
	}, "")

	require.Len(t, report.Results, 3)
	assert.Equal(t, "a.txt", report.Results[0].Filename)
	assert.NoError(t, report.Results[0].Err)
	assert.Equal(t, 2, report.Results[0].FragmentCount)

	var extErr *extract.ExtractionError
	assert.True(t, errors.As(report.Results[1].Err, &extErr), "got %v", report.Results[1].Err)
	assert.Zero(t, report.Results[1].FragmentCount)
	assert.Empty(t, s.bySource("broken.docx"))

	assert.NoError(t, report.Results[2].Err)
	assert.Equal(t, 2, report.Results[2].FragmentCount)

	a := s.bySource("a.txt")
	require.Len(t, a, 2)
	assert.Equal(t, "abcdefghij", a[0].Text)
	assert.Equal(t, "hijklmno", a[1].Text)
	assert.Equal(t, 0, a[0].SequenceIndex)
	assert.Equal(t, 1, a[1].SequenceIndex)
	assert.NotEqual(t, a[0].ID, a[1].ID)
	assert.Len(t, a[0].Embedding, 32)
	assert.False(t, a[0].CreatedAt.IsZero())
}

func TestIngest_emptyTextSucceedsWithZeroFragments(t *testing.T) {
	s := &memStore{}
	report := newPipeline(t, s, nil).Ingest(context.Background(), []models.Document{
		{Filename: "blank.txt", Content: []byte(" \n\t  ")},
	}, "")
	require.Len(t, report.Results, 1)
	assert.NoError(t, report.Results[0].Err)
	assert.Zero(t, report.Results[0].FragmentCount)
	n, _ := s.Count(context.Background())
	assert.Zero(t, n)
}

func TestIngest_ownerIsAttached(t *testing.T) {
	s := &memStore{}
	newPipeline(t, s, nil).Ingest(context.Background(), []models.Document{
		{Filename: "a.txt", Content: []byte("short")},
	}, "alice@example.com")
	frags := s.bySource("a.txt")
	require.Len(t, frags, 1)
	assert.Equal(t, "alice@example.com", frags[0].OwnerIdentity)
}

func TestIngest_embeddingFailure(t *testing.T) {
	s := &memStore{}
	p := newPipeline(t, s, failingEmbedder{embedding.NewHashEmbedder(32)})
	report := p.Ingest(context.Background(), []models.Document{{Filename: "a.txt", Content: []byte("text")}}, "")
	var se *embedding.ServiceError
	assert.True(t, errors.As(report.Results[0].Err, &se), "got %v", report.Results[0].Err)
	assert.Empty(t, s.fragments)
}

func TestIngest_storeFailure(t *testing.T) {
	s := &memStore{err: errors.New("disk full")}
	report := newPipeline(t, s, nil).Ingest(context.Background(), []models.Document{{Filename: "a.txt", Content: []byte("text")}}, "")
	var se *store.Error
	assert.True(t, errors.As(report.Results[0].Err, &se), "got %v", report.Results[0].Err)
}

func TestIngest_workersPreserveOrder(t *testing.T) {
	s := &memStore{}
	p := newPipeline(t, s, nil, WithWorkers(4))
	docs := make([]models.Document, 20)
	for i := range docs {
		docs[i] = models.Document{
			Filename: string(rune('a'+i)) + ".txt",
			Content:  []byte(strings.Repeat("word ", i+1)),
		}
	}
	report := p.Ingest(context.Background(), docs, "")
	require.Len(t, report.Results, len(docs))
	for i, r := range report.Results {
		assert.Equal(t, docs[i].Filename, r.Filename)
		assert.NoError(t, r.Err)
		assert.Positive(t, r.FragmentCount)
	}
	n, _ := s.Count(context.Background())
	assert.Equal(t, int64(report.TotalFragments()), n)
}

func TestIngest_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := newPipeline(t, &memStore{}, nil).Ingest(ctx, []models.Document{
		{Filename: "a.txt", Content: []byte("x")},
		{Filename: "b.txt", Content: []byte("y")},
	}, "")
	for _, r := range report.Results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nsome content"), 0644))

	s := &memStore{}
	p := newPipeline(t, s, nil)
	res := p.IngestFile(context.Background(), path, "")
	require.NoError(t, res.Err)
	assert.Equal(t, "notes.md", res.Filename)
	assert.Len(t, s.bySource("notes.md"), res.FragmentCount)

	missing := p.IngestFile(context.Background(), filepath.Join(dir, "nope.txt"), "")
	assert.Error(t, missing.Err)
	assert.Equal(t, "nope.txt", missing.Filename)
}

func TestIngest_persistsToSQLite(t *testing.T) {
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "kotae.db"), 32)
	require.NoError(t, err)
	defer s.Close()

	report := newPipeline(t, s, nil).Ingest(context.Background(), []models.Document{
		{Filename: "a.txt", Content: []byte("abcdefghijklmno")},
	}, "")
	require.NoError(t, report.Results[0].Err)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
