package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	source_filename TEXT NOT NULL,
	sequence_index INTEGER NOT NULL,
	owner_identity TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fragments_source ON fragments(source_filename, sequence_index);
CREATE INDEX IF NOT EXISTS idx_fragments_owner ON fragments(owner_identity);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const insertFragment = `INSERT INTO fragments
	(id, text, source_filename, sequence_index, owner_identity, embedding, created_at)
	VALUES (:id, :text, :source_filename, :sequence_index, :owner_identity, :embedding, :created_at)`

// fragmentRow is the persisted form of a fragment.
type fragmentRow struct {
	models.Fragment
	Blob []byte `db:"embedding"`
}

// SQLiteStore keeps fragments in SQLite and serves similarity queries from an
// in-memory vector index rebuilt from the database on open.
type SQLiteStore struct {
	db         *sqlx.DB
	path       string
	dimensions int
	index      vector.VectorIndex
	model      string
	keyword    keyword.KeywordIndex
	minScore   float64
	logger     *zap.Logger
	// serializes writers so index order matches insertion order
	writeMu sync.Mutex
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithKeywordIndex mirrors every added fragment into idx for hybrid retrieval.
func WithKeywordIndex(idx keyword.KeywordIndex) Option {
	return func(s *SQLiteStore) { s.keyword = idx }
}

// WithEmbeddingModel records which embedding model produced the stored
// vectors. Reopening the database with a different model fails.
func WithEmbeddingModel(model string) Option {
	return func(s *SQLiteStore) { s.model = model }
}

// WithMinScore drops query results scoring below score. By default nothing is dropped.
func WithMinScore(score float64) Option {
	return func(s *SQLiteStore) { s.minScore = score }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger }
}

// NewSQLiteStore opens or creates the fragment database at dbPath for
// embeddings of the given dimensions. Parent directories are created if
// needed. Opening a database written with different dimensions fails.
func NewSQLiteStore(ctx context.Context, dbPath string, dimensions int, opts ...Option) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, &Error{Op: "open", Err: fmt.Errorf("invalid dimensions %d", dimensions)}
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &Error{Op: "open", Err: fmt.Errorf("create database directory: %w", err)}
		}
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dbPath)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	index, err := vector.NewMemoryIndex(dimensions)
	if err != nil {
		_ = db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	s := &SQLiteStore{db: db, path: dbPath, dimensions: dimensions, index: index, minScore: math.Inf(-1)}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.checkDimensions(ctx); err != nil {
		return err
	}
	if err := s.checkModel(ctx); err != nil {
		return err
	}
	return s.loadIndex(ctx)
}

// checkDimensions records the embedding dimensions on first open and
// rejects a mismatch afterwards.
func (s *SQLiteStore) checkDimensions(ctx context.Context) error {
	var stored string
	err := s.db.GetContext(ctx, &stored, `SELECT value FROM meta WHERE key = 'dimensions'`)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('dimensions', ?)`, strconv.Itoa(s.dimensions))
		return err
	}
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if stored != strconv.Itoa(s.dimensions) {
		return fmt.Errorf("%w: database holds %s-dimensional embeddings, configured %d", vector.ErrDimensionMismatch, stored, s.dimensions)
	}
	return nil
}

// checkModel records the embedding model on first open and rejects a
// different model afterwards. Vectors of equal length from different models
// are not comparable.
func (s *SQLiteStore) checkModel(ctx context.Context) error {
	if s.model == "" {
		return nil
	}
	var stored string
	err := s.db.GetContext(ctx, &stored, `SELECT value FROM meta WHERE key = 'embedding_model'`)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('embedding_model', ?)`, s.model)
		return err
	}
	if err != nil {
		return fmt.Errorf("read embedding model: %w", err)
	}
	if stored != s.model {
		return fmt.Errorf("%w: database holds %q embeddings, configured %q", ErrModelMismatch, stored, s.model)
	}
	return nil
}

func (s *SQLiteStore) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, owner_identity, embedding FROM fragments ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var entries []vector.Entry
	for rows.Next() {
		var (
			id, owner string
			blob      []byte
		)
		if err := rows.Scan(&id, &owner, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := utils.DecodeFloat32s(blob)
		if err != nil {
			return fmt.Errorf("fragment %s: %w", id, err)
		}
		entries = append(entries, vector.Entry{ID: id, Owner: owner, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := s.index.Add(ctx, entries); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug("fragment index loaded", zap.Int("fragments", len(entries)), zap.String("path", s.path))
	}
	return nil
}

// Add persists fragments in one transaction, then makes them searchable.
func (s *SQLiteStore) Add(ctx context.Context, fragments []*models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	rows := make([]fragmentRow, len(fragments))
	entries := make([]vector.Entry, len(fragments))
	now := time.Now().UTC()
	for i, f := range fragments {
		if len(f.Embedding) != s.dimensions {
			return &Error{Op: "add", Err: fmt.Errorf("%w: fragment %s has %d, store expects %d",
				vector.ErrDimensionMismatch, f.ID, len(f.Embedding), s.dimensions)}
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		rows[i] = fragmentRow{Fragment: *f, Blob: utils.EncodeFloat32s(f.Embedding)}
		entries[i] = vector.Entry{ID: f.ID, Owner: f.OwnerIdentity, Vector: f.Embedding}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Op: "add", Err: err}
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareNamedContext(ctx, insertFragment)
	if err != nil {
		return &Error{Op: "add", Err: err}
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return &Error{Op: "add", Err: fmt.Errorf("insert fragment %s: %w", r.ID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "add", Err: err}
	}
	if err := s.index.Add(ctx, entries); err != nil {
		return &Error{Op: "add", Err: err}
	}

	if s.keyword != nil {
		if err := s.keyword.IndexFragments(ctx, fragments); err != nil && s.logger != nil {
			s.logger.Warn("keyword indexing failed; fragments remain searchable by similarity",
				zap.String("source", fragments[0].SourceFilename), zap.Error(err))
		}
	}
	return nil
}

// Query returns up to k fragments by descending inner product with vec,
// dropping results below the configured minimum score.
func (s *SQLiteStore) Query(ctx context.Context, vec []float32, k int, filter Filter) ([]models.ScoredFragment, error) {
	hits, err := s.index.Search(ctx, vec, k, filter.Owner)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.minScore {
			break
		}
		ids = append(ids, h.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	byID, err := s.Fragments(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredFragment, 0, len(ids))
	for _, h := range hits[:len(ids)] {
		if f, ok := byID[h.ID]; ok {
			out = append(out, models.ScoredFragment{Fragment: f, Score: h.Score})
		}
	}
	return out, nil
}

// Fragments loads fragments by ID. Unknown IDs are absent from the result.
func (s *SQLiteStore) Fragments(ctx context.Context, ids []string) (map[string]*models.Fragment, error) {
	out := make(map[string]*models.Fragment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT id, text, source_filename, sequence_index, owner_identity, created_at
		FROM fragments WHERE id IN (?)`, ids)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	var found []models.Fragment
	if err := s.db.SelectContext(ctx, &found, s.db.Rebind(q), args...); err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	for i := range found {
		out[found[i].ID] = &found[i]
	}
	return out, nil
}

// Count returns the number of stored fragments.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM fragments`); err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

// SourceCount returns the number of distinct source filenames.
func (s *SQLiteStore) SourceCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT source_filename) FROM fragments`); err != nil {
		return 0, &Error{Op: "count", Err: err}
	}
	return n, nil
}

// Dimensions returns the embedding length the store accepts.
func (s *SQLiteStore) Dimensions() int {
	return s.dimensions
}

// DiskUsageBytes returns the size of the database including its WAL files.
func (s *SQLiteStore) DiskUsageBytes() (int64, error) {
	return DiskUsageBytes(s.path, s.path+"-wal", s.path+"-shm")
}

// Close closes the database. A keyword index passed with WithKeywordIndex is
// owned by the caller and left open.
func (s *SQLiteStore) Close() error {
	_ = s.index.Close()
	return s.db.Close()
}
