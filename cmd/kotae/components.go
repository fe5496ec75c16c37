package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/completion"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/store"
)

// Components holds the shared clients, built once and injected everywhere.
type Components struct {
	Embedder  embedding.Embedder
	Keyword   *keyword.BleveIndex
	Store     *store.SQLiteStore
	Retriever *retrieval.Retriever
	Completer *completion.Client
	Answerer  *answer.Synthesizer
	Pipeline  *ingest.Pipeline
}

// Close releases the store, keyword index and embedder.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	emb, model, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = emb

	storeOpts := []store.Option{store.WithEmbeddingModel(model), store.WithLogger(logger)}
	if cfg.Storage.MinScore != 0 {
		storeOpts = append(storeOpts, store.WithMinScore(cfg.Storage.MinScore))
	}
	if cfg.Retrieval.Hybrid {
		c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		storeOpts = append(storeOpts, store.WithKeywordIndex(c.Keyword))
	}

	c.Store, err = store.NewSQLiteStore(ctx, cfg.Storage.DatabasePath, emb.Dimensions(), storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fragment store: %w", err)
	}

	retrieverOpts := []retrieval.Option{retrieval.WithLogger(logger)}
	if c.Keyword != nil {
		retrieverOpts = append(retrieverOpts,
			retrieval.WithHybrid(c.Keyword, c.Store, cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight),
			retrieval.WithKeywordOptions(&keyword.SearchOptions{Fuzzy: true}))
	}
	c.Retriever = retrieval.NewRetriever(emb, c.Store, retrieverOpts...)

	c.Completer = completion.NewClient(cfg.Completion.Endpoint,
		completion.WithAPIKey(cfg.Completion.APIKey),
		completion.WithModel(cfg.Completion.Model),
		completion.WithAttribution(cfg.Completion.Referer, cfg.Completion.Title),
		completion.WithTimeout(cfg.Completion.Timeout),
		completion.WithRateLimit(cfg.Completion.RateLimit),
		completion.WithLogger(logger))
	if cfg.Completion.APIKey == "" {
		logger.Warn("no completion API key configured; set OPENROUTER_API_KEY")
	}

	c.Answerer = answer.NewSynthesizer(c.Retriever, c.Completer,
		answer.WithTopK(cfg.Retrieval.TopK),
		answer.WithParams(completion.Params{
			MaxTokens:   cfg.Completion.MaxTokens,
			Temperature: cfg.Completion.TemperatureOrDefault(),
		}),
		answer.WithLogger(logger))

	ch, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.OverlapOrDefault())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	x := extract.NewExtractor(extract.WithAllowedExtensions(cfg.Extract.AllowedExtensions))
	c.Pipeline = ingest.NewPipeline(x, ch, emb, c.Store,
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(logger))

	logger.Info("components initialized",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimensions", emb.Dimensions()),
		zap.Bool("hybrid", c.Retriever.Hybrid()),
		zap.String("completion_model", c.Completer.Model()))
	ok = true
	return c, nil
}

// newEmbedder builds the configured embedding service and names the model
// that produces its vectors. A local ONNX model that cannot be loaded falls
// back to the hash embedder so the binary stays usable; the store refuses to
// mix the two.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, string, error) {
	var (
		inner embedding.Embedder
		model string
	)
	switch cfg.Provider {
	case "onnx":
		onnx, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, falling back to hash embeddings",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			inner, model = embedding.NewHashEmbedder(cfg.Dimensions), "hash"
		} else {
			inner, model = onnx, "onnx:"+filepath.Base(cfg.ModelPath)
		}
	case "http":
		h, err := embedding.NewHTTPEmbedder(cfg.Endpoint, cfg.Model, cfg.Dimensions,
			embedding.WithAPIKey(cfg.APIKey),
			embedding.WithRateLimit(cfg.RateLimit),
			embedding.WithBatchSize(cfg.BatchSize),
			embedding.WithRetries(3, 500*time.Millisecond),
			embedding.WithLogger(logger))
		if err != nil {
			return nil, "", err
		}
		inner, model = h, "http:"+cfg.Model
	case "hash":
		inner, model = embedding.NewHashEmbedder(cfg.Dimensions), "hash"
	default:
		return nil, "", fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return embedding.NewCachedEmbedder(inner, cfg.CacheSize), model, nil
	}
	return inner, model, nil
}
