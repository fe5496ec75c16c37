package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/hyperjump/kotae/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultHTTPBatchSize  = 64
	defaultHTTPMaxRetries = 3
	defaultHTTPBackoff    = 500 * time.Millisecond
	maxErrorBodyBytes     = 4 << 10
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	batchSize  int
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPEmbedder) { e.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) {
		if c != nil {
			e.client = c
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero or negative disables limiting.
func WithRateLimit(rps float64) HTTPOption {
	return func(e *HTTPEmbedder) {
		if rps <= 0 {
			e.limiter = nil
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBatchSize sets how many texts go into one request.
func WithBatchSize(n int) HTTPOption {
	return func(e *HTTPEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetries sets the retry count and base backoff for 429 and 5xx responses.
func WithRetries(maxRetries int, backoff time.Duration) HTTPOption {
	return func(e *HTTPEmbedder) {
		if maxRetries >= 0 {
			e.maxRetries = maxRetries
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = logger }
}

// NewHTTPEmbedder returns an embedder for endpoint (the full /embeddings URL)
// producing vectors of the given dimensions.
func NewHTTPEmbedder(endpoint, model string, dimensions int, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if endpoint == "" {
		return nil, errors.New("embedding endpoint is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}
	e := &HTTPEmbedder{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		batchSize:  defaultHTTPBatchSize,
		maxRetries: defaultHTTPMaxRetries,
		backoff:    defaultHTTPBackoff,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// statusError is a non-2xx response from the embedding service.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch embeds texts in batches, preserving input order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, &ServiceError{Op: "embed", Err: err}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	for attempt := 0; ; attempt++ {
		vecs, err := e.post(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		var se *statusError
		if !errors.As(err, &se) || !se.retryable() || attempt >= e.maxRetries {
			return nil, err
		}
		wait := se.retryAfter
		if wait <= 0 {
			wait = e.backoff << attempt
		}
		if e.logger != nil {
			e.logger.Warn("embedding request failed, retrying",
				zap.Int("status", se.code),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (e *HTTPEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &statusError{
			code:       resp.StatusCode,
			body:       string(msg),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(d.Embedding), e.dimensions)
		}
		utils.NormalizeL2(d.Embedding)
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
