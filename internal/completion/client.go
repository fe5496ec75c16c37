// Package completion is a client for OpenAI-compatible chat completion services.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint    = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "gpt-4-turbo"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 350
	DefaultTemperature = 0.4
	maxErrorBodyBytes  = 4 << 10
)

// ErrEmptyCompletion is returned when the service answers with no usable text.
var ErrEmptyCompletion = errors.New("completion has no content")

// Completer generates text for a single user prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, params Params) (string, error)
}

// Params are per-request generation settings.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// APIError is a non-2xx response from the completion service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion service returned %d: %s", e.StatusCode, e.Body)
}

// Client calls a chat completions endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	referer  string
	title    string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers used by OpenRouter.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = referer
		c.title = title
	}
}

// WithTimeout bounds each request, including reading the response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the default http.Client. The client is used as is;
// the per-request timeout is applied through the request context.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRateLimit caps requests per second. Zero or negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a Client for endpoint (the full chat completions URL).
// An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		model:    DefaultModel,
		timeout:  DefaultTimeout,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the trimmed
// content of the first choice.
func (c *Client) Complete(ctx context.Context, prompt string, params Params) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyCompletion)
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	if c.logger != nil {
		c.logger.Debug("completion received",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("answer_chars", len(content)))
	}
	return content, nil
}
