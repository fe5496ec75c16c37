// Package answer turns a question into a grounded answer: it retrieves
// relevant fragments, builds a prompt from them and asks the completion service.
package answer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/completion"
	"github.com/hyperjump/kotae/internal/models"
)

// DefaultTopK is how many fragments are placed in the context.
const DefaultTopK = 8

// Retriever returns fragments relevant to a question, most relevant first.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int, owner string) (models.RetrievalResult, error)
}

// Synthesizer answers questions from retrieved context.
type Synthesizer struct {
	retriever Retriever
	completer completion.Completer
	topK      int
	params    completion.Params
	logger    *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithTopK sets the number of fragments retrieved per question.
func WithTopK(k int) Option {
	return func(s *Synthesizer) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithParams sets the generation parameters.
func WithParams(p completion.Params) Option {
	return func(s *Synthesizer) { s.params = p }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

// NewSynthesizer returns a Synthesizer.
func NewSynthesizer(r Retriever, c completion.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		retriever: r,
		completer: c,
		topK:      DefaultTopK,
		params: completion.Params{
			MaxTokens:   completion.DefaultMaxTokens,
			Temperature: completion.DefaultTemperature,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer answers question from the fragments visible to owner. A blank
// question fails with models.ErrEmptyQuestion before any service call. When
// nothing relevant is stored the sentinel answer is returned without calling
// the completion service. Completion failures are *GenerationError.
func (s *Synthesizer) Answer(ctx context.Context, question, owner string) (*models.AnsweredQuery, error) {
	req := models.QueryRequest{Question: question, Owner: owner}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	results, err := s.retriever.Retrieve(ctx, req.Question, s.topK, req.Owner)
	if err != nil {
		return nil, err
	}
	contextText, sources := BuildContext(results)
	if contextText == "" {
		if s.logger != nil {
			s.logger.Info("no relevant context", zap.String("question", req.Question))
		}
		return &models.AnsweredQuery{Question: req.Question, Answer: SentinelAnswer, Sources: []string{}}, nil
	}

	start := time.Now()
	text, err := s.completer.Complete(ctx, BuildPrompt(contextText, req.Question), s.params)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("answer generation failed", zap.String("question", req.Question), zap.Error(err))
		}
		return nil, &GenerationError{Question: req.Question, Err: err}
	}
	if s.logger != nil {
		s.logger.Info("answer generated",
			zap.String("question", req.Question),
			zap.Int("fragments", len(results)),
			zap.Strings("sources", sources),
			zap.Duration("duration", time.Since(start)))
	}
	return &models.AnsweredQuery{Question: req.Question, Answer: text, Sources: sources}, nil
}
