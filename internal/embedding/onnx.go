//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/kotae/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXEmbedder runs a local sentence-embedding model (all-MiniLM-L6-v2 or
// similar) through ONNX Runtime and mean-pools the last hidden state over the
// attention mask. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	// reused across Run calls; guarded by mu
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	hidden        *ort.Tensor[float32]
	mu            sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, &ServiceError{Op: "load model", Err: errors.New("model path is empty")}
	}
	if dimensions <= 0 || maxTokens <= 2 {
		return nil, &ServiceError{Op: "load model", Err: fmt.Errorf("invalid shape: dimensions=%d max_tokens=%d", dimensions, maxTokens)}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &ServiceError{Op: "load model", Err: err}
	}
	ortInitOnce.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, &ServiceError{Op: "init runtime", Err: ortInitErr}
	}

	e := &ONNXEmbedder{dimensions: dimensions, maxTokens: maxTokens, tokenizer: &WordTokenizer{}}
	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if e.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, e.fail("input_ids tensor", err)
	}
	if e.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, e.fail("attention_mask tensor", err)
	}
	if e.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, e.fail("token_type_ids tensor", err)
	}
	if e.hidden, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxTokens), int64(dimensions))); err != nil {
		return nil, e.fail("output tensor", err)
	}
	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.hidden},
		nil,
	)
	if err != nil {
		return nil, e.fail("load model", err)
	}
	return e, nil
}

func (e *ONNXEmbedder) fail(op string, err error) error {
	_ = e.Close()
	return &ServiceError{Op: op, Err: err}
}

// Embed runs the model on a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, &ServiceError{Op: "inference", Err: err}
	}

	hidden := e.hidden.GetData()
	emb := make([]float32, e.dimensions)
	var tokens float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*e.dimensions : (t+1)*e.dimensions]
		for i, v := range row {
			emb[i] += v
		}
		tokens++
	}
	if tokens > 0 {
		for i := range emb {
			emb[i] /= tokens
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch runs the model once per text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.hidden != nil {
		_ = e.hidden.Destroy()
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs, e.hidden = nil, nil, nil, nil
	return err
}
