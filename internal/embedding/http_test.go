package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingServer answers with a vector whose first component is the input length.
func fakeEmbeddingServer(t *testing.T, dims int, fail func(call int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if fail != nil {
			if code := fail(n); code != 0 {
				w.Header().Set("Retry-After", "0")
				http.Error(w, "busy", code)
				return
			}
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		// reversed to check the client reorders by index
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, dims)
			v[0] = float32(len(req.Input[i]))
			v[1] = 1
			resp.Data = append(resp.Data, item{Embedding: v, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPEmbedder_batchesAndPreservesOrder(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 4, nil)
	e, err := NewHTTPEmbedder(srv.URL, "test-model", 4, WithAPIKey("secret"), WithBatchSize(2))
	require.NoError(t, err)
	defer e.Close()

	texts := []string{"a", "bbb", "cc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), calls.Load())

	for i, v := range vecs {
		assert.InDelta(t, float64(len(texts[i])), float64(v[0]/v[1]), 1e-3, "vector %d out of order", i)
	}
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[0]), 1e-5)
}

func TestHTTPEmbedder_retriesServerErrors(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 2, func(n int32) int {
		if n <= 2 {
			return http.StatusTooManyRequests
		}
		return 0
	})
	e, err := NewHTTPEmbedder(srv.URL, "", 2, WithAPIKey("secret"), WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPEmbedder_givesUpAsServiceError(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 2, func(int32) int { return http.StatusInternalServerError })
	e, err := NewHTTPEmbedder(srv.URL, "", 2, WithRetries(1, time.Millisecond))
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"x"})
	var se *ServiceError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "embed", se.Op)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPEmbedder_clientErrorNotRetried(t *testing.T) {
	srv, calls := fakeEmbeddingServer(t, 2, func(int32) int { return http.StatusUnauthorized })
	e, err := NewHTTPEmbedder(srv.URL, "", 2, WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPEmbedder_dimensionMismatch(t *testing.T) {
	srv, _ := fakeEmbeddingServer(t, 3, nil)
	e, err := NewHTTPEmbedder(srv.URL, "", 8, WithAPIKey("secret"))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	var se *ServiceError
	assert.True(t, errors.As(err, &se))
}

func TestNewHTTPEmbedder_validation(t *testing.T) {
	_, err := NewHTTPEmbedder("", "m", 4)
	assert.Error(t, err)
	_, err = NewHTTPEmbedder("http://x", "m", 0)
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
