package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/errs"
)

type embeddingStub struct {
	respond func(w http.ResponseWriter, inputs []string)
	calls   atomic.Int32
}

func (s *embeddingStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.respond(w, req.Input)
}

func writeEmbeddings(w http.ResponseWriter, vectors [][]float32) {
	type item struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	items := make([]item, len(vectors))
	for i, v := range vectors {
		items[i] = item{Object: "embedding", Index: i, Embedding: v}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   items,
		"model":  "text-embedding-3-small",
	})
}

func newEmbeddingsClient(t *testing.T, stub http.Handler, batchSize int) *EmbeddingsClient {
	t.Helper()
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)
	t.Setenv("TEST_API_KEY", "test-key")
	c, err := NewEmbeddingsClient(EmbeddingsConfig{
		BaseURL:   ts.URL,
		APIKeyEnv: "TEST_API_KEY",
		BatchSize: batchSize,
		Timeout:   5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewEmbeddingsClientRequiresKey(t *testing.T) {
	t.Setenv("EMPTY_KEY_ENV", "")
	_, err := NewEmbeddingsClient(EmbeddingsConfig{APIKeyEnv: "EMPTY_KEY_ENV"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestEmbedBatchesPreserveOrder(t *testing.T) {
	stub := &embeddingStub{respond: func(w http.ResponseWriter, inputs []string) {
		vectors := make([][]float32, len(inputs))
		for i, in := range inputs {
			// first component encodes the input so order is checkable
			vectors[i] = []float32{float32(len(in)), 1}
		}
		writeEmbeddings(w, vectors)
	}}
	c := newEmbeddingsClient(t, stub, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), out[i][0], "vector %d matches its input", i)
	}
	assert.Equal(t, int32(3), stub.calls.Load(), "5 inputs at batch size 2 make 3 calls")
}

func TestEmbedReordersByProviderIndex(t *testing.T) {
	stub := &embeddingStub{respond: func(w http.ResponseWriter, inputs []string) {
		// reply with items listed in reverse, relying on index fields
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		items := make([]item, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			items = append(items, item{Object: "embedding", Index: i, Embedding: []float32{float32(len(inputs[i])), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": items, "model": "m"})
	}}
	c := newEmbeddingsClient(t, stub, 64)

	out, err := c.Embed(context.Background(), []string{"x", "yy", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, float32(3), out[2][0])
}

func TestEmbedRejectsShapeMismatchWithoutRetry(t *testing.T) {
	stub := &embeddingStub{respond: func(w http.ResponseWriter, inputs []string) {
		// one vector short
		writeEmbeddings(w, [][]float32{{1, 2}})
	}}
	c := newEmbeddingsClient(t, stub, 64)

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternal)
	assert.Contains(t, err.Error(), "unexpected embedding response shape")
	assert.Equal(t, int32(1), stub.calls.Load(), "malformed shapes are not retried")
}

func TestEmbedRejectsMixedDimensions(t *testing.T) {
	stub := &embeddingStub{respond: func(w http.ResponseWriter, inputs []string) {
		writeEmbeddings(w, [][]float32{{1, 2}, {1, 2, 3}})
	}}
	c := newEmbeddingsClient(t, stub, 64)

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed dimensions")
}

func TestEmbedRetriesTransportFailures(t *testing.T) {
	stub := &embeddingStub{}
	stub.respond = func(w http.ResponseWriter, inputs []string) {
		if stub.calls.Load() == 1 {
			http.Error(w, "temporarily overloaded", http.StatusInternalServerError)
			return
		}
		writeEmbeddings(w, [][]float32{{1, 2, 3}})
	}
	c := newEmbeddingsClient(t, stub, 64)

	out, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestEmbedExhaustedRetriesSurfaceExternalError(t *testing.T) {
	stub := &embeddingStub{respond: func(w http.ResponseWriter, inputs []string) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}}
	c := newEmbeddingsClient(t, stub, 64)

	_, err := c.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternal)
	assert.Equal(t, int32(maxRetries+1), stub.calls.Load())
}

func TestEmbedRequiresInput(t *testing.T) {
	c := newEmbeddingsClient(t, &embeddingStub{respond: func(w http.ResponseWriter, _ []string) {
		writeEmbeddings(w, nil)
	}}, 64)
	_, err := c.Embed(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternal)
}

func TestRetryDelayIsCapped(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, retryDelay(1))
	assert.Equal(t, 800*time.Millisecond, retryDelay(2))
	assert.Equal(t, 5*time.Second, retryDelay(10))
}

func TestEmbeddingStubSanity(t *testing.T) {
	// guard the stub itself: a well-formed response decodes through
	// the provider types used by the client
	rec := httptest.NewRecorder()
	writeEmbeddings(rec, [][]float32{{0.5}})
	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded.Data, 1)
	assert.Equal(t, []float32{0.5}, decoded.Data[0].Embedding)
}
