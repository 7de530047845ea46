package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers /embeddings with one-dimensional vectors encoding each
// input's length, and records every request it sees.
type fakeAPI struct {
	mu       sync.Mutex
	requests []embeddingsRequest
	auth     []string
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"embedding": []float64{float64(len(text))},
				"index":     i,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck
	}
}

func (f *fakeAPI) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestService(t *testing.T, api http.HandlerFunc, cfg Config) *EmbeddingService {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	svc, err := NewEmbeddingService(cfg)
	require.NoError(t, err)
	return svc
}

func TestEmbedBatch_SplitsLargeBatchesAndKeepsOrder(t *testing.T) {
	api := &fakeAPI{}
	svc := newTestService(t, api.handler(), Config{MaxBatchInputs: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := svc.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, 3, api.requestCount(), "five inputs split into request-sized chunks")
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbedBatch_SendsReducedDimensionsAndAuth(t *testing.T) {
	api := &fakeAPI{}
	svc := newTestService(t, api.handler(), Config{Model: "text-embedding-3-small", Dimensions: 256})

	_, err := svc.EmbedBatch(context.Background(), []string{"one"})
	require.NoError(t, err)

	require.Equal(t, 1, api.requestCount())
	assert.Equal(t, 256, api.requests[0].Dimensions)
	assert.Equal(t, "Bearer test-key", api.auth[0])
	assert.Equal(t, 256, svc.Dimensions())
}

func TestEmbedBatch_SurfacesAPIError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{"message": "rate limit exceeded", "type": "tokens"},
		})
	}, Config{})

	_, err := svc.EmbedBatch(context.Background(), []string{"one"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestEmbedBatch_RejectsIncompleteResponse(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"data": []map[string]any{
				{"embedding": []float64{1}, "index": 0},
			},
		})
	}, Config{})

	_, err := svc.EmbedBatch(context.Background(), []string{"one", "two"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing embedding")
}

func TestNewEmbeddingService_DimensionRules(t *testing.T) {
	_, err := NewEmbeddingService(Config{APIKey: "k", Model: "text-embedding-ada-002", Dimensions: 256})
	assert.Error(t, err, "ada-002 has no reduced-dimension support")

	_, err = NewEmbeddingService(Config{APIKey: "k", Model: "custom-embedder"})
	assert.Error(t, err, "unknown model needs explicit dimensions")

	svc, err := NewEmbeddingService(Config{APIKey: "k", Model: "custom-embedder", Dimensions: 512})
	require.NoError(t, err)
	assert.Equal(t, 512, svc.Dimensions())

	svc, err = NewEmbeddingService(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1536, svc.Dimensions(), "default model native size")
}
