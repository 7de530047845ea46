// Package openai provides an embedding service adapter for the OpenAI
// embeddings API and compatible endpoints (Azure OpenAI, local gateways).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
	DefaultTimeout = 60 * time.Second

	// DefaultMaxBatchInputs is the API's per-request input cap. The
	// embedding gate may hand over larger batches; they are split into
	// sequential requests and stitched back in order.
	DefaultMaxBatchInputs = 2048

	// errorBodySnippet bounds how much of an error response lands in
	// wrapped errors and logs.
	errorBodySnippet = 256
)

// modelDimensions maps known embedding models to their native vector
// size. Models supporting the dimensions request parameter can be
// reduced below it.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// reducibleModels accept the dimensions request parameter.
var reducibleModels = map[string]bool{
	"text-embedding-3-small": true,
	"text-embedding-3-large": true,
}

// Config holds configuration for the OpenAI embedding service.
type Config struct {
	// APIKey authenticates requests (required).
	APIKey string

	// BaseURL overrides the endpoint, for Azure OpenAI or compatible
	// gateways. Default https://api.openai.com/v1.
	BaseURL string

	// Model selects the embedding model. Default text-embedding-3-small.
	Model string

	// Timeout bounds each request. Default 60s.
	Timeout time.Duration

	// Dimensions sets the vector size. For text-embedding-3-* models a
	// value below the native size requests reduced embeddings; for other
	// known models it must match the native size; for unknown models it
	// is required.
	Dimensions int

	// MaxBatchInputs caps inputs per request. Default 2048.
	MaxBatchInputs int
}

// EmbeddingService generates embeddings through the OpenAI API.
type EmbeddingService struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dims      int
	reducible bool
	maxBatch  int
}

// NewEmbeddingService creates an OpenAI embedding service and resolves
// the effective vector dimensionality from the model and config.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBatchInputs <= 0 {
		cfg.MaxBatchInputs = DefaultMaxBatchInputs
	}

	native, known := modelDimensions[cfg.Model]
	dims := cfg.Dimensions
	switch {
	case dims == 0 && !known:
		return nil, fmt.Errorf("openai: model %q is unknown, set dimensions explicitly", cfg.Model)
	case dims == 0:
		dims = native
	case known && !reducibleModels[cfg.Model] && dims != native:
		return nil, fmt.Errorf("openai: model %q does not support reduced dimensions (native %d, requested %d)",
			cfg.Model, native, dims)
	case known && dims > native:
		return nil, fmt.Errorf("openai: model %q caps at %d dimensions, requested %d",
			cfg.Model, native, dims)
	}

	return &EmbeddingService{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dims:      dims,
		reducible: reducibleModels[cfg.Model],
		maxBatch:  cfg.MaxBatchInputs,
	}, nil
}

// embeddingsRequest is the /embeddings request body.
type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embeddingsResponse is the /embeddings response body.
type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed generates a vector embedding for a single text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in request-sized chunks and returns the
// vectors in input order, one per text.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += s.maxBatch {
		end := start + s.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		if err := s.embedChunk(ctx, texts[start:end], vectors[start:end]); err != nil {
			return nil, err
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai: response missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// embedChunk issues one /embeddings request and writes the vectors into
// out at the positions the response's index field names.
func (s *EmbeddingService) embedChunk(ctx context.Context, texts []string, out [][]float32) error {
	reqBody := embeddingsRequest{
		Model: s.model,
		Input: texts,
	}
	if s.reducible {
		reqBody.Dimensions = s.dims
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai error (status %d): %s", resp.StatusCode, snippet(body))
	}

	for _, data := range parsed.Data {
		if data.Index < 0 || data.Index >= len(out) {
			return fmt.Errorf("openai: response index %d out of range for %d inputs", data.Index, len(out))
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		out[data.Index] = vector
	}
	return nil
}

// Dimensions returns the effective embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dims
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping validates the API key against the /models endpoint without
// running inference.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("openai: failed to create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("openai: API returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, snippet(body))
	}
	return nil
}

// Close releases idle connections.
func (s *EmbeddingService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func snippet(body []byte) string {
	if len(body) > errorBodySnippet {
		body = body[:errorBodySnippet]
	}
	return string(body)
}
