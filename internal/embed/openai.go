package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"lockstep/internal/mathutil"
	"lockstep/internal/version"
)

// OpenAI talks to an OpenAI-compatible /v1/embeddings endpoint.
// Ollama and Jina expose the same wire shape, so one client covers all
// of them.
type OpenAI struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batch     int
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAI builds a client for api.openai.com. The key is read from
// the named environment variable, never from config files.
func NewOpenAI(apiKeyEnv, model string) (*OpenAI, error) {
	return NewOpenAICompatible(apiKeyEnv, model, "https://api.openai.com/v1")
}

// NewJina builds a client for api.jina.ai.
func NewJina(apiKeyEnv, model string) (*OpenAI, error) {
	return NewOpenAICompatible(apiKeyEnv, model, "https://api.jina.ai/v1")
}

// NewOllama builds a client for a local Ollama server. Ollama ignores
// the bearer token but the compatible endpoint still expects one.
func NewOllama(model, baseURL string) (*OpenAI, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}

	dimension := 768
	switch model {
	case "nomic-embed-text":
		dimension = 768
	case "mxbai-embed-large":
		dimension = 1024
	case "all-minilm":
		dimension = 384
	}

	return &OpenAI{
		apiKey:    "ollama",
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		batch:     defaultBatch,
		client:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// NewOpenAICompatible builds a client for any endpoint speaking the
// OpenAI embeddings protocol.
func NewOpenAICompatible(apiKeyEnv, model, baseURL string) (*OpenAI, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}

	dimension := 1536
	switch model {
	case "text-embedding-3-small":
		dimension = 1536
	case "text-embedding-3-large":
		dimension = 3072
	case "text-embedding-ada-002":
		dimension = 1536
	case "jina-embeddings-v3":
		dimension = 1024
	case "jina-embeddings-v4":
		dimension = 2048
	}

	return &OpenAI{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		batch:     defaultBatch,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// defaultBatch is the per-request input cap. OpenAI accepts far more,
// but large batches time out on slow local servers.
const defaultBatch = 100

// WithDimension overrides the model dimension table, for models the
// table does not know.
func (e *OpenAI) WithDimension(d int) *OpenAI {
	if d > 0 {
		e.dimension = d
	}
	return e
}

// WithBatchSize overrides how many inputs go into one API request.
func (e *OpenAI) WithBatchSize(n int) *OpenAI {
	if n > 0 {
		e.batch = n
	}
	return e
}

// Embed vectorizes texts, slicing the input into API-sized batches.
// Callers see a single call producing one vector per text.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	maxBatch := e.batch
	if maxBatch <= 0 {
		maxBatch = defaultBatch
	}
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatch {
		end := i + maxBatch
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}

	return all, nil
}

func (e *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse response (body: %s): %w", truncate(raw, 200), err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embeddings API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// Reorder by index and normalize. Not every compatible server
	// returns unit vectors, and scoring assumes they are.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = mathutil.Normalize(d.Embedding)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embeddings API returned no vector for input %d", i)
		}
	}

	return vectors, nil
}

// Dimensions returns the vector dimensionality.
func (e *OpenAI) Dimensions() int {
	return e.dimension
}

// Name returns the model identifier recorded in store metadata.
func (e *OpenAI) Name() string {
	return e.model
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
