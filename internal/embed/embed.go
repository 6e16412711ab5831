// Package embed provides the embedding providers used to vectorize
// canonical record text. Providers return L2-normalized vectors, so
// inner-product scores over them are cosine similarities.
package embed

import (
	"context"
	"fmt"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed converts texts to vectors (batched for efficiency).
	// The result has one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Name identifies the provider and model. Stores record it and
	// refuse to silently mix vectors from differently named providers.
	Name() string
}

// Options selects and tunes a provider, mirroring the embedding block
// of the config file.
type Options struct {
	Provider  string // "openai", "jina", "ollama" or "hash"
	Model     string
	APIKeyEnv string
	BaseURL   string
	Dimension int
	BatchSize int
}

// New builds the provider named in opts.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "openai":
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		e, err := NewOpenAICompatible(opts.APIKeyEnv, opts.Model, baseURL)
		if err != nil {
			return nil, err
		}
		return e.WithDimension(opts.Dimension).WithBatchSize(opts.BatchSize), nil
	case "jina":
		e, err := NewJina(opts.APIKeyEnv, opts.Model)
		if err != nil {
			return nil, err
		}
		return e.WithDimension(opts.Dimension).WithBatchSize(opts.BatchSize), nil
	case "ollama":
		e, err := NewOllama(opts.Model, opts.BaseURL)
		if err != nil {
			return nil, err
		}
		return e.WithDimension(opts.Dimension).WithBatchSize(opts.BatchSize), nil
	case "hash":
		return NewFeatureHash(opts.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Provider)
	}
}
