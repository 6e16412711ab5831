package embed

import (
	"context"
	"hash/fnv"
	"math/rand"

	"lockstep/internal/mathutil"
)

// Mock is a deterministic embedder for tests. Vectors are seeded from
// the text, so equal texts embed equally. Fields configure failure
// injection and are read without locking; tests drive it from one
// goroutine.
type Mock struct {
	Dim       int
	ModelName string
	Err       error // returned by Embed when set
	BadDim    int   // when > 0, vectors come back with this length instead of Dim
	Calls     int   // number of Embed invocations
}

// NewMock creates a mock embedder with the given dimensionality.
func NewMock(dim int) *Mock {
	return &Mock{Dim: dim}
}

// Embed returns one pseudo-random unit vector per text.
func (m *Mock) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}

	dim := m.Dim
	if m.BadDim > 0 {
		dim = m.BadDim
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		// Seed from model name and text so a renamed model yields a
		// different embedding space, as a real model change would.
		h := fnv.New64a()
		h.Write([]byte(m.Name()))
		h.Write([]byte{0})
		h.Write([]byte(text))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))

		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(rng.NormFloat64())
		}
		vectors[i] = mathutil.Normalize(vec)
	}
	return vectors, nil
}

// Dimensions returns the configured dimensionality.
func (m *Mock) Dimensions() int {
	return m.Dim
}

// Name returns the configured model name, defaulting to "mock".
func (m *Mock) Name() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock"
}
