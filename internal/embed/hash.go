package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"lockstep/internal/mathutil"
)

// FeatureHash is an offline embedder that maps tokens into a
// fixed-size vector via FNV-1a hashing. It has no vocabulary and no
// training state, so the same text embeds identically across
// processes and restarts. Quality is far below a learned model; it
// exists so a store works with no external embedding service at all.
type FeatureHash struct {
	dims int
}

// NewFeatureHash creates a feature-hashing embedder.
func NewFeatureHash(dims int) *FeatureHash {
	if dims <= 0 {
		dims = 256
	}
	return &FeatureHash{dims: dims}
}

// Embed converts texts to hashed bag-of-words unit vectors.
func (f *FeatureHash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			sum := h.Sum32()

			idx := int(sum>>1) % f.dims
			if sum&1 == 1 {
				vec[idx]++
			} else {
				vec[idx]--
			}
		}
		vectors[i] = mathutil.Normalize(vec)
	}
	return vectors, nil
}

// Dimensions returns the vector dimensionality.
func (f *FeatureHash) Dimensions() int {
	return f.dims
}

// Name identifies the provider. The dimension is part of the name, so
// resizing shows up as a model change rather than silent drift.
func (f *FeatureHash) Name() string {
	return fmt.Sprintf("feature-hash-%d", f.dims)
}

// tokenize splits text into lowercase words.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}

	return words
}
