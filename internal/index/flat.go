// Package index implements the append-only flat inner-product vector
// index backing a store. Vector position is identity: the i-th added
// vector keeps ordinal i forever, which is what lets metadata rows and
// vectors share ids. There is no delete and no update.
package index

import (
	"errors"
	"fmt"
	"sort"

	"lockstep/internal/mathutil"
)

var (
	// ErrDimension is returned when a vector does not match the index
	// dimensionality.
	ErrDimension = errors.New("index: vector dimension mismatch")

	// ErrCorrupt is returned when an index file fails structural or
	// checksum validation.
	ErrCorrupt = errors.New("index: corrupt file")
)

// Flat is an exact inner-product index over a contiguous row-major
// float32 buffer. It is not goroutine safe; the owning store
// serializes access.
type Flat struct {
	dim  int
	data []float32 // count*dim values, row-major
}

// Result is one search hit.
type Result struct {
	ID    int     `json:"id"`
	Score float32 `json:"score"`
}

// NewFlat creates an empty index with fixed dimensionality.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}
	return &Flat{dim: dim}, nil
}

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int {
	return f.dim
}

// Total returns the number of stored vectors.
func (f *Flat) Total() int {
	return len(f.data) / f.dim
}

// Add appends vectors in call order. The first vector appended gets
// ordinal Total() as observed before the call. A dimension mismatch
// rejects the whole batch with nothing appended.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d values, index holds %d", ErrDimension, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Vector returns the stored vector at ordinal i. The returned slice
// aliases the index buffer.
func (f *Flat) Vector(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search scans every vector and returns the k best inner-product
// matches in descending score order. Ties break toward the lower
// ordinal.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d values, index holds %d", ErrDimension, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	total := f.Total()
	results := make([]Result, 0, total)
	for i := 0; i < total; i++ {
		results = append(results, Result{
			ID:    i,
			Score: mathutil.DotProduct(query, f.Vector(i)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}
