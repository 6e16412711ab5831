// Package search is the read path over a store directory: embed the
// query, scan the vector index, fetch the matching rows. Readers never
// write; the index snapshot is cached and reloaded when the file on
// disk is replaced.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"lockstep/internal/embed"
	"lockstep/internal/index"
	"lockstep/internal/record"
	"lockstep/internal/store"
)

// DefaultTopK bounds result sets when the caller does not ask for a
// specific k.
const DefaultTopK = 5

// ErrEmptyQuery is returned for queries that are empty after trimming.
var ErrEmptyQuery = errors.New("search: empty query")

// Hit is one scored schedule event.
type Hit struct {
	ID     int           `json:"id"`
	Score  float32       `json:"score"`
	Record record.Record `json:"record"`
}

// Searcher answers queries against one store directory.
type Searcher struct {
	store     *store.Store
	emb       embed.Embedder
	indexPath string

	mu      sync.Mutex
	idx     *index.Flat
	size    int64
	modTime time.Time
}

// New builds a Searcher over an open store. indexPath is the vector
// index file the ingestion side maintains.
func New(st *store.Store, emb embed.Embedder, indexPath string) *Searcher {
	return &Searcher{store: st, emb: emb, indexPath: indexPath}
}

// Search embeds the query and returns up to k events ordered by score
// descending. An empty store yields no hits; rows the metadata side no
// longer has are skipped.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vectors, err := s.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("search: provider returned %d vectors for one query", len(vectors))
	}

	idx, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if idx == nil || idx.Total() == 0 {
		return nil, nil
	}

	matches, err := idx.Search(vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]int, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	rows, err := s.store.RowsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: fetch rows: %w", err)
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		row, ok := rows[m.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: m.ID, Score: m.Score, Record: row.Record})
	}
	return hits, nil
}

// snapshot returns the cached index, reloading it when the file on
// disk changed. A missing file means an empty store, not an error.
func (s *Searcher) snapshot() (*index.Flat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		s.idx = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search: stat index: %w", err)
	}

	if s.idx != nil && info.Size() == s.size && info.ModTime().Equal(s.modTime) {
		return s.idx, nil
	}

	idx, err := index.Load(s.indexPath)
	if err != nil {
		return nil, fmt.Errorf("search: load index: %w", err)
	}
	s.idx = idx
	s.size = info.Size()
	s.modTime = info.ModTime()
	return idx, nil
}
