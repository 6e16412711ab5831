// Package engine keeps one store directory's vector index and metadata
// database consistent with each other. The index is append-only, so
// row i of the chunks table always describes vector i of the index;
// every operation here either preserves that bijection or repairs it
// by rebuilding the index from the metadata rows, which are the source
// of truth.
//
// Writers are serialized per engine instance. A store directory is
// owned by a single process; cross-process locking is deliberately not
// attempted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"lockstep/internal/embed"
	"lockstep/internal/index"
	"lockstep/internal/record"
	"lockstep/internal/store"
)

// Store directory layout.
const (
	DBFile    = "chunks.sqlite"
	IndexFile = "index.vec"
)

// Summary describes the outcome of one ingestion operation.
type Summary struct {
	Added       int    `json:"added"`
	Duplicates  int    `json:"duplicates,omitempty"`
	Invalid     int    `json:"invalid,omitempty"`
	TotalBefore int    `json:"total_before"`
	TotalAfter  int    `json:"total_after"`
	Repaired    bool   `json:"repaired,omitempty"`
	Warning     string `json:"warning,omitempty"`
	SQLitePath  string `json:"sqlite_path"`
	IndexPath   string `json:"index_path"`
}

// Report is the result of a read-only consistency check.
type Report struct {
	State      string   `json:"state"` // empty | consistent | drifted
	RowCount   int      `json:"row_count"`
	IndexTotal int      `json:"index_total"`
	Model      string   `json:"model,omitempty"`
	Dim        int      `json:"dim,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// Store states reported by Verify.
const (
	StateEmpty      = "empty"
	StateConsistent = "consistent"
	StateDrifted    = "drifted"
)

// Engine owns one store directory.
type Engine struct {
	mu    sync.Mutex
	dir   string
	store *store.Store
	emb   embed.Embedder
}

// Open opens (creating if needed) the store directory and its
// database. The embedder is bound for the engine's lifetime; its
// identity is checked against store metadata on every operation.
func Open(dir string, emb embed.Embedder) (*Engine, error) {
	if emb == nil {
		return nil, errors.New("engine: embedder is required")
	}
	if emb.Dimensions() <= 0 {
		return nil, fmt.Errorf("engine: embedder %q declares dimension %d", emb.Name(), emb.Dimensions())
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create store dir: %w", err)
	}

	st, err := store.Open(filepath.Join(dir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{dir: dir, store: st, emb: emb}, nil
}

// Close releases the underlying database.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Dir returns the store directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Store exposes the metadata database for collaborators that share
// the store directory (task log, query path, backups).
func (e *Engine) Store() *store.Store {
	return e.store
}

// IndexPath returns the vector index file path.
func (e *Engine) IndexPath() string {
	return filepath.Join(e.dir, IndexFile)
}

type pendingRecord struct {
	hash string
	text string
	rec  record.Record
}

// Append ingests records into the store. It self-heals first: a
// changed embedding model or a row/vector count mismatch triggers a
// full repair before any new record is considered. Duplicate records
// are dropped by content hash; with dedupe false only the check
// against already-stored hashes is skipped, duplicates inside the
// batch still collapse so ordinal ids stay dense.
func (e *Engine) Append(ctx context.Context, records []record.Record, dedupe bool) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := e.newSummary()

	idx, err := e.prepareIndex(ctx, sum)
	if err != nil {
		return nil, err
	}

	nOld := idx.Total()
	sum.TotalBefore = nOld
	sum.TotalAfter = nOld

	pending := canonicalize(records, sum)

	var existing map[string]struct{}
	if dedupe {
		existing, err = e.store.ExistingHashes(ctx)
		if err != nil {
			return nil, wrapErr("append", err)
		}
	}
	fresh := collapse(pending, existing, sum)

	if len(fresh) == 0 {
		// Still a successful operation: a fresh store must end up
		// with its model identity persisted.
		if err := e.saveMeta(ctx); err != nil {
			return nil, wrapErr("append", err)
		}
		return sum, nil
	}

	vectors, err := e.embedBatch(ctx, fresh)
	if err != nil {
		return nil, err
	}

	// Vectors first, rows second: a crash in between leaves the index
	// ahead of the table, which the next operation repairs.
	if err := idx.Add(vectors); err != nil {
		return nil, wrapErr("append", err)
	}
	if err := idx.Save(e.IndexPath()); err != nil {
		return nil, wrapErr("append", fmt.Errorf("persist index: %w", err))
	}

	rows := make([]store.Row, len(fresh))
	for i, p := range fresh {
		rows[i] = store.Row{ID: nOld + i, Hash: p.hash, Text: p.text, Record: p.rec}
	}
	if err := e.store.InsertRows(ctx, rows); err != nil {
		return nil, wrapErr("append", err)
	}
	if err := e.saveMeta(ctx); err != nil {
		return nil, wrapErr("append", err)
	}

	sum.Added = len(fresh)
	e.verifyAfterWrite(ctx, idx, sum)
	return sum, nil
}

// Rebuild discards the store content and reloads it from the given
// records alone. Unlike append it has no partial-success path: it
// returns a consistent store or an error.
func (e *Engine) Rebuild(ctx context.Context, records []record.Record, dedupe bool) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := e.newSummary()

	pending := canonicalize(records, sum)
	if dedupe {
		pending = collapse(pending, nil, sum)
	}

	var vectors [][]float32
	if len(pending) > 0 {
		var err error
		vectors, err = e.embedBatch(ctx, pending)
		if err != nil {
			return nil, err
		}
	}

	rows := make([]store.Row, len(pending))
	for i, p := range pending {
		rows[i] = store.Row{ID: i, Hash: p.hash, Text: p.text, Record: p.rec}
	}

	idx, err := index.NewFlat(e.emb.Dimensions())
	if err != nil {
		return nil, wrapErr("rebuild", err)
	}
	if err := idx.Add(vectors); err != nil {
		return nil, wrapErr("rebuild", err)
	}

	if err := e.store.ReplaceAllRows(ctx, rows); err != nil {
		return nil, wrapErr("rebuild", err)
	}
	if err := idx.Save(e.IndexPath()); err != nil {
		return nil, wrapErr("rebuild", fmt.Errorf("persist index: %w", err))
	}
	if err := e.saveMeta(ctx); err != nil {
		return nil, wrapErr("rebuild", err)
	}

	after, err := e.store.RowCount(ctx)
	if err != nil {
		return nil, wrapErr("rebuild", err)
	}
	if after != idx.Total() {
		return nil, wrapErr("rebuild",
			fmt.Errorf("post-rebuild mismatch: %d rows vs %d vectors", after, idx.Total()))
	}

	sum.Added = len(pending)
	sum.TotalAfter = after
	log.Printf("[Engine] rebuild: %d records ingested into %s", sum.Added, e.dir)
	return sum, nil
}

// Repair rebuilds the vector index from the metadata rows and
// resequences ordinal ids to be dense. Exposed for operators; append
// invokes the same procedure automatically when it detects drift.
func (e *Engine) Repair(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := e.newSummary()

	before, err := e.store.RowCount(ctx)
	if err != nil {
		return nil, wrapErr("repair", err)
	}
	sum.TotalBefore = before

	idx, err := e.repair(ctx)
	if err != nil {
		return nil, err
	}

	sum.Repaired = true
	sum.TotalAfter = idx.Total()
	return sum, nil
}

// Verify checks the bijection invariant and the embedding identity
// without modifying anything.
func (e *Engine) Verify(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := &Report{}

	rows, err := e.store.RowCount(ctx)
	if err != nil {
		return nil, wrapErr("verify", err)
	}
	rep.RowCount = rows

	model, dim, err := e.loadMeta(ctx)
	if err != nil {
		return nil, wrapErr("verify", err)
	}
	rep.Model = model
	rep.Dim = dim

	idx, loadErr := index.Load(e.IndexPath())
	switch {
	case loadErr == nil:
		rep.IndexTotal = idx.Total()
		if idx.Dim() != e.emb.Dimensions() {
			rep.Issues = append(rep.Issues,
				fmt.Sprintf("index dimension %d differs from provider dimension %d", idx.Dim(), e.emb.Dimensions()))
		}
	case errors.Is(loadErr, os.ErrNotExist):
		if rows > 0 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("index file missing while %d rows exist", rows))
		}
	case errors.Is(loadErr, index.ErrCorrupt):
		rep.Issues = append(rep.Issues, fmt.Sprintf("index file corrupt: %v", loadErr))
	default:
		return nil, wrapErr("verify", loadErr)
	}

	if rows != rep.IndexTotal {
		rep.Issues = append(rep.Issues,
			fmt.Sprintf("row count %d does not match index total %d", rows, rep.IndexTotal))
	}
	if model != "" && model != e.emb.Name() {
		rep.Issues = append(rep.Issues,
			fmt.Sprintf("store model %q differs from provider %q", model, e.emb.Name()))
	}
	if dim != 0 && dim != e.emb.Dimensions() {
		rep.Issues = append(rep.Issues,
			fmt.Sprintf("store dimension %d differs from provider dimension %d", dim, e.emb.Dimensions()))
	}

	switch {
	case len(rep.Issues) > 0:
		rep.State = StateDrifted
	case rows == 0 && rep.IndexTotal == 0 && model == "":
		rep.State = StateEmpty
	default:
		rep.State = StateConsistent
	}
	return rep, nil
}

// prepareIndex loads the index and runs the append pre-checks,
// repairing the store when the embedding space changed or the counts
// disagree. The returned index is always compatible with the current
// provider.
func (e *Engine) prepareIndex(ctx context.Context, sum *Summary) (*index.Flat, error) {
	idx, err := e.loadIndex()
	if err != nil {
		return nil, wrapErr("append", err)
	}

	model, dim, err := e.loadMeta(ctx)
	if err != nil {
		return nil, wrapErr("append", err)
	}
	rows, err := e.store.RowCount(ctx)
	if err != nil {
		return nil, wrapErr("append", err)
	}

	total := 0
	if idx != nil {
		total = idx.Total()
	}

	var reason string
	switch {
	case model != "" && model != e.emb.Name():
		reason = fmt.Sprintf("model changed from %q to %q", model, e.emb.Name())
	case dim != 0 && dim != e.emb.Dimensions():
		reason = fmt.Sprintf("dimension changed from %d to %d", dim, e.emb.Dimensions())
	case idx != nil && idx.Dim() != e.emb.Dimensions():
		reason = fmt.Sprintf("index dimension %d differs from provider dimension %d", idx.Dim(), e.emb.Dimensions())
	case rows != total:
		reason = fmt.Sprintf("%d rows vs %d vectors", rows, total)
	}

	if reason != "" {
		log.Printf("[Engine] drift detected (%s), repairing %s", reason, e.dir)
		idx, err = e.repair(ctx)
		if err != nil {
			return nil, err
		}
		sum.Repaired = true
		return idx, nil
	}

	if idx == nil {
		idx, err = index.NewFlat(e.emb.Dimensions())
		if err != nil {
			return nil, wrapErr("append", err)
		}
	}
	return idx, nil
}

// repair rebuilds the index from the chunks table: surviving rows are
// read in ordinal order, resequenced to 0..n-1, re-embedded with the
// current provider, and both stores are rewritten. Rows that predate
// content hashing get one backfilled; if that exposes duplicates, the
// later row is dropped. Failure here is unrecoverable by definition.
func (e *Engine) repair(ctx context.Context) (*index.Flat, error) {
	rows, err := e.store.AllRows(ctx)
	if err != nil {
		return nil, &UnrecoverableError{Err: fmt.Errorf("read rows: %w", err)}
	}

	seen := make(map[string]struct{}, len(rows))
	survivors := make([]store.Row, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if r.Text == "" {
			r.Text = r.Record.CanonicalText()
		}
		if r.Hash == "" {
			r.Hash = record.HashText(r.Text)
		}
		if _, dup := seen[r.Hash]; dup {
			dropped++
			continue
		}
		seen[r.Hash] = struct{}{}
		survivors = append(survivors, r)
	}

	var vectors [][]float32
	if len(survivors) > 0 {
		texts := make([]string, len(survivors))
		for i, r := range survivors {
			texts[i] = r.Text
		}
		vectors, err = e.emb.Embed(ctx, texts)
		if err != nil {
			return nil, &UnrecoverableError{Err: fmt.Errorf("re-embed %d rows: %w", len(texts), err)}
		}
		if len(vectors) != len(texts) {
			return nil, &UnrecoverableError{Err: fmt.Errorf("provider returned %d vectors for %d rows", len(vectors), len(texts))}
		}
		for _, v := range vectors {
			if len(v) != e.emb.Dimensions() {
				return nil, &UnrecoverableError{Err: &DimensionError{Expected: e.emb.Dimensions(), Actual: len(v)}}
			}
		}
	}

	for i := range survivors {
		survivors[i].ID = i
	}

	idx, err := index.NewFlat(e.emb.Dimensions())
	if err != nil {
		return nil, &UnrecoverableError{Err: err}
	}
	if err := idx.Add(vectors); err != nil {
		return nil, &UnrecoverableError{Err: err}
	}

	if err := e.store.ReplaceAllRows(ctx, survivors); err != nil {
		return nil, &UnrecoverableError{Err: fmt.Errorf("rewrite rows: %w", err)}
	}
	if err := idx.Save(e.IndexPath()); err != nil {
		return nil, &UnrecoverableError{Err: fmt.Errorf("persist index: %w", err)}
	}
	if err := e.saveMeta(ctx); err != nil {
		return nil, &UnrecoverableError{Err: err}
	}

	if dropped > 0 {
		log.Printf("[Engine] repair dropped %d duplicate rows in %s", dropped, e.dir)
	}
	log.Printf("[Engine] repair complete: %d rows re-embedded with %s", len(survivors), e.emb.Name())
	return idx, nil
}

// embedBatch embeds all pending texts in a single provider call and
// verifies the result shape before anything is written.
func (e *Engine) embedBatch(ctx context.Context, pending []pendingRecord) ([][]float32, error) {
	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.text
	}

	vectors, err := e.emb.Embed(ctx, texts)
	if err != nil {
		return nil, wrapErr("embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, wrapErr("embed", fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts)))
	}
	for _, v := range vectors {
		if len(v) != e.emb.Dimensions() {
			return nil, &DimensionError{Expected: e.emb.Dimensions(), Actual: len(v)}
		}
	}
	return vectors, nil
}

// verifyAfterWrite compares the two stores after a successful append.
// A mismatch here means a concurrent failure split the write; the
// summary carries a warning instead of an error because whichever
// half succeeded must not be silently rolled back. The next operation
// repairs.
func (e *Engine) verifyAfterWrite(ctx context.Context, idx *index.Flat, sum *Summary) {
	after, err := e.store.RowCount(ctx)
	if err != nil {
		sum.Warning = fmt.Sprintf("post-write verification failed: %v", err)
		sum.TotalAfter = sum.TotalBefore + sum.Added
		log.Printf("[Engine] %s", sum.Warning)
		return
	}

	sum.TotalAfter = after
	if after != idx.Total() {
		sum.Warning = fmt.Sprintf("post-write mismatch: %d rows vs %d vectors; store is drifted until the next repair", after, idx.Total())
		log.Printf("[Engine] %s", sum.Warning)
	}
}

// loadIndex returns nil without error when no usable index file
// exists; a corrupt file is logged and treated as absent so the
// drift check sends the operation through repair.
func (e *Engine) loadIndex() (*index.Flat, error) {
	idx, err := index.Load(e.IndexPath())
	if err == nil {
		return idx, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if errors.Is(err, index.ErrCorrupt) {
		log.Printf("[Engine] %v; rebuilding from metadata", err)
		return nil, nil
	}
	return nil, err
}

func (e *Engine) loadMeta(ctx context.Context) (model string, dim int, err error) {
	model, err = e.store.GetMeta(ctx, store.MetaModel)
	if err != nil {
		return "", 0, err
	}
	raw, err := e.store.GetMeta(ctx, store.MetaDim)
	if err != nil {
		return "", 0, err
	}
	if raw != "" {
		dim, err = strconv.Atoi(raw)
		if err != nil {
			log.Printf("[Engine] ignoring unparseable %s=%q", store.MetaDim, raw)
			dim, err = 0, nil
		}
	}
	return model, dim, nil
}

func (e *Engine) saveMeta(ctx context.Context) error {
	if err := e.store.SetMeta(ctx, store.MetaModel, e.emb.Name()); err != nil {
		return err
	}
	return e.store.SetMeta(ctx, store.MetaDim, strconv.Itoa(e.emb.Dimensions()))
}

func (e *Engine) newSummary() *Summary {
	return &Summary{
		SQLitePath: e.store.Path(),
		IndexPath:  e.IndexPath(),
	}
}

// canonicalize validates and hashes the input records, counting the
// invalid ones into the summary.
func canonicalize(records []record.Record, sum *Summary) []pendingRecord {
	pending := make([]pendingRecord, 0, len(records))
	for _, r := range records {
		if !r.Valid() {
			sum.Invalid++
			continue
		}
		text := r.CanonicalText()
		pending = append(pending, pendingRecord{hash: record.HashText(text), text: text, rec: r})
	}
	return pending
}

// collapse drops records whose hash was already seen, either earlier
// in the batch or, when existing is non-nil, in the store.
func collapse(pending []pendingRecord, existing map[string]struct{}, sum *Summary) []pendingRecord {
	seen := make(map[string]struct{}, len(pending))
	fresh := make([]pendingRecord, 0, len(pending))
	for _, p := range pending {
		if _, dup := seen[p.hash]; dup {
			sum.Duplicates++
			continue
		}
		if existing != nil {
			if _, dup := existing[p.hash]; dup {
				sum.Duplicates++
				continue
			}
		}
		seen[p.hash] = struct{}{}
		fresh = append(fresh, p)
	}
	return fresh
}
