// Package tasks runs ingestion jobs in the background, one at a time.
// A single worker keeps the per-store single-writer discipline; every
// status transition lands in the uploads table and is fanned out to
// subscribers for the live task feed.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"lockstep/internal/engine"
	"lockstep/internal/parser"
	"lockstep/internal/store"
)

// Ingestion modes.
const (
	ModeAppend  = "append"
	ModeRebuild = "rebuild"
)

// ErrBusy is returned when the task queue is full.
var ErrBusy = errors.New("tasks: queue full")

// Request describes one ingestion job.
type Request struct {
	Path     string // document on disk, inside the uploads dir
	Filename string // display name recorded in the task log
	Mode     string // ModeAppend or ModeRebuild
	Tag      string
	Year     int // 0 means infer from the document
	Dedupe   bool
}

// Event is one task status transition, as seen by subscribers.
type Event struct {
	TaskID   string    `json:"task_id"`
	Status   string    `json:"status"`
	Filename string    `json:"filename,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Added    int       `json:"added,omitempty"`
	Total    int       `json:"total,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

type job struct {
	id  string
	req Request
}

// Runner owns the ingestion queue for one engine.
type Runner struct {
	eng   *engine.Engine
	store *store.Store
	queue chan job

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewRunner builds a runner over the engine's store. queueSize bounds
// how many jobs may wait; Enqueue fails with ErrBusy beyond that.
func NewRunner(eng *engine.Engine, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Runner{
		eng:   eng,
		store: eng.Store(),
		queue: make(chan job, queueSize),
		subs:  make(map[chan Event]struct{}),
	}
}

// Run processes jobs until the context is cancelled. It is the single
// writer for the engine's store directory.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-r.queue:
			r.process(ctx, j)
		}
	}
}

// Enqueue validates the request, records it as queued and hands it to
// the worker. The returned id identifies the task in the uploads log
// and the event feed.
func (r *Runner) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.Mode != ModeAppend && req.Mode != ModeRebuild {
		return "", fmt.Errorf("tasks: mode must be %q or %q", ModeAppend, ModeRebuild)
	}

	id := uuid.NewString()
	if err := r.store.CreateUpload(ctx, id, req.Filename, req.Tag, req.Mode); err != nil {
		return "", fmt.Errorf("tasks: %w", err)
	}
	// Publish before handing over so subscribers always see queued
	// ahead of ingesting.
	r.publish(Event{TaskID: id, Status: store.UploadQueued, Filename: req.Filename, Mode: req.Mode, Time: time.Now()})

	select {
	case r.queue <- job{id: id, req: req}:
	default:
		finishErr := r.store.FinishUpload(ctx, id, store.UploadFailed, 0, 0, ErrBusy.Error())
		if finishErr != nil {
			log.Printf("[Tasks] record busy failure for %s: %v", id, finishErr)
		}
		r.publish(Event{TaskID: id, Status: store.UploadFailed, Filename: req.Filename, Mode: req.Mode, Error: ErrBusy.Error(), Time: time.Now()})
		return "", ErrBusy
	}

	log.Printf("[Tasks] queued %s: %s (%s)", id, req.Filename, req.Mode)
	return id, nil
}

// Subscribe returns a channel of task events and a cancel function.
// Slow subscribers miss events rather than block the worker.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.subMu.Unlock()
	}
	return ch, cancel
}

func (r *Runner) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Runner) process(ctx context.Context, j job) {
	if err := r.store.MarkUploadStatus(ctx, j.id, store.UploadIngesting); err != nil {
		log.Printf("[Tasks] mark %s ingesting: %v", j.id, err)
	}
	r.publish(Event{TaskID: j.id, Status: store.UploadIngesting, Filename: j.req.Filename, Mode: j.req.Mode, Time: time.Now()})

	sum, err := r.ingest(ctx, j.req)
	if err != nil {
		// Record the failure even when the context is already gone.
		if ferr := r.store.FinishUpload(context.Background(), j.id, store.UploadFailed, 0, 0, err.Error()); ferr != nil {
			log.Printf("[Tasks] record failure for %s: %v", j.id, ferr)
		}
		r.publish(Event{TaskID: j.id, Status: store.UploadFailed, Filename: j.req.Filename, Mode: j.req.Mode, Error: err.Error(), Time: time.Now()})
		log.Printf("[Tasks] %s failed: %v", j.id, err)
		return
	}

	logBlob, merr := json.Marshal(sum)
	if merr != nil {
		logBlob = []byte{}
	}
	if err := r.store.FinishUpload(ctx, j.id, store.UploadDone, sum.Added, sum.TotalAfter, string(logBlob)); err != nil {
		log.Printf("[Tasks] record completion for %s: %v", j.id, err)
	}
	r.publish(Event{TaskID: j.id, Status: store.UploadDone, Filename: j.req.Filename, Mode: j.req.Mode, Added: sum.Added, Total: sum.TotalAfter, Time: time.Now()})
	log.Printf("[Tasks] %s done: added=%d total=%d", j.id, sum.Added, sum.TotalAfter)
}

func (r *Runner) ingest(ctx context.Context, req Request) (*engine.Summary, error) {
	records, err := parser.ParseFile(req.Path, req.Year)
	if err != nil {
		return nil, err
	}
	if req.Mode == ModeRebuild {
		return r.eng.Rebuild(ctx, records, req.Dedupe)
	}
	return r.eng.Append(ctx, records, req.Dedupe)
}
