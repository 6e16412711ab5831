package maintenance

import (
	"context"
	"time"
)

// Task is a maintenance job that can be scheduled and executed.
type Task interface {
	// Name identifies the task in logs and status reports.
	Name() string

	// Description returns a human-readable summary of what the task does.
	Description() string

	// Execute runs the task once and reports the outcome.
	Execute(ctx context.Context) TaskResult
}

// TaskResult is the outcome of a single task run.
type TaskResult struct {
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	Message          string        `json:"message"`
	RecordsProcessed int           `json:"records_processed,omitempty"`
	SpaceReclaimed   int64         `json:"space_reclaimed,omitempty"`
	Error            error         `json:"error,omitempty"`
}

// TaskStatus tracks scheduling state for one registered task.
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	LastRun     time.Time  `json:"last_run"`
	NextRun     time.Time  `json:"next_run"`
	LastResult  TaskResult `json:"last_result"`
}
