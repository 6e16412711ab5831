package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// uploadFilePrefix matches the temporary files written by the upload
// preview endpoint.
const uploadFilePrefix = "upload_"

// UploadsCleanupTask removes stale temporary files from the uploads
// directory. Preview uploads that were never ingested, or whose task
// finished long ago, accumulate there until this task deletes them.
type UploadsCleanupTask struct {
	dir           string
	retentionDays int
	logger        *log.Logger
}

// NewUploadsCleanupTask creates a cleanup task for the given uploads
// directory. A retention of zero or less disables deletion.
func NewUploadsCleanupTask(dir string, retentionDays int, logger *log.Logger) *UploadsCleanupTask {
	if logger == nil {
		logger = log.Default()
	}

	return &UploadsCleanupTask{
		dir:           dir,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Name returns the task name.
func (t *UploadsCleanupTask) Name() string {
	return "uploads_cleanup"
}

// Description returns the task description.
func (t *UploadsCleanupTask) Description() string {
	return fmt.Sprintf("Remove uploaded files older than %d days", t.retentionDays)
}

// Execute deletes upload files whose modification time is older than
// the retention period.
func (t *UploadsCleanupTask) Execute(ctx context.Context) TaskResult {
	start := time.Now()

	if t.retentionDays <= 0 {
		return TaskResult{
			Success:  true,
			Duration: time.Since(start),
			Message:  "uploads cleanup disabled",
		}
	}

	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return TaskResult{
				Success:  true,
				Duration: time.Since(start),
				Message:  "uploads directory does not exist",
			}
		}
		return TaskResult{
			Success:  false,
			Duration: time.Since(start),
			Message:  "failed to read uploads directory",
			Error:    err,
		}
	}

	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)

	var removed int
	var reclaimed int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), uploadFilePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(t.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			t.logger.Printf("[Maintenance] failed to remove %s: %v", path, err)
			continue
		}
		removed++
		reclaimed += info.Size()
	}

	return TaskResult{
		Success:          true,
		Duration:         time.Since(start),
		Message:          fmt.Sprintf("removed %d stale uploads", removed),
		RecordsProcessed: removed,
		SpaceReclaimed:   reclaimed,
	}
}
