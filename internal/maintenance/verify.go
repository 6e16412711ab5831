package maintenance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lockstep/internal/engine"
)

// StoreVerifyTask checks that the vector index and the metadata table
// still describe the same events, and optionally repairs drift.
type StoreVerifyTask struct {
	eng        *engine.Engine
	autoRepair bool
	logger     *log.Logger
}

// NewStoreVerifyTask creates a verification task for the given engine.
// When autoRepair is set, detected drift is repaired in place instead
// of only being reported.
func NewStoreVerifyTask(eng *engine.Engine, autoRepair bool, logger *log.Logger) *StoreVerifyTask {
	if logger == nil {
		logger = log.Default()
	}

	return &StoreVerifyTask{
		eng:        eng,
		autoRepair: autoRepair,
		logger:     logger,
	}
}

// Name returns the task name.
func (t *StoreVerifyTask) Name() string {
	return "store_verify"
}

// Description returns the task description.
func (t *StoreVerifyTask) Description() string {
	if t.autoRepair {
		return "Verify index and metadata consistency, repairing drift"
	}
	return "Verify index and metadata consistency"
}

// Execute runs the consistency check.
func (t *StoreVerifyTask) Execute(ctx context.Context) TaskResult {
	start := time.Now()

	rep, err := t.eng.Verify(ctx)
	if err != nil {
		return TaskResult{
			Success:  false,
			Duration: time.Since(start),
			Message:  "verify failed",
			Error:    err,
		}
	}

	switch rep.State {
	case engine.StateEmpty:
		return TaskResult{
			Success:  true,
			Duration: time.Since(start),
			Message:  "store is empty",
		}
	case engine.StateConsistent:
		return TaskResult{
			Success:          true,
			Duration:         time.Since(start),
			Message:          fmt.Sprintf("store consistent: %d events", rep.RowCount),
			RecordsProcessed: rep.RowCount,
		}
	}

	issues := strings.Join(rep.Issues, "; ")
	t.logger.Printf("[Maintenance] store drift detected: %s", issues)

	if !t.autoRepair {
		return TaskResult{
			Success:  false,
			Duration: time.Since(start),
			Message:  "drift detected: " + issues,
		}
	}

	sum, err := t.eng.Repair(ctx)
	if err != nil {
		return TaskResult{
			Success:  false,
			Duration: time.Since(start),
			Message:  "repair failed: " + issues,
			Error:    err,
		}
	}

	return TaskResult{
		Success:          true,
		Duration:         time.Since(start),
		Message:          fmt.Sprintf("drift repaired: %d events", sum.TotalAfter),
		RecordsProcessed: sum.TotalAfter,
	}
}
