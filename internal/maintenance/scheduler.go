package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered maintenance tasks on a shared cron
// schedule. The schedule is a standard five-field cron expression,
// for example "0 3 * * *" for three in the morning every day.
type Scheduler struct {
	schedule string
	cron     *cron.Cron
	tasks    map[string]Task
	entries  map[string]cron.EntryID
	status   map[string]TaskStatus
	mu       sync.RWMutex
	running  bool
	logger   *log.Logger
}

// NewScheduler creates a scheduler for the given cron expression.
func NewScheduler(schedule string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		schedule: schedule,
		cron:     cron.New(),
		tasks:    make(map[string]Task),
		entries:  make(map[string]cron.EntryID),
		status:   make(map[string]TaskStatus),
		logger:   logger,
	}
}

// RegisterTask adds a task to the scheduler. Tasks must be registered
// before Start is called.
func (s *Scheduler) RegisterTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := task.Name()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}
	if s.running {
		return fmt.Errorf("cannot register task %s while scheduler is running", name)
	}
	s.tasks[name] = task

	s.status[name] = TaskStatus{
		Name:        name,
		Description: task.Description(),
		Schedule:    s.schedule,
	}

	s.logger.Printf("[Maintenance] Registered task: %s", name)
	return nil
}

// Start schedules all registered tasks and begins the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for name, task := range s.tasks {
		id, err := s.cron.AddFunc(s.schedule, func() {
			s.executeTask(context.Background(), name, task)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		s.entries[name] = id
	}

	s.cron.Start()
	s.running = true

	s.logger.Printf("[Maintenance] Scheduler started with %d tasks on schedule %q", len(s.tasks), s.schedule)
	return nil
}

// Stop halts the cron loop and waits for running tasks to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	s.running = false

	select {
	case <-ctx.Done():
		s.logger.Println("[Maintenance] Scheduler stopped")
	case <-time.After(30 * time.Second):
		s.logger.Println("[Maintenance] Scheduler stop timed out")
	}

	return nil
}

// RunNow executes all registered tasks immediately, outside the
// regular schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.RLock()
	tasks := make(map[string]Task, len(s.tasks))
	for name, task := range s.tasks {
		tasks[name] = task
	}
	s.mu.RUnlock()

	s.logger.Printf("[Maintenance] Running %d tasks immediately", len(tasks))

	for name, task := range tasks {
		s.executeTask(ctx, name, task)
	}
}

// RunTask executes a single task by name.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	s.mu.RLock()
	task, exists := s.tasks[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %s not found", name)
	}

	s.executeTask(ctx, name, task)
	return nil
}

// GetStatus returns a snapshot of every registered task's status.
func (s *Scheduler) GetStatus() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]TaskStatus, len(s.status))
	for name, stat := range s.status {
		if id, ok := s.entries[name]; ok {
			stat.NextRun = s.cron.Entry(id).Next
		}
		status[name] = stat
	}

	return status
}

// IsRunning reports whether the cron loop has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) executeTask(ctx context.Context, name string, task Task) {
	s.logger.Printf("[Maintenance] Starting task: %s", name)

	start := time.Now()
	result := task.Execute(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	stat := s.status[name]
	stat.LastRun = start
	stat.LastResult = result
	s.status[name] = stat
	s.mu.Unlock()

	if result.Success {
		s.logger.Printf("[Maintenance] Task %s completed in %v: %s", name, result.Duration, result.Message)
		if result.SpaceReclaimed > 0 {
			s.logger.Printf("[Maintenance] Task %s reclaimed %d bytes", name, result.SpaceReclaimed)
		}
	} else {
		s.logger.Printf("[Maintenance] Task %s failed after %v: %s", name, result.Duration, result.Message)
		if result.Error != nil {
			s.logger.Printf("[Maintenance] Task %s error: %v", name, result.Error)
		}
	}
}
