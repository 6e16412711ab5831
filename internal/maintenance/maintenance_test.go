package maintenance

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lockstep/internal/embed"
	"lockstep/internal/engine"
	"lockstep/internal/record"
	"lockstep/internal/store"
)

func TestUploadsCleanupTask(t *testing.T) {
	dir := t.TempDir()

	// One stale upload, one fresh upload, one unrelated old file.
	stale := filepath.Join(dir, "upload_1700000000_old.html")
	fresh := filepath.Join(dir, "upload_1800000000_new.html")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{stale, fresh, other} {
		if err := os.WriteFile(path, []byte("<html>lịch</html>"), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "upload_dir"), 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	old := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Failed to age stale upload: %v", err)
	}
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatalf("Failed to age unrelated file: %v", err)
	}

	task := NewUploadsCleanupTask(dir, 14, log.New(os.Stdout, "[Test] ", log.LstdFlags))
	result := task.Execute(context.Background())

	if !result.Success {
		t.Fatalf("Cleanup task failed: %s (%v)", result.Message, result.Error)
	}
	if result.RecordsProcessed != 1 {
		t.Errorf("Expected 1 removed upload, got %d", result.RecordsProcessed)
	}
	if result.SpaceReclaimed <= 0 {
		t.Errorf("Expected reclaimed bytes, got %d", result.SpaceReclaimed)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Stale upload should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("Fresh upload should survive: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("Unrelated file should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "upload_dir")); err != nil {
		t.Errorf("Subdirectory should survive: %v", err)
	}
}

func TestUploadsCleanupTask_Disabled(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "upload_1_old.html")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write upload: %v", err)
	}
	old := time.Now().AddDate(0, 0, -90)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Failed to age upload: %v", err)
	}

	task := NewUploadsCleanupTask(dir, 0, nil)
	result := task.Execute(context.Background())

	if !result.Success {
		t.Fatalf("Disabled cleanup should succeed: %s", result.Message)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("File should survive when retention is disabled: %v", err)
	}
}

func TestUploadsCleanupTask_MissingDir(t *testing.T) {
	task := NewUploadsCleanupTask(filepath.Join(t.TempDir(), "absent"), 14, nil)
	result := task.Execute(context.Background())

	if !result.Success {
		t.Fatalf("Missing directory should not fail the task: %s", result.Message)
	}
}

func TestStoreVerifyTask(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	task := NewStoreVerifyTask(eng, false, nil)
	result := task.Execute(ctx)
	if !result.Success {
		t.Fatalf("Verify of empty store failed: %s (%v)", result.Message, result.Error)
	}
	if result.Message != "store is empty" {
		t.Errorf("Unexpected message for empty store: %s", result.Message)
	}

	seedEvents(t, eng)

	result = task.Execute(ctx)
	if !result.Success {
		t.Fatalf("Verify of consistent store failed: %s (%v)", result.Message, result.Error)
	}
	if result.RecordsProcessed != 2 {
		t.Errorf("Expected 2 events verified, got %d", result.RecordsProcessed)
	}
}

func TestStoreVerifyTask_Drift(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	seedEvents(t, eng)

	// A row inserted behind the engine's back leaves the table ahead
	// of the index.
	stray := record.Record{Date: "20/08/2025", Title: "Sự kiện lạc", Raw: "stray"}
	err := eng.Store().InsertRows(ctx, []store.Row{{
		ID:     2,
		Hash:   stray.ContentHash(),
		Text:   stray.CanonicalText(),
		Record: stray,
	}})
	if err != nil {
		t.Fatalf("Failed to insert stray row: %v", err)
	}

	task := NewStoreVerifyTask(eng, false, log.New(os.Stdout, "[Test] ", log.LstdFlags))
	result := task.Execute(ctx)
	if result.Success {
		t.Fatal("Drift without auto-repair should be reported as failure")
	}

	repairing := NewStoreVerifyTask(eng, true, log.New(os.Stdout, "[Test] ", log.LstdFlags))
	result = repairing.Execute(ctx)
	if !result.Success {
		t.Fatalf("Auto-repair failed: %s (%v)", result.Message, result.Error)
	}
	if result.RecordsProcessed != 3 {
		t.Errorf("Expected 3 events after repair, got %d", result.RecordsProcessed)
	}

	rep, err := eng.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify after repair failed: %v", err)
	}
	if rep.State != engine.StateConsistent {
		t.Errorf("Expected consistent store after repair, got %s", rep.State)
	}
}

func TestScheduler(t *testing.T) {
	scheduler := NewScheduler("0 3 * * *", log.New(os.Stdout, "[Test] ", log.LstdFlags))

	task := &stubTask{name: "stub_task"}
	if err := scheduler.RegisterTask(task); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}
	if err := scheduler.RegisterTask(&stubTask{name: "stub_task"}); err == nil {
		t.Error("Duplicate registration should fail")
	}

	status := scheduler.GetStatus()
	if len(status) != 1 {
		t.Fatalf("Expected 1 task in status, got %d", len(status))
	}
	if _, exists := status["stub_task"]; !exists {
		t.Fatal("stub_task not found in status")
	}

	ctx := context.Background()
	if err := scheduler.RunTask(ctx, "stub_task"); err != nil {
		t.Fatalf("Failed to run task: %v", err)
	}
	if !task.executed {
		t.Error("Task was not executed")
	}

	status = scheduler.GetStatus()
	if status["stub_task"].LastRun.IsZero() {
		t.Error("LastRun should be recorded after execution")
	}
	if !status["stub_task"].LastResult.Success {
		t.Error("LastResult should record the task outcome")
	}

	if err := scheduler.RunTask(ctx, "no_such_task"); err == nil {
		t.Error("Running an unknown task should fail")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler("0 3 * * *", nil)
	if err := scheduler.RegisterTask(&stubTask{name: "stub_task"}); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if !scheduler.IsRunning() {
		t.Error("Scheduler should report running after Start")
	}
	if err := scheduler.Start(); err == nil {
		t.Error("Second Start should fail")
	}

	status := scheduler.GetStatus()
	if status["stub_task"].NextRun.IsZero() {
		t.Error("NextRun should be populated while running")
	}

	if err := scheduler.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if scheduler.IsRunning() {
		t.Error("Scheduler should report stopped after Stop")
	}
	if err := scheduler.Stop(); err != nil {
		t.Errorf("Stopping a stopped scheduler should be a no-op: %v", err)
	}
}

func TestScheduler_RejectsSixFieldSchedule(t *testing.T) {
	scheduler := NewScheduler("* * * * * *", nil)
	if err := scheduler.RegisterTask(&stubTask{name: "stub_task"}); err != nil {
		t.Fatalf("Failed to register task: %v", err)
	}
	if err := scheduler.Start(); err == nil {
		t.Error("Six-field cron expression should be rejected")
	}
}

// Helper functions

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(t.TempDir(), embed.NewFeatureHash(8))
	if err != nil {
		t.Fatalf("Failed to open engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func seedEvents(t *testing.T, eng *engine.Engine) {
	t.Helper()
	recs := []record.Record{
		{Date: "18/08/2025", Dow: "Thứ 2", Start: "08:00", Title: "Họp giao ban", Raw: "8h Họp giao ban"},
		{Date: "19/08/2025", Dow: "Thứ 3", Start: "09:00", Title: "Hội nghị khoa học", Raw: "9h Hội nghị khoa học"},
	}
	if _, err := eng.Append(context.Background(), recs, false); err != nil {
		t.Fatalf("Failed to seed events: %v", err)
	}
}

// stubTask is a minimal task implementation for scheduler tests.
type stubTask struct {
	name     string
	executed bool
}

func (t *stubTask) Name() string {
	return t.name
}

func (t *stubTask) Description() string {
	return "Stub task for scheduler tests"
}

func (t *stubTask) Execute(ctx context.Context) TaskResult {
	t.executed = true
	return TaskResult{
		Success: true,
		Message: "stub executed",
	}
}
