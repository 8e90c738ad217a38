package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"turfwatch/internal/scheduler"
)

// --- Mock maintenance service ---

type mockMaintenance struct {
	archiveCalled         bool
	recommendationsCalled bool
	jobHistoryCalled      bool
	revokedKeysCalled     bool
	returnItems           int
	returnErr             error
}

func (m *mockMaintenance) ArchiveReadings(_ context.Context, _ time.Time) (int, error) {
	m.archiveCalled = true
	return m.returnItems, m.returnErr
}

func (m *mockMaintenance) PurgeRecommendations(_ context.Context, _ time.Time) (int, error) {
	m.recommendationsCalled = true
	return m.returnItems, m.returnErr
}

func (m *mockMaintenance) PurgeJobHistory(_ context.Context, _ time.Time) (int, error) {
	m.jobHistoryCalled = true
	return m.returnItems, m.returnErr
}

func (m *mockMaintenance) PurgeRevokedKeys(_ context.Context, _ time.Time) (int, error) {
	m.revokedKeysCalled = true
	return m.returnItems, m.returnErr
}

// --- Mock job lock and history ---

type mockJobLocker struct {
	acquired   bool
	acquireErr error
	lastLockID string
	lastWorker string
}

func (m *mockJobLocker) Acquire(_ context.Context, lockID string, workerID string, _ time.Duration) (bool, error) {
	m.lastLockID = lockID
	m.lastWorker = workerID
	return m.acquired, m.acquireErr
}

type mockJobHistorian struct {
	startCalled  bool
	finishCalled bool
	lastJobType  string
	lastStatus   string
	lastItems    int
	returnID     int64
	startErr     error
	finishErr    error
}

func (m *mockJobHistorian) Start(_ context.Context, jobType string) (int64, error) {
	m.startCalled = true
	m.lastJobType = jobType
	return m.returnID, m.startErr
}

func (m *mockJobHistorian) Finish(_ context.Context, _ int64, status string, items int, _ error) error {
	m.finishCalled = true
	m.lastStatus = status
	m.lastItems = items
	return m.finishErr
}

type testDeps struct {
	maintenance *mockMaintenance
	jobLocker   *mockJobLocker
	historian   *mockJobHistorian
}

func newTestHandler() (*Handler, *testDeps) {
	deps := &testDeps{
		maintenance: &mockMaintenance{returnItems: 9},
		jobLocker:   &mockJobLocker{acquired: true},
		historian:   &mockJobHistorian{returnID: 42},
	}
	h := &Handler{
		Maintenance: deps.maintenance,
		JobLock:     deps.jobLocker,
		JobHistory:  deps.historian,
		WorkerID:    "test-worker-001",
		Logger:      nil, // falls back to slog.Default()
	}
	return h, deps
}

// --- Routing ---

func TestHandle_RoutesArchiveReadings(t *testing.T) {
	h, deps := newTestHandler()

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskArchiveReadings,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.maintenance.archiveCalled {
		t.Error("expected ArchiveReadings to be called")
	}
	if !strings.Contains(result, "archive_readings") || !strings.Contains(result, "9 items") {
		t.Errorf("result should name the task and item count, got: %s", result)
	}
}

func TestHandle_RoutesPurgeRecommendations(t *testing.T) {
	h, deps := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskPurgeRecommendations,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.maintenance.recommendationsCalled {
		t.Error("expected PurgeRecommendations to be called")
	}
}

func TestHandle_RoutesPurgeJobHistory(t *testing.T) {
	h, deps := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskPurgeJobHistory,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.maintenance.jobHistoryCalled {
		t.Error("expected PurgeJobHistory to be called")
	}
}

func TestHandle_RoutesPurgeRevokedKeys(t *testing.T) {
	h, deps := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskPurgeRevokedKeys,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.maintenance.revokedKeysCalled {
		t.Error("expected PurgeRevokedKeys to be called")
	}
}

// --- Lock behavior ---

func TestHandle_SkipsWhenLockNotAcquired(t *testing.T) {
	h, deps := newTestHandler()
	deps.jobLocker.acquired = false

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskArchiveReadings,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "skipped") {
		t.Errorf("expected skip message, got: %s", result)
	}
	if deps.maintenance.archiveCalled {
		t.Error("task should not run when the lock is held elsewhere")
	}
	if deps.historian.startCalled {
		t.Error("job history should not start when the lock is held elsewhere")
	}
}

func TestHandle_ReturnsErrorWhenLockFails(t *testing.T) {
	h, deps := newTestHandler()
	deps.jobLocker.acquireErr = errors.New("database connection lost")

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskArchiveReadings,
	})

	if err == nil {
		t.Fatal("expected error when lock acquisition fails")
	}
	if !strings.Contains(err.Error(), "acquiring job lock") {
		t.Errorf("error should mention lock acquisition, got: %v", err)
	}
}

func TestHandle_LockIDFormat(t *testing.T) {
	h, deps := newTestHandler()

	refTime := time.Date(2026, 8, 25, 3, 15, 30, 0, time.UTC)
	_, _ = h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task:          scheduler.TaskArchiveReadings,
		ReferenceTime: &refTime,
	})

	// One lock per task per hour.
	want := "archive_readings:2026-08-25T03"
	if deps.jobLocker.lastLockID != want {
		t.Errorf("lock ID = %q, want %q", deps.jobLocker.lastLockID, want)
	}
	if deps.jobLocker.lastWorker != "test-worker-001" {
		t.Errorf("worker ID = %q, want %q", deps.jobLocker.lastWorker, "test-worker-001")
	}
}

// --- Error handling ---

func TestHandle_EmptyTaskTypeReturnsError(t *testing.T) {
	h, _ := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: ""})

	if err == nil {
		t.Fatal("expected error for empty task type")
	}
	if !strings.Contains(err.Error(), "empty task type") {
		t.Errorf("error should mention empty task type, got: %v", err)
	}
}

func TestHandle_UnknownTaskTypeReturnsError(t *testing.T) {
	h, deps := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{Task: "defrag_disk"})

	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
	if !strings.Contains(err.Error(), "unknown task type") {
		t.Errorf("error should mention unknown task, got: %v", err)
	}
	if deps.historian.lastStatus != "failed" {
		t.Errorf("job history status = %q, want %q", deps.historian.lastStatus, "failed")
	}
}

func TestHandle_TaskErrorRecordedInHistory(t *testing.T) {
	h, deps := newTestHandler()
	deps.maintenance.returnErr = errors.New("database timeout")

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskPurgeRecommendations,
	})

	if err == nil {
		t.Fatal("expected error from task failure")
	}
	if !deps.historian.finishCalled {
		t.Error("expected job history Finish to be called even on error")
	}
	if deps.historian.lastStatus != "failed" {
		t.Errorf("job history status = %q, want %q", deps.historian.lastStatus, "failed")
	}
}

func TestHandle_SuccessRecordedInHistory(t *testing.T) {
	h, deps := newTestHandler()

	_, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskArchiveReadings,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.historian.lastJobType != "archive_readings" {
		t.Errorf("job type = %q, want %q", deps.historian.lastJobType, "archive_readings")
	}
	if deps.historian.lastStatus != "success" {
		t.Errorf("job history status = %q, want %q", deps.historian.lastStatus, "success")
	}
	if deps.historian.lastItems != 9 {
		t.Errorf("job history items = %d, want 9", deps.historian.lastItems)
	}
}

func TestHandle_HistoryStartFailureIsNonFatal(t *testing.T) {
	h, deps := newTestHandler()
	deps.historian.startErr = errors.New("insert failed")

	result, err := h.Handle(context.Background(), scheduler.MaintenancePayload{
		Task: scheduler.TaskArchiveReadings,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deps.maintenance.archiveCalled {
		t.Error("task should still run when history tracking fails")
	}
	if deps.historian.finishCalled {
		t.Error("Finish should be skipped when Start failed")
	}
	if !strings.Contains(result, "complete") {
		t.Errorf("expected completion message, got: %s", result)
	}
}
