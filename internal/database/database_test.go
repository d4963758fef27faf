package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nodeflow/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWorkflowRoundTrip(t *testing.T) {
	db := newTestDB(t)

	wf := &models.Workflow{
		ID:   "wf-1",
		Name: "Test Workflow",
		Nodes: []models.Node{
			{ID: "a", Type: "variable", Name: "Start"},
		},
		Edges: []models.Edge{},
	}
	if err := db.SaveWorkflow(wf); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := db.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Name != "Test Workflow" || len(loaded.Nodes) != 1 {
		t.Errorf("round trip mismatch: %+v", loaded)
	}

	// Save again overwrites
	wf.Name = "Renamed"
	if err := db.SaveWorkflow(wf); err != nil {
		t.Fatalf("resave failed: %v", err)
	}
	loaded, _ = db.GetWorkflow("wf-1")
	if loaded.Name != "Renamed" {
		t.Errorf("expected rename to persist, got %s", loaded.Name)
	}

	all, err := db.ListWorkflows()
	if err != nil || len(all) != 1 {
		t.Errorf("expected 1 workflow, got %d (err=%v)", len(all), err)
	}

	if err := db.DeleteWorkflow("wf-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := db.GetWorkflow("wf-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows after delete, got %v", err)
	}
	if err := db.DeleteWorkflow("wf-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows on double delete, got %v", err)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	db := newTestDB(t)

	next := time.Now().Add(time.Hour).UTC()
	cfg := &models.ScheduleConfig{
		WorkflowID:     "wf-1",
		Name:           "hourly sync",
		CronExpression: "0 * * * *",
		Enabled:        true,
		InputTemplate:  map[string]any{"source": "cron"},
		NextRunAt:      &next,
	}
	if err := db.UpsertSchedule(cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	loaded, err := db.GetSchedule("wf-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.CronExpression != "0 * * * *" || !loaded.Enabled {
		t.Errorf("unexpected schedule: %+v", loaded)
	}
	if loaded.InputTemplate["source"] != "cron" {
		t.Errorf("input template lost: %+v", loaded.InputTemplate)
	}
	if loaded.NextRunAt == nil {
		t.Error("next run time lost")
	}

	// Replacing keeps statistics
	if err := db.RecordScheduleRun("wf-1", true, &next); err != nil {
		t.Fatalf("record run failed: %v", err)
	}
	cfg.CronExpression = "*/5 * * * *"
	if err := db.UpsertSchedule(cfg); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	loaded, _ = db.GetSchedule("wf-1")
	if loaded.TotalRuns != 1 || loaded.SuccessfulRuns != 1 {
		t.Errorf("stats not preserved across replace: %+v", loaded)
	}
	if loaded.CronExpression != "*/5 * * * *" {
		t.Errorf("expression not replaced: %s", loaded.CronExpression)
	}

	// Toggle off, then filter
	if err := db.SetScheduleEnabled("wf-1", false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	enabled, err := db.ListSchedules(true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled schedules, got %d", len(enabled))
	}
	all, _ := db.ListSchedules(false)
	if len(all) != 1 {
		t.Errorf("expected 1 schedule total, got %d", len(all))
	}

	if err := db.DeleteSchedule("wf-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := db.DeleteSchedule("wf-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestScheduleRunStats(t *testing.T) {
	db := newTestDB(t)

	cfg := &models.ScheduleConfig{
		WorkflowID:     "wf-2",
		CronExpression: "* * * * *",
		Enabled:        true,
	}
	if err := db.UpsertSchedule(cfg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	db.RecordScheduleRun("wf-2", true, nil)
	db.RecordScheduleRun("wf-2", false, nil)
	db.RecordScheduleRun("wf-2", true, nil)

	loaded, err := db.GetSchedule("wf-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.TotalRuns != 3 || loaded.SuccessfulRuns != 2 || loaded.FailedRuns != 1 {
		t.Errorf("expected 3/2/1, got %d/%d/%d", loaded.TotalRuns, loaded.SuccessfulRuns, loaded.FailedRuns)
	}
	if loaded.LastRunAt == nil {
		t.Error("last run timestamp missing")
	}
}
