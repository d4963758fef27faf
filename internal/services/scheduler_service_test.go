package services

import (
	"path/filepath"
	"strings"
	"testing"

	"nodeflow/internal/database"
	"nodeflow/internal/models"
)

func newTestScheduler(t *testing.T) *SchedulerService {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	s, err := NewSchedulerService(db)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		db.Close()
	})
	return s
}

func TestValidateCronExpression(t *testing.T) {
	valid := []string{
		"0 9 * * *",
		"* * * * *",
		"*/5 * * * *",
		"0 0 1 * *",
		"30 8 * * 1-5",
		"0 9,17 * * *",
	}
	for _, expr := range valid {
		if !ValidateCronExpression(expr) {
			t.Errorf("expected '%s' to be valid", expr)
		}
	}

	invalid := []string{
		"",
		"invalid",
		"* * * *",       // four fields
		"* * * * * *",   // six fields
		"a b c d e",     // garbage fields
		"0 25 * * *",    // hour out of range
		"60 * * * *",    // minute out of range
		"@hourly",       // descriptors not part of the five-field contract
		"0 9 * * MONDAY",
	}
	for _, expr := range invalid {
		if ValidateCronExpression(expr) {
			t.Errorf("expected '%s' to be invalid", expr)
		}
	}
}

func TestHumanizeCronExpression(t *testing.T) {
	if got := HumanizeCronExpression("* * * * *"); got != "every minute" {
		t.Errorf("expected 'every minute', got '%s'", got)
	}
	if got := HumanizeCronExpression("0 9 * * 1"); got != "every Monday at 9:00" {
		t.Errorf("expected 'every Monday at 9:00', got '%s'", got)
	}
	if got := HumanizeCronExpression("0 * * * *"); got != "every hour" {
		t.Errorf("expected 'every hour', got '%s'", got)
	}

	// Non-preset expressions degrade to a generic description, never failing
	got := HumanizeCronExpression("17 3 */2 * 4")
	if !strings.HasPrefix(got, "custom schedule:") || !strings.Contains(got, "17 3 */2 * 4") {
		t.Errorf("expected generic fallback naming the expression, got '%s'", got)
	}
}

func TestPresetsAreValidAndRoundTrip(t *testing.T) {
	for label, expr := range CronPresets {
		if !ValidateCronExpression(expr) {
			t.Errorf("preset '%s' has invalid expression '%s'", label, expr)
		}
		if got := HumanizeCronExpression(expr); got != label {
			t.Errorf("humanize(%s) = '%s', want '%s'", expr, got, label)
		}
	}
}

func TestSetScheduleLifecycle(t *testing.T) {
	s := newTestScheduler(t)

	disabled := false
	ok := s.SetSchedule("wf1", &models.SetScheduleRequest{
		CronExpression: "0 9 * * *",
		Name:           "morning run",
		Enabled:        &disabled,
	})
	if !ok {
		t.Fatal("expected SetSchedule to succeed")
	}

	cfg := s.GetSchedule("wf1")
	if cfg == nil {
		t.Fatal("expected schedule to exist")
	}
	if cfg.Enabled {
		t.Error("expected schedule to start disabled")
	}
	if cfg.CronExpression != "0 9 * * *" {
		t.Errorf("unexpected expression: %s", cfg.CronExpression)
	}

	if !s.ToggleSchedule("wf1", true) {
		t.Fatal("toggle on failed")
	}
	if cfg = s.GetSchedule("wf1"); cfg == nil || !cfg.Enabled {
		t.Error("expected schedule enabled after toggle")
	}

	if !s.RemoveSchedule("wf1") {
		t.Fatal("remove failed")
	}
	if s.GetSchedule("wf1") != nil {
		t.Error("expected nil schedule after remove")
	}
	if s.RemoveSchedule("wf1") {
		t.Error("expected second remove to report false")
	}
}

func TestSetScheduleRejectsInvalidCron(t *testing.T) {
	s := newTestScheduler(t)

	if s.SetSchedule("wf1", &models.SetScheduleRequest{CronExpression: "not a cron"}) {
		t.Fatal("expected invalid cron to be rejected")
	}
	// No mutation happened
	if s.GetSchedule("wf1") != nil {
		t.Error("expected no schedule to be stored")
	}
	if len(s.GetAllSchedules()) != 0 {
		t.Error("expected empty schedule list")
	}
}

func TestSetScheduleReplacesTimer(t *testing.T) {
	s := newTestScheduler(t)

	if !s.SetSchedule("wf1", &models.SetScheduleRequest{CronExpression: "0 * * * *"}) {
		t.Fatal("first set failed")
	}
	if !s.SetSchedule("wf1", &models.SetScheduleRequest{CronExpression: "*/5 * * * *"}) {
		t.Fatal("replace failed")
	}

	// Exactly one timer for the workflow id
	s.mu.RLock()
	count := len(s.jobs)
	_, exists := s.jobs["wf1"]
	s.mu.RUnlock()
	if count != 1 || !exists {
		t.Errorf("expected exactly one timer for wf1, got %d", count)
	}

	cfg := s.GetSchedule("wf1")
	if cfg.CronExpression != "*/5 * * * *" {
		t.Errorf("expected replacement to win, got %s", cfg.CronExpression)
	}
}

func TestStopAllSchedulesKeepsRows(t *testing.T) {
	s := newTestScheduler(t)

	s.SetSchedule("wf1", &models.SetScheduleRequest{CronExpression: "0 * * * *"})
	s.SetSchedule("wf2", &models.SetScheduleRequest{CronExpression: "* * * * *"})

	s.StopAllSchedules()

	s.mu.RLock()
	count := len(s.jobs)
	s.mu.RUnlock()
	if count != 0 {
		t.Errorf("expected no active timers, got %d", count)
	}
	if len(s.GetAllSchedules()) != 2 {
		t.Errorf("expected stored configs to survive, got %d", len(s.GetAllSchedules()))
	}
}
