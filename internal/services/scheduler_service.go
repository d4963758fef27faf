package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"nodeflow/internal/database"
	"nodeflow/internal/models"
)

// cronFieldRe matches one field of a five-field cron expression: *, a number,
// or comma/range/step combinations thereof.
var cronFieldRe = regexp.MustCompile(`^(\*|\d+)(-\d+)?(/\d+)?(,(\*|\d+)(-\d+)?(/\d+)?)*$`)

// cronParser accepts the standard five-field syntax (minute hour dom month dow)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronPresets maps human labels to canonical cron strings for the UI picker.
var CronPresets = map[string]string{
	"every minute":             "* * * * *",
	"every 5 minutes":          "*/5 * * * *",
	"every 15 minutes":         "*/15 * * * *",
	"every 30 minutes":         "*/30 * * * *",
	"every hour":               "0 * * * *",
	"daily at midnight":        "0 0 * * *",
	"daily at 9:00":            "0 9 * * *",
	"every Monday at 9:00":     "0 9 * * 1",
	"first of month at 00:00":  "0 0 1 * *",
	"every Sunday at midnight": "0 0 * * 0",
}

// presetLabels is the inverse of CronPresets for humanization.
var presetLabels = func() map[string]string {
	m := make(map[string]string, len(CronPresets))
	for label, expr := range CronPresets {
		m[expr] = label
	}
	return m
}()

// ValidateCronExpression reports whether expr is a well-formed five-field
// cron expression. Both a structural check and the cron library parser must
// accept it.
func ValidateCronExpression(expr string) bool {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return false
	}
	for _, field := range fields {
		if !cronFieldRe.MatchString(field) {
			return false
		}
	}
	_, err := cronParser.Parse(expr)
	return err == nil
}

// HumanizeCronExpression returns the preset label for a canonical expression,
// or a generic description for anything else. Never fails.
func HumanizeCronExpression(expr string) string {
	if label, ok := presetLabels[strings.TrimSpace(expr)]; ok {
		return label
	}
	return fmt.Sprintf("custom schedule: %s", expr)
}

// SchedulerService manages cron-driven workflow executions. Each enabled
// schedule owns exactly one recurring gocron job keyed by workflow id;
// replacing, toggling, or removing a schedule always cancels the prior timer
// first so duplicate timers cannot coexist.
type SchedulerService struct {
	scheduler        gocron.Scheduler
	db               *database.DB
	workflowExecutor models.WorkflowExecuteFunc
	mu               sync.RWMutex
	jobs             map[string]gocron.Job // workflow id -> job
}

// NewSchedulerService creates a scheduler service. The workflow executor is
// wired later via SetWorkflowExecutor to break the service construction cycle.
func NewSchedulerService(db *database.DB) (*SchedulerService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &SchedulerService{
		scheduler: scheduler,
		db:        db,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// SetWorkflowExecutor sets the workflow executor function (deferred wiring).
func (s *SchedulerService) SetWorkflowExecutor(executor models.WorkflowExecuteFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowExecutor = executor
}

// Start starts the scheduler and restores all enabled schedules from the
// database.
func (s *SchedulerService) Start(ctx context.Context) error {
	log.Println("⏰ Starting scheduler service...")

	if err := s.loadSchedules(); err != nil {
		log.Printf("⚠️ Failed to load schedules: %v", err)
	}

	s.scheduler.Start()
	log.Println("✅ Scheduler service started")
	return nil
}

// Stop shuts the scheduler down, cancelling all timers.
func (s *SchedulerService) Stop() error {
	log.Println("⏹️ Stopping scheduler service...")
	return s.scheduler.Shutdown()
}

func (s *SchedulerService) loadSchedules() error {
	if s.db == nil {
		return nil
	}
	schedules, err := s.db.ListSchedules(true)
	if err != nil {
		return fmt.Errorf("failed to query schedules: %w", err)
	}

	var count int
	for _, cfg := range schedules {
		if err := s.registerJob(cfg); err != nil {
			log.Printf("⚠️ Failed to register schedule for workflow %s: %v", cfg.WorkflowID, err)
			continue
		}
		count++
	}
	log.Printf("✅ Loaded %d schedule(s)", count)
	return nil
}

// SetSchedule creates or replaces the schedule for a workflow. Returns false
// without mutating anything when the cron expression is invalid.
func (s *SchedulerService) SetSchedule(workflowID string, req *models.SetScheduleRequest) bool {
	if !ValidateCronExpression(req.CronExpression) {
		log.Printf("⚠️ [SCHEDULER] Rejected invalid cron expression '%s' for workflow %s", req.CronExpression, workflowID)
		return false
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg := &models.ScheduleConfig{
		WorkflowID:     workflowID,
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Enabled:        enabled,
		InputTemplate:  req.InputTemplate,
	}
	if next := s.nextRun(req.CronExpression); !next.IsZero() {
		cfg.NextRunAt = &next
	}

	// Preserve statistics from any prior schedule
	if s.db != nil {
		if existing, err := s.db.GetSchedule(workflowID); err == nil {
			cfg.CreatedAt = existing.CreatedAt
		}
		if err := s.db.UpsertSchedule(cfg); err != nil {
			log.Printf("❌ [SCHEDULER] Failed to persist schedule for %s: %v", workflowID, err)
			return false
		}
	}

	// Swap the timer: old one first, no overlap
	s.unregisterJob(workflowID)
	if enabled {
		if err := s.registerJob(cfg); err != nil {
			log.Printf("❌ [SCHEDULER] Failed to register timer for %s: %v", workflowID, err)
			return false
		}
	}

	log.Printf("📅 [SCHEDULER] Schedule set for workflow %s: %s (%s), enabled=%v",
		workflowID, cfg.CronExpression, HumanizeCronExpression(cfg.CronExpression), enabled)
	return true
}

// GetSchedule returns a workflow's schedule, or nil when it has none.
func (s *SchedulerService) GetSchedule(workflowID string) *models.ScheduleConfig {
	if s.db == nil {
		return nil
	}
	cfg, err := s.db.GetSchedule(workflowID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("⚠️ [SCHEDULER] Failed to load schedule for %s: %v", workflowID, err)
		}
		return nil
	}
	return cfg
}

// ToggleSchedule enables or disables a stored schedule. Returns false when
// the workflow has no schedule.
func (s *SchedulerService) ToggleSchedule(workflowID string, enabled bool) bool {
	cfg := s.GetSchedule(workflowID)
	if cfg == nil {
		return false
	}

	if err := s.db.SetScheduleEnabled(workflowID, enabled); err != nil {
		log.Printf("❌ [SCHEDULER] Failed to toggle schedule for %s: %v", workflowID, err)
		return false
	}

	s.unregisterJob(workflowID)
	if enabled {
		cfg.Enabled = true
		if err := s.registerJob(cfg); err != nil {
			log.Printf("❌ [SCHEDULER] Failed to register timer for %s: %v", workflowID, err)
			return false
		}
	}

	log.Printf("🔄 [SCHEDULER] Schedule for workflow %s: enabled=%v", workflowID, enabled)
	return true
}

// RemoveSchedule cancels the timer and deletes the stored schedule. Returns
// false when there was none.
func (s *SchedulerService) RemoveSchedule(workflowID string) bool {
	s.unregisterJob(workflowID)

	if s.db == nil {
		return false
	}
	if err := s.db.DeleteSchedule(workflowID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("❌ [SCHEDULER] Failed to delete schedule for %s: %v", workflowID, err)
		}
		return false
	}
	log.Printf("🗑️ [SCHEDULER] Removed schedule for workflow %s", workflowID)
	return true
}

// GetAllSchedules returns every stored schedule.
func (s *SchedulerService) GetAllSchedules() []*models.ScheduleConfig {
	if s.db == nil {
		return nil
	}
	schedules, err := s.db.ListSchedules(false)
	if err != nil {
		log.Printf("⚠️ [SCHEDULER] Failed to list schedules: %v", err)
		return nil
	}
	return schedules
}

// StopAllSchedules cancels every active timer without deleting stored
// configs. Used for shutdown and maintenance windows.
func (s *SchedulerService) StopAllSchedules() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for workflowID, job := range s.jobs {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			log.Printf("⚠️ [SCHEDULER] Failed to remove job for %s: %v", workflowID, err)
		}
		delete(s.jobs, workflowID)
	}
	log.Println("⏹️ [SCHEDULER] All timers cancelled")
}

// registerJob installs the gocron timer for an enabled schedule.
func (s *SchedulerService) registerJob(cfg *models.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.WorkflowID]; exists {
		return fmt.Errorf("timer already registered for workflow %s", cfg.WorkflowID)
	}

	workflowID := cfg.WorkflowID
	cronExpr := cfg.CronExpression
	inputTemplate := cfg.InputTemplate

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			s.executeScheduled(workflowID, cronExpr, inputTemplate)
		}),
		gocron.WithName(workflowID),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.jobs[workflowID] = job
	log.Printf("📅 Registered timer for workflow %s (cron: %s)", workflowID, cronExpr)
	return nil
}

// unregisterJob cancels a workflow's timer if one is active.
func (s *SchedulerService) unregisterJob(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[workflowID]
	if !exists {
		return
	}
	if err := s.scheduler.RemoveJob(job.ID()); err != nil {
		log.Printf("⚠️ [SCHEDULER] Failed to remove job for %s: %v", workflowID, err)
	}
	delete(s.jobs, workflowID)
}

// executeScheduled fires one scheduled run and records its outcome.
func (s *SchedulerService) executeScheduled(workflowID, cronExpr string, inputTemplate map[string]any) {
	log.Printf("▶️ Executing scheduled run for workflow %s", workflowID)

	s.mu.RLock()
	executor := s.workflowExecutor
	s.mu.RUnlock()

	if executor == nil {
		log.Printf("❌ Workflow executor not set; skipping scheduled run for %s", workflowID)
		s.recordRun(workflowID, cronExpr, false)
		return
	}

	input := make(map[string]any, len(inputTemplate)+1)
	for k, v := range inputTemplate {
		input[k] = v
	}
	input["__trigger"] = "scheduled"

	result, err := executor(workflowID, input)
	success := err == nil && result != nil && result.Status == "completed"

	if success {
		log.Printf("✅ Scheduled run completed for workflow %s", workflowID)
	} else {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else if result != nil {
			errMsg = result.Error
		}
		log.Printf("❌ Scheduled run failed for workflow %s: %s", workflowID, errMsg)
	}

	s.recordRun(workflowID, cronExpr, success)
}

func (s *SchedulerService) recordRun(workflowID, cronExpr string, success bool) {
	if s.db == nil {
		return
	}
	var nextPtr *time.Time
	if next := s.nextRun(cronExpr); !next.IsZero() {
		nextPtr = &next
	}
	if err := s.db.RecordScheduleRun(workflowID, success, nextPtr); err != nil {
		log.Printf("⚠️ Failed to update schedule stats for %s: %v", workflowID, err)
	}
}

// nextRun computes the next fire time for a cron expression, zero on error.
func (s *SchedulerService) nextRun(expr string) time.Time {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now().UTC())
}

// ScheduleResponse builds the API view of a schedule with its humanized
// description.
func ScheduleResponse(cfg *models.ScheduleConfig) *models.ScheduleResponse {
	return &models.ScheduleResponse{
		WorkflowID:     cfg.WorkflowID,
		Name:           cfg.Name,
		CronExpression: cfg.CronExpression,
		Description:    HumanizeCronExpression(cfg.CronExpression),
		Enabled:        cfg.Enabled,
		InputTemplate:  cfg.InputTemplate,
		NextRunAt:      cfg.NextRunAt,
		LastRunAt:      cfg.LastRunAt,
		TotalRuns:      cfg.TotalRuns,
		SuccessfulRuns: cfg.SuccessfulRuns,
		FailedRuns:     cfg.FailedRuns,
		CreatedAt:      cfg.CreatedAt,
		UpdatedAt:      cfg.UpdatedAt,
	}
}
