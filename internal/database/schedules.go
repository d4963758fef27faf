package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nodeflow/internal/models"
)

// UpsertSchedule inserts or replaces the schedule for a workflow. Statistics
// are preserved across replacements.
func (db *DB) UpsertSchedule(cfg *models.ScheduleConfig) error {
	var inputTemplate sql.NullString
	if cfg.InputTemplate != nil {
		data, err := json.Marshal(cfg.InputTemplate)
		if err != nil {
			return fmt.Errorf("failed to marshal input template: %w", err)
		}
		inputTemplate = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO schedules (workflow_id, name, cron_expression, enabled, input_template, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			name = excluded.name,
			cron_expression = excluded.cron_expression,
			enabled = excluded.enabled,
			input_template = excluded.input_template,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`, cfg.WorkflowID, cfg.Name, cfg.CronExpression, cfg.Enabled, inputTemplate, cfg.NextRunAt, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule for %s: %w", cfg.WorkflowID, err)
	}
	return nil
}

// GetSchedule loads a workflow's schedule. Returns sql.ErrNoRows when absent.
func (db *DB) GetSchedule(workflowID string) (*models.ScheduleConfig, error) {
	row := db.QueryRow(`
		SELECT workflow_id, name, cron_expression, enabled, input_template,
		       next_run_at, last_run_at, total_runs, successful_runs, failed_runs,
		       created_at, updated_at
		FROM schedules WHERE workflow_id = ?
	`, workflowID)
	return scanSchedule(row)
}

// ListSchedules returns all schedules; enabledOnly filters to active ones.
func (db *DB) ListSchedules(enabledOnly bool) ([]*models.ScheduleConfig, error) {
	query := `
		SELECT workflow_id, name, cron_expression, enabled, input_template,
		       next_run_at, last_run_at, total_runs, successful_runs, failed_runs,
		       created_at, updated_at
		FROM schedules
	`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY workflow_id`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.ScheduleConfig
	for rows.Next() {
		cfg, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, cfg)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a workflow's schedule. Returns sql.ErrNoRows when
// there was none.
func (db *DB) DeleteSchedule(workflowID string) error {
	result, err := db.Exec(`DELETE FROM schedules WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetScheduleEnabled toggles a schedule without replacing it.
func (db *DB) SetScheduleEnabled(workflowID string, enabled bool) error {
	result, err := db.Exec(`
		UPDATE schedules SET enabled = ?, updated_at = ? WHERE workflow_id = ?
	`, enabled, time.Now(), workflowID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordScheduleRun updates run statistics and timestamps after a timer fires.
func (db *DB) RecordScheduleRun(workflowID string, success bool, nextRunAt *time.Time) error {
	successInc := 0
	failInc := 1
	if success {
		successInc = 1
		failInc = 0
	}
	_, err := db.Exec(`
		UPDATE schedules SET
			total_runs = total_runs + 1,
			successful_runs = successful_runs + ?,
			failed_runs = failed_runs + ?,
			last_run_at = ?,
			next_run_at = ?,
			updated_at = ?
		WHERE workflow_id = ?
	`, successInc, failInc, time.Now(), nextRunAt, time.Now(), workflowID)
	return err
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(s scanner) (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	var inputTemplate sql.NullString
	var nextRunAt, lastRunAt sql.NullTime

	err := s.Scan(&cfg.WorkflowID, &cfg.Name, &cfg.CronExpression, &cfg.Enabled, &inputTemplate,
		&nextRunAt, &lastRunAt, &cfg.TotalRuns, &cfg.SuccessfulRuns, &cfg.FailedRuns,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if inputTemplate.Valid && inputTemplate.String != "" {
		if err := json.Unmarshal([]byte(inputTemplate.String), &cfg.InputTemplate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input template for %s: %w", cfg.WorkflowID, err)
		}
	}
	if nextRunAt.Valid {
		cfg.NextRunAt = &nextRunAt.Time
	}
	if lastRunAt.Valid {
		cfg.LastRunAt = &lastRunAt.Time
	}
	return &cfg, nil
}
