package models

import "time"

// ScheduleConfig represents a cron-based schedule for workflow execution.
// One config exists per workflow id; setting again overwrites.
type ScheduleConfig struct {
	WorkflowID     string         `json:"workflowId"`
	Name           string         `json:"name"`
	CronExpression string         `json:"cronExpression"` // five-field cron syntax
	Enabled        bool           `json:"enabled"`
	InputTemplate  map[string]any `json:"inputTemplate,omitempty"`

	// Tracking
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	// Statistics
	TotalRuns      int64 `json:"totalRuns"`
	SuccessfulRuns int64 `json:"successfulRuns"`
	FailedRuns     int64 `json:"failedRuns"`

	// Timestamps
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetScheduleRequest represents a request to create or replace a schedule
type SetScheduleRequest struct {
	CronExpression string         `json:"cronExpression"`
	Name           string         `json:"name,omitempty"`
	InputTemplate  map[string]any `json:"inputTemplate,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"` // defaults to true
}

// ToggleScheduleRequest enables or disables a schedule without replacing it
type ToggleScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse represents the API response for a schedule
type ScheduleResponse struct {
	WorkflowID     string         `json:"workflowId"`
	Name           string         `json:"name"`
	CronExpression string         `json:"cronExpression"`
	Description    string         `json:"description"` // humanized cron expression
	Enabled        bool           `json:"enabled"`
	InputTemplate  map[string]any `json:"inputTemplate,omitempty"`
	NextRunAt      *time.Time     `json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	TotalRuns      int64          `json:"totalRuns"`
	SuccessfulRuns int64          `json:"successfulRuns"`
	FailedRuns     int64          `json:"failedRuns"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}
