package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nodeflow/internal/models"
)

// SaveWorkflow inserts or replaces a workflow definition.
func (db *DB) SaveWorkflow(wf *models.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	now := time.Now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	_, err = db.Exec(`
		INSERT INTO workflows (id, name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, wf.ID, wf.Name, string(definition), wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// GetWorkflow loads a workflow by id. Returns sql.ErrNoRows when absent.
func (db *DB) GetWorkflow(id string) (*models.Workflow, error) {
	var definition string
	err := db.QueryRow(`SELECT definition FROM workflows WHERE id = ?`, id).Scan(&definition)
	if err != nil {
		return nil, err
	}

	var wf models.Workflow
	if err := json.Unmarshal([]byte(definition), &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows returns all stored workflows.
func (db *DB) ListWorkflows() ([]*models.Workflow, error) {
	rows, err := db.Query(`SELECT definition FROM workflows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal([]byte(definition), &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		workflows = append(workflows, &wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow and its schedule.
func (db *DB) DeleteWorkflow(id string) error {
	if _, err := db.Exec(`DELETE FROM schedules WHERE workflow_id = ?`, id); err != nil {
		return err
	}
	result, err := db.Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
