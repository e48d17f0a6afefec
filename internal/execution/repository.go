package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for execution persistence.
// Status mutations are expressed as explicit transitions rather than a
// generic update so the monotone lifecycle is enforced at the store.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Execution, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Execution, error)
	ListByLoop(ctx context.Context, loopID string, limit int) ([]Execution, error)
	Create(ctx context.Context, e *Execution) error

	SetDevice(ctx context.Context, id, deviceID string) error
	MarkRunning(ctx context.Context, id string, at time.Time) error
	UpdateProgress(ctx context.Context, id string, currentActionIndex int) error
	MarkCompleted(ctx context.Context, id string, at time.Time, actionsCompleted int) error
	MarkFailed(ctx context.Context, id string, at time.Time, errIndex int, details *ErrorDetails) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error

	// CreateRetry clones a failed, retry-eligible execution into a fresh
	// pending one and returns it. The source record is left untouched.
	CreateRetry(ctx context.Context, id string) (*Execution, error)
}

// executionColumns is the SELECT column list for execution queries.
const executionColumns = `id, preset_id, account_id, device_id, loop_id, status,
	current_action_index, total_actions, error_action_index, error_details,
	retry_count, max_retries, started_at, finished_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an execution by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying execution by id: %w", err)
	}
	return e, nil
}

// ListByStatus retrieves executions in a given status, oldest first.
// A non-positive limit returns all matching rows.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE status = ? ORDER BY created_at`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListByLoop retrieves executions created by a loop, newest first.
func (r *SQLiteRepository) ListByLoop(ctx context.Context, loopID string, limit int) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE loop_id = ? ORDER BY created_at DESC`
	args := []any{loopID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		e, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// Create inserts a new execution. Status defaults to pending when unset.
func (r *SQLiteRepository) Create(ctx context.Context, e *Execution) error {
	if e.Status == "" {
		e.Status = StatusPending
	}

	detailsJSON, err := marshalErrorDetails(e.ErrorDetails)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO executions (id, preset_id, account_id, device_id, loop_id, status,
			current_action_index, total_actions, error_action_index, error_details,
			retry_count, max_retries, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.PresetID,
		nullableString(e.AccountID),
		nullableString(e.DeviceID),
		nullableString(e.LoopID),
		string(e.Status),
		e.CurrentActionIndex,
		e.TotalActions,
		nullableInt(e.ErrorActionIndex),
		detailsJSON,
		e.RetryCount,
		e.MaxRetries,
		nullableTime(e.StartedAt),
		nullableTime(e.FinishedAt),
		e.CreatedAt.Format(time.RFC3339),
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// SetDevice records the leased device on a non-terminal execution.
func (r *SQLiteRepository) SetDevice(ctx context.Context, id, deviceID string) error {
	query := `
		UPDATE executions SET device_id = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`

	return r.transition(ctx, id, query, deviceID, time.Now().UTC().Format(time.RFC3339), id)
}

// MarkRunning moves a pending execution to running.
func (r *SQLiteRepository) MarkRunning(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE executions SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	ts := at.UTC().Format(time.RFC3339)
	return r.transition(ctx, id, query, ts, ts, id)
}

// UpdateProgress records the interpreter's position in the action list.
func (r *SQLiteRepository) UpdateProgress(ctx context.Context, id string, currentActionIndex int) error {
	query := `
		UPDATE executions SET current_action_index = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`

	return r.transition(ctx, id, query,
		currentActionIndex, time.Now().UTC().Format(time.RFC3339), id)
}

// MarkCompleted moves a running execution to completed with its final
// progress counter.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, at time.Time, actionsCompleted int) error {
	query := `
		UPDATE executions SET status = 'completed', current_action_index = ?,
			finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`

	ts := at.UTC().Format(time.RFC3339)
	return r.transition(ctx, id, query, actionsCompleted, ts, ts, id)
}

// MarkFailed moves a pending or running execution to failed, recording
// the failure locus.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, at time.Time, errIndex int, details *ErrorDetails) error {
	detailsJSON, err := marshalErrorDetails(details)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions SET status = 'failed', error_action_index = ?,
			error_details = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`

	ts := at.UTC().Format(time.RFC3339)
	return r.transition(ctx, id, query, errIndex, detailsJSON, ts, ts, id)
}

// MarkCancelled moves a pending or running execution to cancelled.
func (r *SQLiteRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE executions SET status = 'cancelled', finished_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`

	ts := at.UTC().Format(time.RFC3339)
	return r.transition(ctx, id, query, ts, ts, id)
}

// transition executes a guarded UPDATE and maps a zero-row result to
// either ErrNotFound or ErrInvalidTransition.
func (r *SQLiteRepository) transition(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		checkErr := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("checking execution existence: %w", checkErr)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// CreateRetry clones a failed, retry-eligible execution into a fresh
// pending one. The clone carries the same preset, account and loop but
// no device; its retry counter is one higher than the source's.
func (r *SQLiteRepository) CreateRetry(ctx context.Context, id string) (*Execution, error) {
	source, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !source.CanRetry() {
		return nil, ErrNotRetryable
	}

	retry := &Execution{
		ID:           GenerateID(),
		PresetID:     source.PresetID,
		AccountID:    source.AccountID,
		LoopID:       source.LoopID,
		Status:       StatusPending,
		TotalActions: source.TotalActions,
		RetryCount:   source.RetryCount + 1,
		MaxRetries:   source.MaxRetries,
	}
	if err := r.Create(ctx, retry); err != nil {
		return nil, err
	}
	return retry, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutionRow(scanner rowScanner) (*Execution, error) {
	var e Execution
	var status string
	var accountID, deviceID, loopID, detailsJSON sql.NullString
	var errIndex sql.NullInt64
	var startedAt, finishedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&e.ID,
		&e.PresetID,
		&accountID,
		&deviceID,
		&loopID,
		&status,
		&e.CurrentActionIndex,
		&e.TotalActions,
		&errIndex,
		&detailsJSON,
		&e.RetryCount,
		&e.MaxRetries,
		&startedAt,
		&finishedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	if accountID.Valid {
		e.AccountID = &accountID.String
	}
	if deviceID.Valid {
		e.DeviceID = &deviceID.String
	}
	if loopID.Valid {
		e.LoopID = &loopID.String
	}
	if errIndex.Valid {
		idx := int(errIndex.Int64)
		e.ErrorActionIndex = &idx
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		var details ErrorDetails
		if jsonErr := json.Unmarshal([]byte(detailsJSON.String), &details); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling error details: %w", jsonErr)
		}
		e.ErrorDetails = &details
	}

	if startedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, startedAt.String); parseErr == nil {
			e.StartedAt = &t
		}
	}
	if finishedAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, finishedAt.String); parseErr == nil {
			e.FinishedAt = &t
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		e.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		e.UpdatedAt = t
	}

	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalErrorDetails(d *ErrorDetails) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling error details: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
