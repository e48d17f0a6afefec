package execution

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an execution.
// Transitions are monotone: pending -> running -> {completed, failed,
// cancelled}. Terminal records are never mutated again; a retry is a
// brand-new execution cloned from the failed one.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrorDetails pinpoints the action that caused a failure. Path is the
// bracketed index route through the action tree, e.g. "[2][0]" for the
// first child of the third top-level action.
type ErrorDetails struct {
	ActionType   string         `json:"type"`
	ActionParams map[string]any `json:"params,omitempty"`
	ActionIndex  int            `json:"index"`
	ActionPath   string         `json:"path"`
	Message      string         `json:"message,omitempty"`
}

// Execution represents one run of one preset against one device and
// account. It is created by the scheduler (or a manual trigger), mutated
// exclusively by the worker, and immutable once terminal.
type Execution struct {
	ID        string  `json:"id"`
	PresetID  string  `json:"preset_id"`
	AccountID *string `json:"account_id,omitempty"`
	DeviceID  *string `json:"device_id,omitempty"`
	LoopID    *string `json:"loop_id,omitempty"`

	Status             Status        `json:"status"`
	CurrentActionIndex int           `json:"current_action_index"`
	TotalActions       int           `json:"total_actions"`
	ErrorActionIndex   *int          `json:"error_action_index,omitempty"`
	ErrorDetails       *ErrorDetails `json:"error_details,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CanRetry reports whether a fresh retry execution may be created from
// this one. Only failed executions with retries remaining qualify;
// completed and cancelled runs never do.
func (e *Execution) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// DeepCopy creates a completely independent copy of the execution.
func (e *Execution) DeepCopy() *Execution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.AccountID = cloneStringPtr(e.AccountID)
	clone.DeviceID = cloneStringPtr(e.DeviceID)
	clone.LoopID = cloneStringPtr(e.LoopID)
	clone.ErrorActionIndex = cloneIntPtr(e.ErrorActionIndex)
	clone.StartedAt = cloneTimePtr(e.StartedAt)
	clone.FinishedAt = cloneTimePtr(e.FinishedAt)

	if e.ErrorDetails != nil {
		details := *e.ErrorDetails
		if e.ErrorDetails.ActionParams != nil {
			details.ActionParams = make(map[string]any, len(e.ErrorDetails.ActionParams))
			for k, v := range e.ErrorDetails.ActionParams {
				details.ActionParams[k] = v
			}
		}
		clone.ErrorDetails = &details
	}

	return &clone
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// GenerateID creates a new UUID for an execution.
func GenerateID() string {
	return uuid.New().String()
}
