package models

import "time"

// TaskState represents the execution state of one task within a request.
type TaskState string

const (
	// TaskStatePending indicates the task is waiting on its dependencies.
	TaskStatePending TaskState = "pending"
	// TaskStateReady indicates every dependency is satisfied and the task awaits a slot.
	TaskStateReady TaskState = "ready"
	// TaskStateRunning indicates an attempt is in flight.
	TaskStateRunning TaskState = "running"
	// TaskStateSucceeded indicates the task's output passed the guard and was stored.
	TaskStateSucceeded TaskState = "succeeded"
	// TaskStateFailed indicates the task failed terminally.
	TaskStateFailed TaskState = "failed"
	// TaskStateSkipped indicates the task never ran because a required upstream failed.
	TaskStateSkipped TaskState = "skipped"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateReady, TaskStateRunning, TaskStateSucceeded, TaskStateFailed, TaskStateSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition is possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSucceeded || s == TaskStateFailed || s == TaskStateSkipped
}

// TaskRun is the mutable execution record for one task within one request.
type TaskRun struct {
	// RequestID is the request this run belongs to.
	RequestID string `json:"request_id" db:"request_id"`
	// Task is the task name, unique within the request.
	Task string `json:"task" db:"task"`
	// State is the current execution state.
	State TaskState `json:"state" db:"state"`
	// Attempts counts started attempts, including the current one.
	Attempts int `json:"attempts" db:"attempts"`
	// StartedAt is when the first attempt started.
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	// EndedAt is when the run reached a terminal state.
	EndedAt *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	// ResultRef is the state store key of the committed result.
	ResultRef string `json:"result_ref,omitempty" db:"result_ref"`
	// Error holds the last error message.
	Error string `json:"error,omitempty" db:"error"`
}

// Duration returns how long the run took, or zero if it has not finished.
func (r TaskRun) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// ResultKey formats the state store reference for a task result.
func ResultKey(requestID, task string) string {
	return requestID + "/" + task
}
