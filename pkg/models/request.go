package models

import "time"

// RequestState represents the lifecycle of one generation request.
type RequestState string

const (
	// RequestStatePending indicates the request was accepted but has not started.
	RequestStatePending RequestState = "pending"
	// RequestStateRunning indicates the scheduler is driving the graph.
	RequestStateRunning RequestState = "running"
	// RequestStateSucceeded indicates the assembly task succeeded.
	RequestStateSucceeded RequestState = "succeeded"
	// RequestStateFailed indicates the assembly task could not run or failed.
	RequestStateFailed RequestState = "failed"
	// RequestStateCancelled indicates the caller cancelled the request.
	RequestStateCancelled RequestState = "cancelled"
	// RequestStateInterrupted indicates the process stopped while the request was running.
	RequestStateInterrupted RequestState = "interrupted"
)

// Valid returns true if the state is a known value.
func (s RequestState) Valid() bool {
	switch s {
	case RequestStatePending, RequestStateRunning, RequestStateSucceeded,
		RequestStateFailed, RequestStateCancelled, RequestStateInterrupted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the request will make no further progress on its own.
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateSucceeded, RequestStateFailed, RequestStateCancelled:
		return true
	default:
		return false
	}
}

// Request is the durable record of a submitted request.
type Request struct {
	ID        string       `json:"id" db:"id"`
	Type      string       `json:"type" db:"type"`
	Params    Params       `json:"params" db:"-"`
	State     RequestState `json:"state" db:"state"`
	Error     string       `json:"error,omitempty" db:"error"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// FailureReport names the tasks responsible for a failed request.
type FailureReport struct {
	// RootCauses are tasks that failed on their own, in declaration order.
	RootCauses []string `json:"root_causes"`
	// Skipped are tasks that never ran because of a root cause.
	Skipped []string `json:"skipped,omitempty"`
	// Errors maps each failed task to its last error message.
	Errors map[string]string `json:"errors,omitempty"`
}

// RequestStatus is the snapshot returned to API callers.
type RequestStatus struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	State     RequestState       `json:"state"`
	Tasks     map[string]TaskRun `json:"tasks"`
	Order     []string           `json:"order"`
	Result    *Output            `json:"result,omitempty"`
	Failure   *FailureReport     `json:"failure,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Counts tallies tasks by state.
func (s RequestStatus) Counts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, run := range s.Tasks {
		counts[run.State]++
	}
	return counts
}
