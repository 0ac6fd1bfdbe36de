package orchestrator

import (
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	EventRequestStarted   EventType = "request_started"
	EventTaskReady        EventType = "task_ready"
	EventTaskStarted      EventType = "task_started"
	EventTaskRetry        EventType = "task_retry"
	EventTaskSucceeded    EventType = "task_succeeded"
	EventTaskFailed       EventType = "task_failed"
	EventTaskSkipped      EventType = "task_skipped"
	EventRequestCompleted EventType = "request_completed"
)

// Event is emitted on every request and task state change.
type Event struct {
	Type      EventType           `json:"type"`
	RequestID string              `json:"request_id"`
	Task      string              `json:"task,omitempty"`
	Attempt   int                 `json:"attempt,omitempty"`
	TaskState models.TaskState    `json:"task_state,omitempty"`
	State     models.RequestState `json:"request_state,omitempty"`
	Message   string              `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
