package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/guard"
)

var (
	// ErrRequestNotFound is returned for unknown request IDs.
	ErrRequestNotFound = errors.New("request not found")
	// ErrEngineStopped is returned by Submit after Stop.
	ErrEngineStopped = errors.New("engine stopped")
	// ErrRequestTimeout is the cause recorded when a whole request exceeds its deadline.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrRequestCancelled is the cause recorded when a caller cancels a request.
	ErrRequestCancelled = errors.New("request cancelled")
	// ErrNotResumable is returned when resuming a request that is still active or succeeded.
	ErrNotResumable = errors.New("request cannot be resumed")
)

// TaskTimeoutError reports an attempt that exceeded its task timeout.
// It is retryable up to the task's ceiling.
type TaskTimeoutError struct {
	Task    string
	Attempt int
	Timeout time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %q attempt %d timed out after %s", e.Task, e.Attempt, e.Timeout)
}

// TaskExecutionError wraps a failure returned by a task body.
type TaskExecutionError struct {
	Task    string
	Attempt int
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q attempt %d failed: %v", e.Task, e.Attempt, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// DependencyUnresolvedError means a task was admitted before one of its
// required inputs was available. It indicates a scheduler bug, not a
// user-facing failure, and is never retried.
type DependencyUnresolvedError struct {
	Task       string
	Dependency string
	Err        error
}

func (e *DependencyUnresolvedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %q admitted with unresolved dependency %q: %v", e.Task, e.Dependency, e.Err)
	}
	return fmt.Sprintf("task %q admitted with unresolved dependency %q", e.Task, e.Dependency)
}

func (e *DependencyUnresolvedError) Unwrap() error { return e.Err }

// IsRetryable reports whether a task failure may be retried.
// Timeouts and transient execution errors are retryable; capability
// violations, unresolved dependencies, permanent executor errors and
// request-level cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cve *guard.CapabilityViolationError
	var due *DependencyUnresolvedError
	switch {
	case errors.As(err, &cve), errors.As(err, &due):
		return false
	case graph.IsPermanent(err):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrRequestTimeout),
		errors.Is(err, ErrRequestCancelled),
		errors.Is(err, ErrEngineStopped):
		return false
	}
	var tte *TaskTimeoutError
	var tee *TaskExecutionError
	return errors.As(err, &tte) || errors.As(err, &tee)
}
