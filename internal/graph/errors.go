package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidGraph is matched by every InvalidGraphError via errors.Is.
var ErrInvalidGraph = errors.New("invalid task graph")

// Reason classifies why a graph was rejected.
type Reason string

const (
	ReasonEmpty               Reason = "empty"
	ReasonDuplicateNode       Reason = "duplicate-node"
	ReasonInvalidNode         Reason = "invalid-node"
	ReasonUnknownDependency   Reason = "unknown-dependency"
	ReasonCycle               Reason = "cycle"
	ReasonDuplicateCapability Reason = "duplicate-capability"
	ReasonTerminal            Reason = "terminal"
	ReasonUnknownRequestType  Reason = "unknown-request-type"
	ReasonUnknownExecutor     Reason = "unknown-executor"
)

// InvalidGraphError is returned when a task graph cannot be built.
// It is fatal and never retried.
type InvalidGraphError struct {
	Reason Reason
	Node   string
	Detail string
}

func (e *InvalidGraphError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("invalid task graph (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid task graph (%s) at %q: %s", e.Reason, e.Node, e.Detail)
}

// Is lets errors.Is(err, ErrInvalidGraph) match.
func (e *InvalidGraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

func invalid(reason Reason, node, format string, args ...interface{}) *InvalidGraphError {
	return &InvalidGraphError{Reason: reason, Node: node, Detail: fmt.Sprintf(format, args...)}
}

// PermanentError marks an executor failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the scheduler fails the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
