package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/state"
	"github.com/ShayCichocki/docweave/pkg/models"
)

var errStalled = errors.New("no runnable tasks remain")

// Result is the final outcome of driving one task graph.
type Result struct {
	RequestID string
	State     models.RequestState
	Runs      map[string]models.TaskRun
	// Outputs holds the committed output of every Succeeded task.
	Outputs map[string]models.Output
	Failure *models.FailureReport
	// Err is the request-level cause for cancelled, timed out or interrupted requests.
	Err error
}

// completion is sent by an attempt goroutine when it finishes.
type completion struct {
	task    string
	attempt int
	out     models.Output
	err     error
}

// requestRun is one request being driven by the engine.
type requestRun struct {
	id        string
	createdAt time.Time
	graph     *graph.TaskGraph
	sched     *Scheduler
	cancel    context.CancelCauseFunc
	done      chan struct{}
	log       logrus.FieldLogger

	mu        sync.Mutex
	state     models.RequestState
	updatedAt time.Time
	outputs   map[string]models.Output
	result    *Result
}

func (rr *requestRun) setOutput(task string, out models.Output) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.outputs[task] = out
}

func (rr *requestRun) setState(s models.RequestState, at time.Time) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.state = s
	rr.updatedAt = at
}

func (rr *requestRun) finish(res *Result) {
	rr.mu.Lock()
	rr.result = res
	rr.mu.Unlock()
	close(rr.done)
}

// status snapshots the run for API callers.
func (rr *requestRun) status() *models.RequestStatus {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	st := &models.RequestStatus{
		ID:        rr.id,
		Type:      rr.graph.RequestType(),
		State:     rr.state,
		Tasks:     rr.sched.Runs(),
		Order:     rr.graph.Names(),
		CreatedAt: rr.createdAt,
		UpdatedAt: rr.updatedAt,
	}
	if rr.result != nil {
		st.Failure = rr.result.Failure
		if out, ok := rr.outputs[rr.graph.Terminal()]; ok && rr.result.State == models.RequestStateSucceeded {
			st.Result = &out
		}
	}
	return st
}

// drive runs the request's graph to completion. It returns once every
// task is terminal and no attempt goroutine is still running.
func (e *Engine) drive(ctx context.Context, rr *requestRun) *Result {
	if e.policy.Timeouts.Request > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.policy.Timeouts.Request, ErrRequestTimeout)
		defer cancel()
	}

	rr.setState(models.RequestStateRunning, e.now())
	e.updateRequest(ctx, rr, models.RequestStateRunning, "")
	e.emit(Event{Type: EventRequestStarted, RequestID: rr.id, State: models.RequestStateRunning})
	rr.log.Info("request started")

	completions := make(chan completion, rr.graph.Len())
	wake := make(chan struct{}, 1)
	inflight := 0
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var abortCause error
loop:
	for {
		inflight += e.admit(ctx, rr, completions)
		if rr.sched.Done() {
			break
		}

		if next, ok := rr.sched.NextWake(); ok {
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(next.Sub(e.now()), func() {
				select {
				case wake <- struct{}{}:
				default:
				}
			})
		} else if inflight == 0 {
			// Unreachable for a valid graph; settle rather than hang.
			abortCause = errStalled
			rr.log.Error("scheduler stalled with non-terminal tasks")
			break
		}

		e.debug.Log("[%s] waiting: %d inflight", rr.id, inflight)
		select {
		case <-ctx.Done():
			abortCause = context.Cause(ctx)
			break loop
		case c := <-completions:
			inflight--
			e.complete(ctx, rr, c)
		case <-wake:
		}
	}

	if abortCause != nil {
		// Attempt contexts derive from ctx, so every in-flight attempt
		// reports promptly once ctx is done.
		for ; inflight > 0; inflight-- {
			c := <-completions
			e.debug.Log("[%s] discarding completion of %s after abort", rr.id, c.task)
		}
		for _, name := range rr.sched.Abort(abortCause) {
			e.settled(ctx, rr, name)
		}
	}

	return e.conclude(ctx, rr, abortCause)
}

// admit promotes and launches tasks until nothing more can start.
// It returns the number of attempts launched.
func (e *Engine) admit(ctx context.Context, rr *requestRun, completions chan<- completion) int {
	launched := 0
	for {
		for _, name := range rr.sched.Promote() {
			run, _ := rr.sched.Run(name)
			e.saveRun(ctx, run)
			e.emit(Event{Type: EventTaskReady, RequestID: rr.id, Task: name, TaskState: run.State})
		}
		admitted := rr.sched.Schedule()
		if len(admitted) == 0 {
			return launched
		}
		rejected := false
		for _, name := range admitted {
			if e.launch(ctx, rr, name, completions) {
				launched++
			} else {
				rejected = true
			}
		}
		if !rejected {
			return launched
		}
	}
}

// launch resolves a Running task's inputs and starts its attempt.
func (e *Engine) launch(ctx context.Context, rr *requestRun, name string, completions chan<- completion) bool {
	node, _ := rr.graph.Node(name)
	run, _ := rr.sched.Run(name)
	e.saveRun(ctx, run)

	inputs, err := e.resolveInputs(ctx, rr, node)
	if err != nil {
		rr.log.WithError(err).WithField("task", name).Error("dependency unresolved at admission")
		e.failTask(ctx, rr, name, err)
		return false
	}

	e.debug.Log("[%s] start %s attempt %d", rr.id, name, run.Attempts)
	e.emit(Event{Type: EventTaskStarted, RequestID: rr.id, Task: name, Attempt: run.Attempts, TaskState: run.State})

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.policy.Timeouts.Task
	}
	params := node.Params.Clone()
	params[models.ParamRequestID] = rr.id
	params[models.ParamTask] = name
	go e.execute(ctx, node, run.Attempts, timeout, inputs, params, completions)
	return true
}

// resolveInputs loads the committed output of every dependency. Optional
// dependencies that did not succeed resolve to a missing marker.
func (e *Engine) resolveInputs(ctx context.Context, rr *requestRun, node *graph.Node) (map[string]models.Output, error) {
	inputs := make(map[string]models.Output, len(node.Deps))
	for _, d := range node.Deps {
		run, _ := rr.sched.Run(d.Name)
		if run.State != models.TaskStateSucceeded {
			if d.Optional {
				inputs[d.Name] = models.MissingOutput(d.Name)
				continue
			}
			return nil, &DependencyUnresolvedError{Task: node.Name, Dependency: d.Name}
		}
		out, err := e.store.Get(ctx, rr.id, d.Name)
		if err != nil {
			if d.Optional && errors.Is(err, state.ErrNotFound) {
				inputs[d.Name] = models.MissingOutput(d.Name)
				continue
			}
			return nil, &DependencyUnresolvedError{Task: node.Name, Dependency: d.Name, Err: err}
		}
		inputs[d.Name] = out
	}
	return inputs, nil
}

// execute runs one attempt under its timeout and always sends exactly one
// completion. An executor that ignores cancellation is abandoned.
func (e *Engine) execute(ctx context.Context, node *graph.Node, attempt int, timeout time.Duration, inputs map[string]models.Output, params models.Params, completions chan<- completion) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out models.Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		out, err := node.Executor.Execute(attemptCtx, inputs, params)
		done <- outcome{out: out, err: err}
	}()

	c := completion{task: node.Name, attempt: attempt}
	returned := false
	select {
	case o := <-done:
		c.out, c.err = o.out, o.err
		returned = true
	case <-attemptCtx.Done():
	}

	switch {
	case returned && c.err == nil:
	case ctx.Err() != nil:
		c.err = context.Cause(ctx)
	case attemptCtx.Err() != nil:
		c.err = &TaskTimeoutError{Task: node.Name, Attempt: attempt, Timeout: timeout}
	default:
		c.err = &TaskExecutionError{Task: node.Name, Attempt: attempt, Err: c.err}
	}
	completions <- c
}

// complete handles an attempt's result: commit, retry or fail.
func (e *Engine) complete(ctx context.Context, rr *requestRun, c completion) {
	node, _ := rr.graph.Node(c.task)
	err := c.err
	if err == nil {
		err = e.commit(ctx, rr, node, c.attempt, c.out)
	}
	if err == nil {
		return
	}

	log := rr.log.WithFields(logrus.Fields{"task": c.task, "attempt": c.attempt})
	run, _ := rr.sched.Run(c.task)
	if IsRetryable(err) && run.Attempts <= node.MaxRetries {
		delay := backoff(e.policy.Retry, run.Attempts)
		if rerr := rr.sched.Retry(c.task, err, e.now().Add(delay)); rerr != nil {
			log.WithError(rerr).Error("retry transition rejected")
			return
		}
		log.WithError(err).WithField("backoff", delay).Warn("task attempt failed, retrying")
		run, _ = rr.sched.Run(c.task)
		e.saveRun(ctx, run)
		e.emit(Event{
			Type: EventTaskRetry, RequestID: rr.id, Task: c.task, Attempt: c.attempt,
			TaskState: run.State, Message: fmt.Sprintf("retry in %s", delay), Error: err.Error(),
		})
		return
	}
	e.failTask(ctx, rr, c.task, err)
}

// commit checks an output against the capability guard and stores it.
// The task becomes Succeeded only after the store accepted the output.
func (e *Engine) commit(ctx context.Context, rr *requestRun, node *graph.Node, attempt int, out models.Output) error {
	if err := e.guard.Check(node.Name, node.Capability, out); err != nil {
		return err
	}
	if len(out.Sources) == 0 {
		for _, d := range node.Deps {
			if run, _ := rr.sched.Run(d.Name); run.State == models.TaskStateSucceeded {
				out.Sources = append(out.Sources, d.Name)
			}
		}
	}
	if err := e.store.Put(ctx, rr.id, node.Name, out, e.policy.Results.TTL); err != nil {
		return &TaskExecutionError{Task: node.Name, Attempt: attempt, Err: fmt.Errorf("commit result: %w", err)}
	}
	if err := rr.sched.Succeed(node.Name, models.ResultKey(rr.id, node.Name)); err != nil {
		rr.log.WithError(err).WithField("task", node.Name).Error("success transition rejected")
		return nil
	}
	rr.setOutput(node.Name, out)

	run, _ := rr.sched.Run(node.Name)
	e.saveRun(ctx, run)
	rr.log.WithFields(logrus.Fields{"task": node.Name, "attempts": run.Attempts}).Info("task succeeded")
	e.emit(Event{Type: EventTaskSucceeded, RequestID: rr.id, Task: node.Name, Attempt: attempt, TaskState: run.State})
	return nil
}

// failTask marks a task Failed for good and records every dependent it skipped.
func (e *Engine) failTask(ctx context.Context, rr *requestRun, name string, cause error) {
	skipped, err := rr.sched.Fail(name, cause)
	if err != nil {
		rr.log.WithError(err).WithField("task", name).Error("failure propagation incomplete")
	}
	rr.log.WithError(cause).WithFields(logrus.Fields{"task": name, "skipped": len(skipped)}).Warn("task failed")
	e.settled(ctx, rr, name)
	for _, s := range skipped {
		e.settled(ctx, rr, s)
	}
}

// settled persists and announces a task that just reached Failed or Skipped.
func (e *Engine) settled(ctx context.Context, rr *requestRun, name string) {
	run, _ := rr.sched.Run(name)
	e.saveRun(ctx, run)
	typ := EventTaskFailed
	if run.State == models.TaskStateSkipped {
		typ = EventTaskSkipped
	}
	e.emit(Event{Type: typ, RequestID: rr.id, Task: name, Attempt: run.Attempts, TaskState: run.State, Error: run.Error})
}

// conclude derives and records the request outcome.
func (e *Engine) conclude(ctx context.Context, rr *requestRun, cause error) *Result {
	st, failure := rr.sched.Outcome()
	msg := ""
	if st == models.RequestStateFailed {
		switch {
		case errors.Is(cause, ErrRequestCancelled):
			st = models.RequestStateCancelled
		case errors.Is(cause, ErrEngineStopped):
			st = models.RequestStateInterrupted
		}
		if cause != nil {
			msg = cause.Error()
		} else if len(failure.RootCauses) > 0 {
			msg = "failed tasks: " + strings.Join(failure.RootCauses, ", ")
		}
	}

	rr.mu.Lock()
	outputs := make(map[string]models.Output, len(rr.outputs))
	for k, v := range rr.outputs {
		outputs[k] = v
	}
	rr.mu.Unlock()

	res := &Result{
		RequestID: rr.id,
		State:     st,
		Runs:      rr.sched.Runs(),
		Outputs:   outputs,
		Failure:   failure,
		Err:       cause,
	}

	rr.setState(st, e.now())
	e.updateRequest(ctx, rr, st, msg)
	rr.log.WithField("state", st).Info("request completed")
	e.emit(Event{Type: EventRequestCompleted, RequestID: rr.id, State: st, Error: msg})
	return res
}

// saveRun persists a run record. Persistence outlives request
// cancellation so that final states are always recorded.
func (e *Engine) saveRun(ctx context.Context, run models.TaskRun) {
	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"request_id": run.RequestID,
			"task":       run.Task,
		}).Error("save task run")
	}
}

func (e *Engine) updateRequest(ctx context.Context, rr *requestRun, st models.RequestState, msg string) {
	if err := e.store.UpdateRequestState(context.WithoutCancel(ctx), rr.id, st, msg); err != nil {
		rr.log.WithError(err).Error("update request state")
	}
}
