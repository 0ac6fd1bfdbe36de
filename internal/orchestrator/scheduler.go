package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// allowedTransitions lists every legal task state change.
// Running -> Ready is a retry; the task waits out its backoff in Ready.
var allowedTransitions = map[models.TaskState][]models.TaskState{
	models.TaskStatePending: {models.TaskStateReady, models.TaskStateSkipped, models.TaskStateFailed},
	models.TaskStateReady:   {models.TaskStateRunning, models.TaskStateSkipped, models.TaskStateFailed},
	models.TaskStateRunning: {models.TaskStateSucceeded, models.TaskStateFailed, models.TaskStateReady},
}

func isAllowedTransition(from, to models.TaskState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	Task     string
	From, To models.TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %q: illegal transition %s -> %s", e.Task, e.From, e.To)
}

// taskEntry is the scheduler's bookkeeping for one node.
type taskEntry struct {
	node      *graph.Node
	run       models.TaskRun
	notBefore time.Time
	// rootCause is set for tasks that failed on their own.
	rootCause bool
}

// Scheduler owns the task states of a single request. It decides which
// tasks are ready and admits them under the concurrency limit. All
// methods are safe for concurrent use; only the run loop mutates it.
type Scheduler struct {
	mu             sync.RWMutex
	requestID      string
	graph          *graph.TaskGraph
	tasks          map[string]*taskEntry
	maxConcurrency int
	running        int
	now            func() time.Time
}

// NewScheduler creates a scheduler with every task Pending.
func NewScheduler(requestID string, g *graph.TaskGraph, maxConcurrency int, now func() time.Time) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		requestID:      requestID,
		graph:          g,
		tasks:          make(map[string]*taskEntry, g.Len()),
		maxConcurrency: maxConcurrency,
		now:            now,
	}
	for _, n := range g.Nodes() {
		s.tasks[n.Name] = &taskEntry{
			node: n,
			run: models.TaskRun{
				RequestID: requestID,
				Task:      n.Name,
				State:     models.TaskStatePending,
			},
		}
	}
	return s
}

// Restore marks a task Succeeded from a previous run of the same request.
// It must be called before the first Promote.
func (s *Scheduler) Restore(run models.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[run.Task]
	if !ok {
		return fmt.Errorf("restore unknown task %q", run.Task)
	}
	if e.run.State != models.TaskStatePending {
		return &TransitionError{Task: run.Task, From: e.run.State, To: models.TaskStateSucceeded}
	}
	e.run.State = models.TaskStateSucceeded
	e.run.Attempts = run.Attempts
	e.run.StartedAt = run.StartedAt
	e.run.EndedAt = run.EndedAt
	e.run.ResultRef = models.ResultKey(s.requestID, run.Task)
	e.run.Error = ""
	return nil
}

// transition moves a task between states. Callers hold mu.
func (s *Scheduler) transition(e *taskEntry, to models.TaskState) error {
	from := e.run.State
	if !isAllowedTransition(from, to) {
		return &TransitionError{Task: e.node.Name, From: from, To: to}
	}
	if from == models.TaskStateRunning {
		s.running--
	}
	if to == models.TaskStateRunning {
		s.running++
	}
	e.run.State = to
	if to.IsTerminal() {
		t := s.now()
		e.run.EndedAt = &t
	}
	return nil
}

// ready reports whether every dependency of a Pending task is settled:
// required dependencies Succeeded and optional ones in any terminal state.
func (s *Scheduler) ready(e *taskEntry) bool {
	for _, d := range e.node.Deps {
		st := s.tasks[d.Name].run.State
		if d.Optional {
			if !st.IsTerminal() {
				return false
			}
			continue
		}
		if st != models.TaskStateSucceeded {
			return false
		}
	}
	return true
}

// Promote moves every Pending task whose dependencies are settled to
// Ready and returns them in declaration order.
func (s *Scheduler) Promote() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var promoted []string
	for _, n := range s.graph.Nodes() {
		e := s.tasks[n.Name]
		if e.run.State != models.TaskStatePending || !s.ready(e) {
			continue
		}
		if err := s.transition(e, models.TaskStateReady); err == nil {
			promoted = append(promoted, n.Name)
		}
	}
	return promoted
}

// Schedule admits Ready tasks whose backoff has elapsed, earliest
// declared first, until the concurrency limit is reached. Admitted tasks
// are Running with their attempt counter incremented.
func (s *Scheduler) Schedule() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var admitted []string
	for _, n := range s.graph.Nodes() {
		if s.running >= s.maxConcurrency {
			break
		}
		e := s.tasks[n.Name]
		if e.run.State != models.TaskStateReady || now.Before(e.notBefore) {
			continue
		}
		if err := s.transition(e, models.TaskStateRunning); err != nil {
			continue
		}
		e.run.Attempts++
		e.run.Error = ""
		if e.run.StartedAt == nil {
			t := now
			e.run.StartedAt = &t
		}
		admitted = append(admitted, n.Name)
	}
	return admitted
}

// Succeed marks a Running task Succeeded with its committed result reference.
func (s *Scheduler) Succeed(task, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(task)
	if err != nil {
		return err
	}
	if err := s.transition(e, models.TaskStateSucceeded); err != nil {
		return err
	}
	e.run.ResultRef = resultRef
	e.run.Error = ""
	return nil
}

// Retry returns a Running task to Ready; it is not admitted again before notBefore.
func (s *Scheduler) Retry(task string, cause error, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(task)
	if err != nil {
		return err
	}
	if err := s.transition(e, models.TaskStateReady); err != nil {
		return err
	}
	e.notBefore = notBefore
	if cause != nil {
		e.run.Error = cause.Error()
	}
	return nil
}

// Fail marks a task Failed and skips every task that transitively
// requires it. Tasks that depend on it only optionally are left to be
// promoted once their other dependencies settle. The skipped tasks are
// returned in declaration order.
func (s *Scheduler) Fail(task string, cause error) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(task)
	if err != nil {
		return nil, err
	}
	if err := s.transition(e, models.TaskStateFailed); err != nil {
		return nil, err
	}
	e.rootCause = true
	if cause != nil {
		e.run.Error = cause.Error()
	}
	return s.propagateLocked(task)
}

func (s *Scheduler) propagateLocked(failed string) ([]string, error) {
	var skipped []string
	queue := []string{failed}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range s.graph.Dependents(cur) {
			e := s.tasks[dep]
			if !s.requires(e.node, cur) {
				continue
			}
			switch e.run.State {
			case models.TaskStatePending, models.TaskStateReady:
			case models.TaskStateSkipped:
				continue
			default:
				// A dependent can only have started after cur succeeded.
				return skipped, &TransitionError{Task: dep, From: e.run.State, To: models.TaskStateSkipped}
			}
			if err := s.transition(e, models.TaskStateSkipped); err != nil {
				return skipped, err
			}
			e.run.Error = fmt.Sprintf("upstream %q did not succeed", cur)
			skipped = append(skipped, dep)
			queue = append(queue, dep)
		}
	}
	sort.Slice(skipped, func(i, j int) bool {
		return s.tasks[skipped[i]].node.Index() < s.tasks[skipped[j]].node.Index()
	})
	return skipped, nil
}

func (s *Scheduler) requires(n *graph.Node, dep string) bool {
	for _, d := range n.Deps {
		if d.Name == dep && !d.Optional {
			return true
		}
	}
	return false
}

// Abort settles every non-terminal task: Running and Ready tasks fail
// with cause, Pending tasks are skipped. It returns the affected tasks.
func (s *Scheduler) Abort(cause error) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected []string
	for _, n := range s.graph.Nodes() {
		e := s.tasks[n.Name]
		var to models.TaskState
		switch e.run.State {
		case models.TaskStateRunning, models.TaskStateReady:
			to = models.TaskStateFailed
		case models.TaskStatePending:
			to = models.TaskStateSkipped
		default:
			continue
		}
		if err := s.transition(e, to); err != nil {
			continue
		}
		if cause != nil {
			e.run.Error = cause.Error()
		}
		affected = append(affected, n.Name)
	}
	return affected
}

// NextWake returns the earliest backoff deadline among Ready tasks held
// back by a retry delay, including deadlines that have already passed.
// It reports false while every slot is taken, since a completion will
// wake the caller first.
func (s *Scheduler) NextWake() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.running >= s.maxConcurrency {
		return time.Time{}, false
	}
	var next time.Time
	found := false
	for _, e := range s.tasks {
		if e.run.State != models.TaskStateReady || e.notBefore.IsZero() {
			continue
		}
		if !found || e.notBefore.Before(next) {
			next = e.notBefore
			found = true
		}
	}
	return next, found
}

// Done returns true once every task is terminal.
func (s *Scheduler) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.tasks {
		if !e.run.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Running returns the number of in-flight tasks.
func (s *Scheduler) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Run returns a copy of one task's run record.
func (s *Scheduler) Run(task string) (models.TaskRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[task]
	if !ok {
		return models.TaskRun{}, false
	}
	return e.run, true
}

// Runs returns copies of every run record keyed by task name.
func (s *Scheduler) Runs() map[string]models.TaskRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make(map[string]models.TaskRun, len(s.tasks))
	for name, e := range s.tasks {
		runs[name] = e.run
	}
	return runs
}

// Outcome derives the request state from the terminal task. A request
// succeeds exactly when its terminal task succeeded; otherwise the
// failure report names the root causes.
func (s *Scheduler) Outcome() (models.RequestState, *models.FailureReport) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tasks[s.graph.Terminal()].run.State == models.TaskStateSucceeded {
		return models.RequestStateSucceeded, nil
	}
	report := &models.FailureReport{Errors: make(map[string]string)}
	for _, n := range s.graph.Nodes() {
		e := s.tasks[n.Name]
		switch e.run.State {
		case models.TaskStateFailed:
			if e.rootCause {
				report.RootCauses = append(report.RootCauses, n.Name)
			}
			report.Errors[n.Name] = e.run.Error
		case models.TaskStateSkipped:
			report.Skipped = append(report.Skipped, n.Name)
		}
	}
	return models.RequestStateFailed, report
}

func (s *Scheduler) entry(task string) (*taskEntry, error) {
	e, ok := s.tasks[task]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", task)
	}
	return e, nil
}
