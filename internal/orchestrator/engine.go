package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/decompose"
	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/guard"
	"github.com/ShayCichocki/docweave/internal/orchestrator/policy"
	"github.com/ShayCichocki/docweave/internal/state"
	"github.com/ShayCichocki/docweave/pkg/models"
)

// Engine accepts document requests and drives each one's task graph on
// its own goroutine. Requests are isolated: each has its own scheduler,
// and results are keyed by request ID in the shared store.
type Engine struct {
	decomposer *decompose.Decomposer
	store      state.Store
	guard      *guard.Guard
	policy     *policy.Config
	log        logrus.FieldLogger
	debug      *DebugLogger
	emitter    *EventEmitter
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]*requestRun
	stopped bool
}

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	Results  int64
	Requests int64
}

// New creates an Engine. A nil store falls back to an in-memory store.
func New(dec *decompose.Decomposer, store state.Store, opts ...Option) *Engine {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := policy.Default()
	if o.policy != nil {
		cp := *o.policy
		p = &cp
	}
	if o.maxConcurrency > 0 {
		p.Scheduling.MaxConcurrency = o.maxConcurrency
	}
	p.Normalize()

	if store == nil {
		store = state.NewMemoryStore()
	}
	if o.guard == nil {
		o.guard = guard.New(guard.DefaultPolicy())
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.debug == nil {
		o.debug = &DebugLogger{}
	}
	if o.now == nil {
		o.now = time.Now
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Engine{
		decomposer: dec,
		store:      store,
		guard:      o.guard,
		policy:     p,
		log:        o.log,
		debug:      o.debug,
		emitter:    NewEventEmitter(p.Events.BufferSize, o.log),
		now:        o.now,
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]*requestRun),
	}
}

// Policy returns the effective policy.
func (e *Engine) Policy() policy.Config {
	return *e.policy
}

// Submit decomposes a request and starts driving it in the background.
// It returns the request ID, or an *graph.InvalidGraphError if the
// request cannot be decomposed. No task runs for a rejected request.
func (e *Engine) Submit(ctx context.Context, requestType string, params models.Params) (string, error) {
	if e.isStopped() {
		return "", ErrEngineStopped
	}
	if e.decomposer == nil {
		return "", fmt.Errorf("submit %s: engine has no decomposer", requestType)
	}
	g, err := e.decomposer.Decompose(requestType, params)
	if err != nil {
		return "", err
	}

	now := e.now()
	req := &models.Request{
		ID:        uuid.New().String(),
		Type:      requestType,
		Params:    params.Clone(),
		State:     models.RequestStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	rr := e.newRun(req, g)
	for _, name := range g.Names() {
		run, _ := rr.sched.Run(name)
		e.saveRun(ctx, run)
	}
	if err := e.start(rr); err != nil {
		e.updateRequest(ctx, rr, models.RequestStateInterrupted, err.Error())
		return "", err
	}
	return req.ID, nil
}

// Execute submits a request and waits for it to finish.
func (e *Engine) Execute(ctx context.Context, requestType string, params models.Params) (*models.RequestStatus, error) {
	id, err := e.Submit(ctx, requestType, params)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, id)
}

// RunGraph drives an already built graph on the caller's goroutine and
// returns the per-task outcome. Cancelling ctx aborts the request.
func (e *Engine) RunGraph(ctx context.Context, g *graph.TaskGraph, params models.Params) (*Result, error) {
	if e.isStopped() {
		return nil, ErrEngineStopped
	}
	now := e.now()
	req := &models.Request{
		ID:        uuid.New().String(),
		Type:      g.RequestType(),
		Params:    params.Clone(),
		State:     models.RequestStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	rr := e.newRun(req, g)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(e.ctx, func() { cancel(context.Cause(e.ctx)) })
	defer stop()
	rr.cancel = cancel

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		e.updateRequest(ctx, rr, models.RequestStateInterrupted, ErrEngineStopped.Error())
		return nil, ErrEngineStopped
	}
	e.active[rr.id] = rr
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	res := e.drive(runCtx, rr)
	rr.finish(res)

	e.mu.Lock()
	delete(e.active, rr.id)
	e.mu.Unlock()
	return res, nil
}

func (e *Engine) newRun(req *models.Request, g *graph.TaskGraph) *requestRun {
	return &requestRun{
		id:        req.ID,
		createdAt: req.CreatedAt,
		updatedAt: req.UpdatedAt,
		graph:     g,
		sched:     NewScheduler(req.ID, g, e.policy.Scheduling.MaxConcurrency, e.now),
		done:      make(chan struct{}),
		log:       e.log.WithFields(logrus.Fields{"request_id": req.ID, "type": req.Type}),
		state:     models.RequestStatePending,
		outputs:   make(map[string]models.Output),
	}
}

// start registers rr and drives it on a new goroutine.
func (e *Engine) start(rr *requestRun) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	ctx, cancel := context.WithCancelCause(e.ctx)
	rr.cancel = cancel
	e.active[rr.id] = rr
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer cancel(nil)

		res := e.drive(ctx, rr)
		rr.finish(res)

		e.mu.Lock()
		delete(e.active, rr.id)
		e.mu.Unlock()
	}()
	return nil
}

// GetStatus returns a snapshot of a request, live or from the store.
func (e *Engine) GetStatus(ctx context.Context, id string) (*models.RequestStatus, error) {
	if rr, ok := e.lookup(id); ok {
		return rr.status(), nil
	}

	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	runs, err := e.store.ListRuns(ctx, id)
	if err != nil {
		return nil, err
	}

	st := &models.RequestStatus{
		ID:        req.ID,
		Type:      req.Type,
		State:     req.State,
		Tasks:     make(map[string]models.TaskRun, len(runs)),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	for _, r := range runs {
		st.Tasks[r.Task] = r
	}

	// The graph is recomputed for ordering; the request type may have
	// been removed since, in which case runs are listed by name.
	var g *graph.TaskGraph
	if e.decomposer != nil {
		g, _ = e.decomposer.Decompose(req.Type, req.Params)
	}
	if g != nil {
		st.Order = g.Names()
	} else {
		for name := range st.Tasks {
			st.Order = append(st.Order, name)
		}
		sort.Strings(st.Order)
	}

	switch req.State {
	case models.RequestStateSucceeded:
		if g != nil {
			if out, err := e.store.Get(ctx, id, g.Terminal()); err == nil {
				st.Result = &out
			}
		}
	case models.RequestStateFailed, models.RequestStateCancelled, models.RequestStateInterrupted:
		st.Failure = failureFromRuns(st.Order, st.Tasks)
	}
	return st, nil
}

// failureFromRuns rebuilds a failure report from persisted runs.
func failureFromRuns(order []string, runs map[string]models.TaskRun) *models.FailureReport {
	report := &models.FailureReport{Errors: make(map[string]string)}
	for _, name := range order {
		r, ok := runs[name]
		if !ok {
			continue
		}
		switch r.State {
		case models.TaskStateFailed:
			report.RootCauses = append(report.RootCauses, name)
			report.Errors[name] = r.Error
		case models.TaskStateSkipped:
			report.Skipped = append(report.Skipped, name)
		}
	}
	return report
}

// Wait blocks until the request finishes or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string) (*models.RequestStatus, error) {
	rr, ok := e.lookup(id)
	if !ok {
		return e.GetStatus(ctx, id)
	}
	select {
	case <-rr.done:
		return rr.status(), nil
	case <-ctx.Done():
		return rr.status(), ctx.Err()
	}
}

// Cancel stops an active request. Pending tasks are skipped and running
// attempts are signalled to stop; the request ends Cancelled. Cancelling
// an inactive, unfinished request only updates its record.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if rr, ok := e.lookup(id); ok {
		rr.cancel(ErrRequestCancelled)
		return nil
	}
	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return err
	}
	if req.State.IsTerminal() {
		return nil
	}
	return e.store.UpdateRequestState(ctx, id, models.RequestStateCancelled, ErrRequestCancelled.Error())
}

// List returns stored requests matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter state.RequestFilter) ([]models.Request, error) {
	return e.store.ListRequests(ctx, filter)
}

// Resume restarts an unfinished or failed request. Tasks whose results
// are still in the store keep them; everything else runs again.
func (e *Engine) Resume(ctx context.Context, id string) error {
	if _, ok := e.lookup(id); ok {
		return fmt.Errorf("%w: %s is active", ErrNotResumable, id)
	}
	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return err
	}
	if req.State == models.RequestStateSucceeded || req.State == models.RequestStateCancelled {
		return fmt.Errorf("%w: %s is %s", ErrNotResumable, id, req.State)
	}

	if e.decomposer == nil {
		return fmt.Errorf("%w: engine has no decomposer", ErrNotResumable)
	}
	g, err := e.decomposer.Decompose(req.Type, req.Params)
	if err != nil {
		return err
	}
	runs, err := e.store.ListRuns(ctx, id)
	if err != nil {
		return err
	}

	rr := e.newRun(req, g)
	restored := 0
	for _, run := range runs {
		if run.State != models.TaskStateSucceeded {
			continue
		}
		if _, ok := g.Node(run.Task); !ok {
			continue
		}
		out, err := e.store.Get(ctx, id, run.Task)
		if err != nil {
			// Expired or never committed: run it again.
			continue
		}
		if err := rr.sched.Restore(run); err != nil {
			return err
		}
		rr.outputs[run.Task] = out
		restored++
	}
	for _, name := range g.Names() {
		run, _ := rr.sched.Run(name)
		e.saveRun(ctx, run)
	}
	rr.log.WithField("restored", restored).Info("resuming request")

	if err := e.store.UpdateRequestState(ctx, id, models.RequestStatePending, ""); err != nil {
		return err
	}
	return e.start(rr)
}

// Recover marks requests left Pending or Running by a previous process
// as Interrupted. Call it before submitting new work.
func (e *Engine) Recover(ctx context.Context) ([]models.Request, error) {
	reqs, err := state.NewRecoveryManager(e.store).MarkInterrupted(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range reqs {
		e.log.WithFields(logrus.Fields{"request_id": r.ID, "type": r.Type}).Warn("request interrupted by previous shutdown")
	}
	return reqs, nil
}

// Cleanup removes expired results and finished requests older than the
// result TTL.
func (e *Engine) Cleanup(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := e.now()
	n, err := e.store.PurgeExpired(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("purge results: %w", err)
	}
	stats.Results = n
	if ttl := e.policy.Results.TTL; ttl > 0 {
		n, err = e.store.PurgeRequests(ctx, now.Add(-ttl))
		if err != nil {
			return stats, fmt.Errorf("purge requests: %w", err)
		}
		stats.Requests = n
	}
	return stats, nil
}

// Events returns the engine's event stream. It is closed by Stop.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// DroppedEvents returns how many events were dropped on a full channel.
func (e *Engine) DroppedEvents() uint64 {
	return e.emitter.DroppedCount()
}

// Active returns the IDs of requests currently being driven.
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of active requests.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Stop interrupts every active request and waits for them to settle.
// Interrupted requests can be resumed by a later engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel(ErrEngineStopped)
	e.wg.Wait()
	e.emitter.Close()
	return e.debug.Close()
}

func (e *Engine) emit(ev Event) {
	e.emitter.Emit(ev)
}

func (e *Engine) lookup(id string) (*requestRun, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rr, ok := e.active[id]
	return rr, ok
}

func (e *Engine) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}
