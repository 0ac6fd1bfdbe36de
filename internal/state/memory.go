package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

type memResult struct {
	out       models.Output
	expiresAt *time.Time
}

func (r memResult) live(now time.Time) bool {
	return r.expiresAt == nil || r.expiresAt.After(now)
}

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	results  map[string]memResult
	requests map[string]models.Request
	runs     map[string]map[string]models.TaskRun
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:  make(map[string]memResult),
		requests: make(map[string]models.Request),
		runs:     make(map[string]map[string]models.TaskRun),
		now:      time.Now,
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Migrate is a no-op.
func (m *MemoryStore) Migrate() error { return nil }

// Put stores out under (requestID, task), replacing any previous value.
// Values are copied so callers cannot mutate stored results.
func (m *MemoryStore) Put(_ context.Context, requestID, task string, out models.Output, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[models.ResultKey(requestID, task)] = memResult{out: cloneOutput(out), expiresAt: expiry(m.now(), ttl)}
	return nil
}

// Get returns the live value, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, requestID, task string) (models.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[models.ResultKey(requestID, task)]
	if !ok || !r.live(m.now()) {
		return models.Output{}, ErrNotFound
	}
	return cloneOutput(r.out), nil
}

// Exists reports whether a live value is stored.
func (m *MemoryStore) Exists(_ context.Context, requestID, task string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[models.ResultKey(requestID, task)]
	return ok && r.live(m.now()), nil
}

// PurgeExpired removes results that expired at or before now.
func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, r := range m.results {
		if r.expiresAt != nil && !r.expiresAt.After(now) {
			delete(m.results, key)
			n++
		}
	}
	return n, nil
}

// CreateRequest stores a new request record.
func (m *MemoryStore) CreateRequest(_ context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Params = r.Params.Clone()
	m.requests[r.ID] = cp
	return nil
}

// GetRequest returns a request by ID, or ErrNotFound.
func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Params = r.Params.Clone()
	return &r, nil
}

// UpdateRequestState sets the state and error of a request.
func (m *MemoryStore) UpdateRequestState(_ context.Context, id string, state models.RequestState, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.State = state
	r.Error = errMsg
	r.UpdatedAt = m.now()
	m.requests[id] = r
	return nil
}

// ListRequests returns matching requests, newest first.
func (m *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[models.RequestState]bool, len(filter.States))
	for _, s := range filter.States {
		states[s] = true
	}

	var out []models.Request
	for _, r := range m.requests {
		if len(states) > 0 && !states[r.State] {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		r.Params = r.Params.Clone()
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteRequest removes a request with its runs and results.
func (m *MemoryStore) DeleteRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(id)
	return nil
}

// PurgeRequests deletes terminal requests last updated before cutoff.
func (m *MemoryStore) PurgeRequests(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.requests {
		if r.State.IsTerminal() && r.UpdatedAt.Before(cutoff) {
			m.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) deleteLocked(id string) {
	delete(m.requests, id)
	delete(m.runs, id)
	prefix := models.ResultKey(id, "")
	for key := range m.results {
		if strings.HasPrefix(key, prefix) {
			delete(m.results, key)
		}
	}
}

// SaveRun inserts or replaces a run.
func (m *MemoryStore) SaveRun(_ context.Context, run models.TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs, ok := m.runs[run.RequestID]
	if !ok {
		runs = make(map[string]models.TaskRun)
		m.runs[run.RequestID] = runs
	}
	runs[run.Task] = run
	return nil
}

// ListRuns returns the runs of a request ordered by task name.
func (m *MemoryStore) ListRuns(_ context.Context, requestID string) ([]models.TaskRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TaskRun
	for _, r := range m.runs[requestID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

func cloneOutput(o models.Output) models.Output {
	if o.Data != nil {
		data := make(map[string]string, len(o.Data))
		for k, v := range o.Data {
			data[k] = v
		}
		o.Data = data
	}
	o.Annotations = append([]string(nil), o.Annotations...)
	o.Sources = append([]string(nil), o.Sources...)
	if o.Passed != nil {
		p := *o.Passed
		o.Passed = &p
	}
	return o
}
