// Package state persists request records, task runs and task results.
// Results are keyed by (request id, task name) and carry an optional expiry.
package state

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/docweave/pkg/models"
)

// ErrNotFound is returned for missing or expired keys. Stores never
// substitute a default value for a missing key.
var ErrNotFound = errors.New("not found")

// ResultStore is the key/value contract for task results.
// Put is idempotent per key: a second Put replaces the first.
type ResultStore interface {
	Put(ctx context.Context, requestID, task string, out models.Output, ttl time.Duration) error
	Get(ctx context.Context, requestID, task string) (models.Output, error)
	Exists(ctx context.Context, requestID, task string) (bool, error)
	// PurgeExpired removes results whose expiry is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	States []models.RequestState
	Type   string
	Limit  int
}

// RequestStore handles request records.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	UpdateRequestState(ctx context.Context, id string, state models.RequestState, errMsg string) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error)
	// DeleteRequest removes the request with its runs and results.
	DeleteRequest(ctx context.Context, id string) error
	// PurgeRequests deletes terminal requests last updated before cutoff,
	// together with their runs and results.
	PurgeRequests(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunStore handles task run records.
type RunStore interface {
	// SaveRun inserts or replaces the run for (RequestID, Task).
	SaveRun(ctx context.Context, run models.TaskRun) error
	ListRuns(ctx context.Context, requestID string) ([]models.TaskRun, error)
}

// Migrator handles schema migrations.
type Migrator interface {
	Migrate() error
}

// Store composes every persistence concern the engine needs.
type Store interface {
	io.Closer
	Migrator
	ResultStore
	RequestStore
	RunStore
}

// Compile-time verification that every backend implements Store.
var (
	_ Store = (*DB)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// expiry converts a ttl into an absolute expiry; zero means none.
func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl).UTC()
	return &t
}
